// Copyright 2022 The httpfan Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/httpfan/apis"
	"github.com/alwitt/httpfan/common"
	"github.com/alwitt/httpfan/core"
	"github.com/alwitt/httpfan/dataplane"
	"github.com/alwitt/httpfan/management"
	"github.com/alwitt/httpfan/storage"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunFanoutServer run the event fan-out server
func RunFanoutServer(
	runTimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	natsClient *core.NatsClient,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "fanout",
		"instance":  instance,
	}

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid system config")
		return err
	}

	// The change feed stream must exist before sessions can tail it
	feedMgmt, err := management.GetFeedStreamManager(*natsClient, config.Feed, instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define feed stream manager")
		return err
	}
	if err := feedMgmt.EnsureFeedStream(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to ensure feed stream")
		return err
	}

	store, err := storage.CreateSQLiteStore(
		config.Store.DBFile, time.Millisecond*time.Duration(config.Store.BusyTimeout),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to open notification store")
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Notification store close failed")
		}
	}()

	registry, err := dataplane.GetConnectionRegistry(instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define connection registry")
		return err
	}

	feed, err := dataplane.GetJetStreamEventFeed(*natsClient, config.Feed, instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define event feed")
		return err
	}

	dispatcher, err := dataplane.GetFanoutDispatcher(registry, instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define dispatcher")
		return err
	}

	broadcast, err := dataplane.GetBroadcastAPI(store, feed, dispatcher, instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define broadcast API")
		return err
	}

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()
	httpHandler, err := apis.GetAPIRestFanoutHandler(
		localCtxt,
		broadcast,
		registry,
		store,
		feed,
		feedMgmt,
		natsClient,
		config.Fanout.Session,
		&config.Fanout.HTTPSetting,
		wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define HTTP handler")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(
		router, config.Fanout.Endpoints.PathPrefix, nil,
	)

	// Event publish and history
	notifyAPIRouter := apis.RegisterPathPrefix(
		mainRouter, "/v1/notify", map[string]http.HandlerFunc{
			"post": httpHandler.PublishEventHandler(),
			"get":  httpHandler.RecentEventsHandler(),
		},
	)

	// Event stream subscription
	_ = apis.RegisterPathPrefix(
		notifyAPIRouter, "/stream", map[string]http.HandlerFunc{
			"get": httpHandler.StreamEventsHandler(),
		},
	)

	// Subscription management
	_ = apis.RegisterPathPrefix(
		notifyAPIRouter, "/subscription", map[string]http.HandlerFunc{
			"post": httpHandler.SubscribeHandler(),
			"get":  httpHandler.ListSubscriptionsHandler(),
		},
	)

	// History clearing
	_ = apis.RegisterPathPrefix(
		notifyAPIRouter, "/clear", map[string]http.HandlerFunc{
			"post": httpHandler.ClearEventsHandler(),
		},
	)

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": httpHandler.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(httpHandler, next)
	})

	serverListen := fmt.Sprintf(
		"%s:%d", config.Fanout.HTTPSetting.Server.ListenOn,
		config.Fanout.HTTPSetting.Server.Port,
	)
	httpSrv := &http.Server{
		Addr:        serverListen,
		ReadTimeout: time.Second * time.Duration(config.Fanout.HTTPSetting.Server.ReadTimeout),
		// WriteTimeout must stay at the configured value (zero by default) or
		// the server tears down long lived event streams mid-session
		WriteTimeout: time.Second * time.Duration(config.Fanout.HTTPSetting.Server.WriteTimeout),
		IdleTimeout:  time.Second * time.Duration(config.Fanout.HTTPSetting.Server.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
