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

package apis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/alwitt/goutils"
	"github.com/alwitt/httpfan/common"
	"github.com/alwitt/httpfan/core"
	"github.com/alwitt/httpfan/dataplane"
	"github.com/alwitt/httpfan/management"
	"github.com/alwitt/httpfan/storage"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
)

// APIRestFanoutHandler REST handler for the event fan-out service
type APIRestFanoutHandler struct {
	goutils.RestAPIHandler
	broadcast     dataplane.BroadcastAPI
	registry      dataplane.ConnectionRegistry
	store         storage.NotificationStore
	feed          dataplane.EventFeed
	feedMgmt      management.FeedStreamManager
	natsClient    *core.NatsClient
	sessionConfig common.StreamSessionConfig
	validate      *validator.Validate
	baseContext   context.Context
	wg            *sync.WaitGroup
}

// GetAPIRestFanoutHandler define APIRestFanoutHandler
func GetAPIRestFanoutHandler(
	baseContext context.Context,
	broadcast dataplane.BroadcastAPI,
	registry dataplane.ConnectionRegistry,
	store storage.NotificationStore,
	feed dataplane.EventFeed,
	feedMgmt management.FeedStreamManager,
	natsClient *core.NatsClient,
	sessionConfig common.StreamSessionConfig,
	httpConfig *common.HTTPConfig,
	wg *sync.WaitGroup,
) (APIRestFanoutHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "event-fanout",
	}
	return APIRestFanoutHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		broadcast:     broadcast,
		registry:      registry,
		store:         store,
		feed:          feed,
		feedMgmt:      feedMgmt,
		natsClient:    natsClient,
		sessionConfig: sessionConfig,
		validate:      validator.New(),
		baseContext:   baseContext,
		wg:            wg,
	}, nil
}

// =======================================================================
// Publish

// PublishRequest publish request body
type PublishRequest struct {
	// Title notification title
	Title string `json:"title" validate:"required"`
	// Body notification body
	Body string `json:"body" validate:"required"`
	// Target optional target subscriber; absent means broadcast
	Target *string `json:"target,omitempty" validate:"omitempty,email"`
}

// APIRestRespDeliveryReport response wrapper for one delivery report
type APIRestRespDeliveryReport struct {
	goutils.RestAPIBaseResponse
	// Report the fan-out outcome
	Report dataplane.DeliveryReport `json:"report"`
}

// APIRestRespNoSubscribers response for a publish with no matching subscriptions
type APIRestRespNoSubscribers struct {
	goutils.RestAPIBaseResponse
	// EventID the persisted record ID; the event was still stored
	EventID string `json:"eventId"`
	// SampleSubscriptions a small sample of existing subscriptions
	SampleSubscriptions []storage.SubscriptionRecord `json:"sampleSubscriptions"`
}

// PublishEvent godoc
// @Summary Publish a notification event
// @Description Durably persist a notification event, then push it to every
// connected target subscriber. Without a target the event is broadcast to
// all subscriptions.
// @tags Fanout
// @Accept json
// @Produce json
// @Param Httpfan-Request-ID header string false "User provided request ID to match against logs"
// @Param event body PublishRequest true "Event to publish"
// @Success 200 {object} APIRestRespDeliveryReport "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {object} APIRestRespNoSubscribers "no matching subscriptions"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,404,500 {string} Httpfan-Request-ID "Request ID to match against logs"
// @Router /v1/notify [post]
func (h APIRestFanoutHandler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var request PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&request); err != nil {
		msg := "Invalid publish request"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	report, err := h.broadcast.Publish(
		r.Context(), request.Title, request.Body, request.Target,
	)
	if err != nil {
		var noSubs *dataplane.NoSubscribersError
		switch {
		case errors.As(err, &noSubs):
			log.WithFields(localLogTags).Infof(
				"Event %s stored with no matching subscriptions", report.EventID,
			)
			respCode = http.StatusNotFound
			respBody = APIRestRespNoSubscribers{
				RestAPIBaseResponse: h.GetStdRESTErrorMsg(
					r.Context(), http.StatusNotFound, noSubs.Error(), noSubs.Error(),
				),
				EventID:             report.EventID,
				SampleSubscriptions: noSubs.Sample,
			}
		case errors.Is(err, dataplane.ErrValidation):
			msg := "Invalid publish request"
			log.WithError(err).WithFields(localLogTags).Error(msg)
			respCode = http.StatusBadRequest
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		default:
			msg := "Unable to publish event"
			log.WithError(err).WithFields(localLogTags).Error(msg)
			respCode = http.StatusInternalServerError
			respBody = h.GetStdRESTErrorMsg(
				r.Context(), http.StatusInternalServerError, msg, err.Error(),
			)
		}
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespDeliveryReport{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Report: report,
	}
}

// PublishEventHandler Wrapper around PublishEvent
func (h APIRestFanoutHandler) PublishEventHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.PublishEvent(w, r)
	}
}

// =======================================================================
// Subscription management

// SubscribeRequest subscribe request body
type SubscribeRequest struct {
	// Subscriber the subscriber identity to register
	Subscriber string `json:"subscriber" validate:"required,email"`
}

// APIRestRespSubscription response wrapper for one subscription record
type APIRestRespSubscription struct {
	goutils.RestAPIBaseResponse
	// Subscription the subscription record
	Subscription storage.SubscriptionRecord `json:"subscription"`
	// NewlyCreated whether this call created the subscription
	NewlyCreated bool `json:"newlyCreated"`
}

// Subscribe godoc
// @Summary Register a subscriber
// @Description Record a subscriber's interest in receiving events. Idempotent.
// @tags Fanout
// @Accept json
// @Produce json
// @Param Httpfan-Request-ID header string false "User provided request ID to match against logs"
// @Param subscription body SubscribeRequest true "Subscriber to register"
// @Success 200 {object} APIRestRespSubscription "already subscribed"
// @Success 201 {object} APIRestRespSubscription "newly subscribed"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,201,400,500 {string} Httpfan-Request-ID "Request ID to match against logs"
// @Router /v1/notify/subscription [post]
func (h APIRestFanoutHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var request SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&request); err != nil {
		msg := "Invalid subscriber identity"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	record, created, err := h.broadcast.Subscribe(r.Context(), request.Subscriber)
	if err != nil {
		if errors.Is(err, dataplane.ErrInvalidIdentity) {
			msg := "Invalid subscriber identity"
			log.WithError(err).WithFields(localLogTags).Error(msg)
			respCode = http.StatusBadRequest
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
			return
		}
		msg := "Unable to record subscription"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		)
		return
	}

	if created {
		respCode = http.StatusCreated
	} else {
		respCode = http.StatusOK
	}
	respBody = APIRestRespSubscription{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		Subscription:        record,
		NewlyCreated:        created,
	}
}

// SubscribeHandler Wrapper around Subscribe
func (h APIRestFanoutHandler) SubscribeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Subscribe(w, r)
	}
}

// -----------------------------------------------------------------------

// APIRestRespSubscriptions response wrapper for subscription listings
type APIRestRespSubscriptions struct {
	goutils.RestAPIBaseResponse
	// Subscriptions current subscription records
	Subscriptions []storage.SubscriptionRecord `json:"subscriptions"`
}

// ListSubscriptions godoc
// @Summary List subscriptions
// @Description List current subscription records, optionally filtered to one subscriber
// @tags Fanout
// @Produce json
// @Param Httpfan-Request-ID header string false "User provided request ID to match against logs"
// @Param subscriber query string false "Filter to one subscriber identity"
// @Success 200 {object} APIRestRespSubscriptions "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,500 {string} Httpfan-Request-ID "Request ID to match against logs"
// @Router /v1/notify/subscription [get]
func (h APIRestFanoutHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	target := optionalQueryParam(r, "subscriber")
	records, err := h.broadcast.Subscriptions(r.Context(), target)
	if err != nil {
		msg := "Unable to list subscriptions"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		)
		return
	}
	respCode = http.StatusOK
	respBody = APIRestRespSubscriptions{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Subscriptions: records,
	}
}

// ListSubscriptionsHandler Wrapper around ListSubscriptions
func (h APIRestFanoutHandler) ListSubscriptionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ListSubscriptions(w, r)
	}
}

// =======================================================================
// Stored notifications

// APIRestRespEventRecords response wrapper for event record listings
type APIRestRespEventRecords struct {
	goutils.RestAPIBaseResponse
	// Events recent event records, newest first
	Events []storage.EventRecord `json:"events"`
}

// RecentEvents godoc
// @Summary Fetch recent notification events
// @Description Fetch recent stored notification events newest first,
// optionally filtered to one target subscriber
// @tags Fanout
// @Produce json
// @Param Httpfan-Request-ID header string false "User provided request ID to match against logs"
// @Param subscriber query string false "Filter to one target subscriber"
// @Param limit query integer false "Max records to return (DEFAULT: 50)"
// @Success 200 {object} APIRestRespEventRecords "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,500 {string} Httpfan-Request-ID "Request ID to match against logs"
// @Router /v1/notify [get]
func (h APIRestFanoutHandler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	target := optionalQueryParam(r, "subscriber")
	limit := 0
	if t := optionalQueryParam(r, "limit"); t != nil {
		p, err := strconv.Atoi(*t)
		if err != nil {
			msg := "Unable to parse limit"
			log.WithError(err).WithFields(localLogTags).Error(msg)
			respCode = http.StatusBadRequest
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
			return
		}
		limit = p
	}

	records, err := h.broadcast.Recent(r.Context(), target, limit)
	if err != nil {
		if errors.Is(err, dataplane.ErrInvalidIdentity) {
			msg := "Invalid subscriber identity"
			log.WithError(err).WithFields(localLogTags).Error(msg)
			respCode = http.StatusBadRequest
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
			return
		}
		msg := "Unable to fetch events"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		)
		return
	}
	respCode = http.StatusOK
	respBody = APIRestRespEventRecords{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Events: records,
	}
}

// RecentEventsHandler Wrapper around RecentEvents
func (h APIRestFanoutHandler) RecentEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.RecentEvents(w, r)
	}
}

// -----------------------------------------------------------------------

// ClearRequest clear request body
type ClearRequest struct {
	// Subscriber optional subscriber to scope the delete to
	Subscriber *string `json:"subscriber,omitempty" validate:"omitempty,email"`
}

// APIRestRespCleared response wrapper for a clear operation
type APIRestRespCleared struct {
	goutils.RestAPIBaseResponse
	// Deleted number of event records deleted
	Deleted int64 `json:"deleted"`
}

// ClearEvents godoc
// @Summary Clear stored notification events
// @Description Delete stored notification events for one subscriber, or all
// when no subscriber is given
// @tags Fanout
// @Accept json
// @Produce json
// @Param Httpfan-Request-ID header string false "User provided request ID to match against logs"
// @Param scope body ClearRequest true "Optional subscriber scope"
// @Success 200 {object} APIRestRespCleared "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,500 {string} Httpfan-Request-ID "Request ID to match against logs"
// @Router /v1/notify/clear [post]
func (h APIRestFanoutHandler) ClearEvents(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	request := ClearRequest{}
	if r.Body != nil {
		// Body is optional; an empty body clears everything
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil && err != io.EOF {
			msg := "Unable to parse request body"
			log.WithError(err).WithFields(localLogTags).Error(msg)
			respCode = http.StatusBadRequest
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
			return
		}
	}
	if err := h.validate.Struct(&request); err != nil {
		msg := "Invalid subscriber identity"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	deleted, err := h.broadcast.Clear(r.Context(), request.Subscriber)
	if err != nil {
		msg := "Unable to clear events"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		)
		return
	}
	respCode = http.StatusOK
	respBody = APIRestRespCleared{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Deleted: deleted,
	}
}

// ClearEventsHandler Wrapper around ClearEvents
func (h APIRestFanoutHandler) ClearEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ClearEvents(w, r)
	}
}

// =======================================================================
// Event stream subscription

// httpFrameSink dataplane.FrameSink against an HTTP response stream
type httpFrameSink struct {
	writer  io.Writer
	flusher http.Flusher
}

// SendFrame write one marshaled frame to the client
func (s *httpFrameSink) SendFrame(frame []byte) error {
	if _, err := s.writer.Write(frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// StreamEvents godoc
// @Summary Open a notification event stream
// @Description Establish a long lived server-sent-event session for one
// subscriber. Replays recent stored events, then tails live inserts with
// periodic keepalive frames. The stream closes on client disconnect, server
// shutdown, replacement by a newer session, or feed failure.
// @tags Fanout
// @Produce text/event-stream
// @Param Httpfan-Request-ID header string false "User provided request ID to match against logs"
// @Param subscriber query string true "Subscriber identity to stream for"
// @Param wide query boolean false "Tail all inserts instead of only this subscriber's"
// @Success 200 {string} string "event stream"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 400,500 {string} Httpfan-Request-ID "Request ID to match against logs"
// @Router /v1/notify/stream [get]
func (h APIRestFanoutHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	// Send support headers for SSE first
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", "text/event-stream")

	writeEarlyFailure := func(code int, msg string, details string) {
		resp := h.GetStdRESTErrorMsg(r.Context(), code, msg, details)
		if err := h.WriteRESTResponse(w, code, resp, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}

	subscriber := r.URL.Query().Get("subscriber")
	if subscriber == "" {
		msg := "No subscriber identity provided"
		log.WithFields(localLogTags).Error(msg)
		writeEarlyFailure(http.StatusBadRequest, msg, msg)
		return
	}
	wide := r.URL.Query().Get("wide") == "true"

	logTags := localLogTags
	logTags["subscriber"] = subscriber
	logTags["wide"] = wide

	writeFlusher, ok := w.(http.Flusher)
	if !ok {
		msg := "Streaming not supported"
		log.WithFields(logTags).Error(msg)
		writeEarlyFailure(http.StatusInternalServerError, msg, msg)
		return
	}

	session, err := dataplane.GetStreamSession(
		subscriber,
		wide,
		h.registry,
		h.store,
		h.feed,
		&httpFrameSink{writer: w, flusher: writeFlusher},
		h.sessionConfig,
		h.validate,
		h.wg,
	)
	if err != nil {
		msg := "Invalid subscriber identity"
		log.WithError(err).WithFields(logTags).Error(msg)
		writeEarlyFailure(http.StatusBadRequest, msg, err.Error())
		return
	}

	// The session ends on client disconnect or server shutdown
	runtimeCtxt, cancel := context.WithCancel(r.Context())
	defer cancel()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		select {
		case <-h.baseContext.Done():
			cancel()
		case <-runtimeCtxt.Done():
		}
	}()

	if err := session.Run(runtimeCtxt); err != nil {
		log.WithError(err).WithFields(logTags).Error("Stream session ended with failure")
		return
	}
	log.WithFields(logTags).Info("Stream session complete")
}

// StreamEventsHandler Wrapper around StreamEvents
func (h APIRestFanoutHandler) StreamEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.StreamEvents(w, r)
	}
}

// =======================================================================
// Health Checks

// Alive godoc
// @Summary For fan-out REST API liveness check
// @Description Will return success to indicate fan-out REST API module is live
// @tags Fanout
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /alive [get]
func (h APIRestFanoutHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestFanoutHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready godoc
// @Summary For fan-out REST API readiness check
// @Description Will return success if the durable store and the change feed
// transport are both reachable
// @tags Fanout
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /ready [get]
func (h APIRestFanoutHandler) Ready(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	msg := "not ready"
	if h.natsClient.NATs().Status() != nats.CONNECTED {
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, msg)
		return
	}
	if _, err := h.feedMgmt.FeedStreamInfo(); err != nil {
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		)
		return
	}
	if err := h.store.Ready(r.Context()); err != nil {
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		)
		return
	}
	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// ReadyHandler Wrapper around Ready
func (h APIRestFanoutHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}

// Write logging support
func (h APIRestFanoutHandler) Write(p []byte) (n int, err error) {
	log.WithFields(h.LogTags).Infof("%s", p)
	return len(p), nil
}

// =======================================================================

// optionalQueryParam read a single-valued optional query parameter
func optionalQueryParam(r *http.Request, name string) *string {
	values, ok := r.URL.Query()[name]
	if !ok || len(values) != 1 || values[0] == "" {
		return nil
	}
	result := values[0]
	return &result
}
