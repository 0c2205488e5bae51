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

package management

import (
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/httpfan/common"
	"github.com/alwitt/httpfan/core"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
)

// FeedStreamManager manages the JetStream stream carrying event insert
// notifications. The stream is a transport, not the system of record, so
// retention is limits-based and bounded.
type FeedStreamManager interface {
	// EnsureFeedStream create the change feed stream if it does not exist
	EnsureFeedStream() error
	// FeedStreamInfo query info on the change feed stream. Doubles as the
	// readiness probe for the feed transport.
	FeedStreamInfo() (*nats.StreamInfo, error)
}

// feedStreamManagerImpl implements FeedStreamManager
type feedStreamManagerImpl struct {
	goutils.Component
	core     core.NatsClient
	config   common.EventFeedConfig
	validate *validator.Validate
}

// GetFeedStreamManager define FeedStreamManager
func GetFeedStreamManager(
	natsCore core.NatsClient, config common.EventFeedConfig, instance string,
) (FeedStreamManager, error) {
	logTags := log.Fields{
		"module":    "management",
		"component": "feed-stream",
		"stream":    config.StreamName,
		"instance":  instance,
	}
	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid feed stream config")
		return nil, err
	}
	return feedStreamManagerImpl{
		Component: goutils.Component{LogTags: logTags},
		core:      natsCore,
		config:    config,
		validate:  validate,
	}, nil
}

// EnsureFeedStream create the change feed stream if it does not exist
func (m feedStreamManagerImpl) EnsureFeedStream() error {
	if _, err := m.core.JetStream().StreamInfo(m.config.StreamName); err == nil {
		log.WithFields(m.LogTags).Debugf("Feed stream %s already present", m.config.StreamName)
		return nil
	}
	maxMsgs := m.config.MaxMessages
	if maxMsgs == 0 {
		maxMsgs = -1
	}
	params := nats.StreamConfig{
		Name:      m.config.StreamName,
		Subjects:  []string{fmt.Sprintf("%s.>", m.config.SubjectPrefix)},
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Minute * time.Duration(m.config.MaxAge),
		MaxMsgs:   maxMsgs,
	}
	if _, err := m.core.JetStream().AddStream(&params); err != nil {
		log.WithError(err).WithFields(m.LogTags).Errorf(
			"Unable to define feed stream %s", m.config.StreamName,
		)
		return err
	}
	log.WithFields(m.LogTags).Infof("Defined feed stream %s", m.config.StreamName)
	return nil
}

// FeedStreamInfo query info on the change feed stream
func (m feedStreamManagerImpl) FeedStreamInfo() (*nats.StreamInfo, error) {
	info, err := m.core.JetStream().StreamInfo(m.config.StreamName)
	if err != nil {
		log.WithError(err).WithFields(m.LogTags).Errorf(
			"Unable to get feed stream %s info", m.config.StreamName,
		)
	}
	return info, err
}
