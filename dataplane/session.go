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

package dataplane

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/httpfan/common"
	"github.com/alwitt/httpfan/storage"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// seenRingCapacity how many recently emitted record IDs a session remembers.
// A record can arrive through both the dispatcher push and the session's own
// insert watch; the ring keeps the wire at one frame per record.
const seenRingCapacity = 128

// StreamSession the state machine for one subscriber connection:
// Connecting -> Replaying -> Tailing -> Closed
type StreamSession interface {
	// Run drive the session until the client disconnects, the session is
	// replaced, or the insert watch breaks
	Run(ctxt context.Context) error
}

// streamSessionImpl implements StreamSession
type streamSessionImpl struct {
	goutils.Component
	subscriber string
	wideWatch  bool
	registry   ConnectionRegistry
	store      storage.NotificationStore
	feed       EventFeed
	sink       FrameSink
	config     common.StreamSessionConfig
	wg         *sync.WaitGroup
	seen       *recentFrameRing
}

// GetStreamSession define a stream session for a subscriber. Fails with
// ErrInvalidIdentity before allocating any connection state when the
// subscriber identity is malformed. wideWatch sessions tail every insert
// instead of only the subscriber's own.
func GetStreamSession(
	subscriber string,
	wideWatch bool,
	registry ConnectionRegistry,
	store storage.NotificationStore,
	feed EventFeed,
	sink FrameSink,
	config common.StreamSessionConfig,
	validate *validator.Validate,
	wg *sync.WaitGroup,
) (StreamSession, error) {
	if err := common.ValidateSubscriberID(subscriber, validate); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	logTags := log.Fields{
		"module":     "dataplane",
		"component":  "stream-session",
		"subscriber": subscriber,
	}
	return &streamSessionImpl{
		Component:  goutils.Component{LogTags: logTags},
		subscriber: subscriber,
		wideWatch:  wideWatch,
		registry:   registry,
		store:      store,
		feed:       feed,
		sink:       sink,
		config:     config,
		wg:         wg,
		seen:       newRecentFrameRing(seenRingCapacity),
	}, nil
}

// Run drive the session to completion
func (s *streamSessionImpl) Run(ctxt context.Context) error {
	runCtxt, cancel := context.WithCancel(ctxt)
	defer cancel()

	// ------------------------------------------------------------------
	// Connecting

	egress := make(chan StreamFrame, s.config.EgressBuffer)
	handle := NewConnectionHandle(s.subscriber, func(frame StreamFrame) error {
		select {
		case egress <- frame:
			return nil
		default:
			return fmt.Errorf("egress buffer full for %s", s.subscriber)
		}
	}, cancel)
	s.registry.Register(s.subscriber, handle)
	defer s.registry.Release(s.subscriber, handle)

	greeting, err := NewConnectionFrame(s.subscriber, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := s.sink.SendFrame(greeting.Marshal()); err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Connection greeting write failed")
		return err
	}
	log.WithFields(s.LogTags).Info("Stream session established")

	// ------------------------------------------------------------------
	// Replaying

	backlog, err := s.store.RecentEvents(runCtxt, &s.subscriber, s.config.BacklogLimit)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Backlog query failed")
		s.emitErrorFrame("Backlog replay failed", err)
		return err
	}
	// The store returns newest first; the wire replays in creation order so
	// the live tail continues seamlessly from the last replayed record
	for itr := len(backlog) - 1; itr >= 0; itr-- {
		if err := s.emitRecord(backlog[itr]); err != nil {
			return err
		}
	}
	log.WithFields(s.LogTags).Debugf("Replayed %d backlog records", len(backlog))

	// ------------------------------------------------------------------
	// Tailing

	var watchTarget *string
	if !s.wideWatch {
		watchTarget = &s.subscriber
	}
	watch, err := s.feed.OpenWatch(runCtxt, watchTarget)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Unable to open insert watch")
		s.emitErrorFrame("Live tail unavailable", err)
		return err
	}
	handle.AttachWatch(watch)

	keepalive, err := common.GetIntervalTimerInstance(
		fmt.Sprintf("keepalive/%s", s.subscriber), runCtxt, s.wg,
	)
	if err != nil {
		return err
	}
	handle.AttachKeepalive(keepalive)
	if err := keepalive.Start(
		time.Second*time.Duration(s.config.KeepaliveInterval), func() error {
			ping, err := NewPingFrame(time.Now().UTC())
			if err != nil {
				return err
			}
			// A backed up egress drops the ping rather than block the timer
			select {
			case egress <- ping:
			default:
			}
			return nil
		},
	); err != nil {
		return err
	}

	log.WithFields(s.LogTags).Debug("Entering live tail")
	for {
		select {
		case <-runCtxt.Done():
			// Client disconnect, server shutdown, or replacement by a newer
			// session for the same subscriber
			log.WithFields(s.LogTags).Info("Stream session closing")
			return nil
		case frame := <-egress:
			if err := s.emitFrame(frame); err != nil {
				return err
			}
		case record := <-watch.Events():
			if err := s.emitRecord(record); err != nil {
				return err
			}
		case watchErr := <-watch.Errors():
			log.WithError(watchErr).WithFields(s.LogTags).Error(
				"Insert watch broke, closing session",
			)
			s.emitErrorFrame("Stream error", watchErr)
			return watchErr
		}
	}
}

// emitRecord write one event record as a notification frame
func (s *streamSessionImpl) emitRecord(record storage.EventRecord) error {
	frame, err := NewNotificationFrame(record)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Unable to serialize record %s", record.ID,
		)
		return err
	}
	return s.emitFrame(frame)
}

// emitFrame write one frame to the wire, suppressing records already sent
func (s *streamSessionImpl) emitFrame(frame StreamFrame) error {
	if frame.EventID != "" && !s.seen.observe(frame.EventID) {
		log.WithFields(s.LogTags).Debugf(
			"Suppressing duplicate of record %s", frame.EventID,
		)
		return nil
	}
	if err := s.sink.SendFrame(frame.Marshal()); err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Frame write failed")
		return err
	}
	return nil
}

// emitErrorFrame best-effort error frame ahead of session close
func (s *streamSessionImpl) emitErrorFrame(message string, cause error) {
	frame, err := NewErrorFrame(message, cause.Error())
	if err != nil {
		return
	}
	_ = s.sink.SendFrame(frame.Marshal())
}

// ==============================================================================

// recentFrameRing fixed-capacity FIFO of recently emitted record IDs. Only
// touched from the session goroutine.
type recentFrameRing struct {
	capacity int
	order    []string
	index    map[string]struct{}
}

// newRecentFrameRing define a recentFrameRing
func newRecentFrameRing(capacity int) *recentFrameRing {
	return &recentFrameRing{
		capacity: capacity,
		order:    make([]string, 0, capacity),
		index:    make(map[string]struct{}, capacity),
	}
}

// observe record an ID. Returns true the first time an ID is seen.
func (r *recentFrameRing) observe(id string) bool {
	if _, ok := r.index[id]; ok {
		return false
	}
	r.index[id] = struct{}{}
	r.order = append(r.order, id)
	if len(r.order) > r.capacity {
		evicted := r.order[0]
		r.order = r.order[1:]
		delete(r.index, evicted)
	}
	return true
}
