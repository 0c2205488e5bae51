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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/alwitt/goutils"
	"github.com/alwitt/httpfan/common"
	"github.com/alwitt/httpfan/core"
	"github.com/alwitt/httpfan/storage"
	"github.com/apex/log"
	"github.com/nats-io/nats.go"
)

// watchChannelDepth buffer between the feed read loop and the session loop
const watchChannelDepth = 32

// jetStreamEventFeed implements EventFeed over a JetStream stream. Insert
// announcements are published after the durable append commits, so a watch
// never reports a record before it exists in the store.
type jetStreamEventFeed struct {
	goutils.Component
	nats   core.NatsClient
	config common.EventFeedConfig
}

// GetJetStreamEventFeed define a JetStream backed EventFeed
func GetJetStreamEventFeed(
	natsClient core.NatsClient, config common.EventFeedConfig, instance string,
) (EventFeed, error) {
	logTags := log.Fields{
		"module":    "dataplane",
		"component": "js-event-feed",
		"stream":    config.StreamName,
		"instance":  instance,
	}
	return &jetStreamEventFeed{
		Component: goutils.Component{LogTags: logTags},
		nats:      natsClient,
		config:    config,
	}, nil
}

// targetToken derive a subject-safe token from a subscriber identity.
// Identities are emails; "." is a subject separator in NATS, so hash.
func targetToken(subscriber string) string {
	digest := sha256.Sum256([]byte(subscriber))
	return hex.EncodeToString(digest[:12])
}

// eventSubject subject an event record is announced on
func (f *jetStreamEventFeed) eventSubject(target *string) string {
	if target == nil {
		return fmt.Sprintf("%s.broadcast", f.config.SubjectPrefix)
	}
	return fmt.Sprintf("%s.target.%s", f.config.SubjectPrefix, targetToken(*target))
}

// watchSubject subject filter for a watch
func (f *jetStreamEventFeed) watchSubject(target *string) string {
	if target == nil {
		return fmt.Sprintf("%s.>", f.config.SubjectPrefix)
	}
	return f.eventSubject(target)
}

// PublishEvent announce a newly appended record on the feed
func (f *jetStreamEventFeed) PublishEvent(
	ctxt context.Context, record storage.EventRecord,
) error {
	subject := f.eventSubject(record.Target)
	payload, err := json.Marshal(&record)
	if err != nil {
		log.WithError(err).WithFields(f.LogTags).Errorf(
			"Unable to serialize event %s", record.ID,
		)
		return err
	}
	ack, err := f.nats.JetStream().PublishAsync(subject, payload)
	if err != nil {
		log.WithError(err).WithFields(f.LogTags).Errorf(
			"Unable to announce event %s on %s", record.ID, subject,
		)
		return err
	}
	// Wait for success, failure, or timeout
	select {
	case goodSig, ok := <-ack.Ok():
		if !ok {
			err := fmt.Errorf("reading nats.PubAckFuture OK channel failure")
			log.WithError(err).WithFields(f.LogTags).Errorf("Event announce failure")
			return err
		}
		log.WithFields(f.LogTags).Debugf(
			"Announced event %s as [%d] on %s", record.ID, goodSig.Sequence, subject,
		)
		return nil
	case txErr, ok := <-ack.Err():
		if !ok {
			err := fmt.Errorf("reading nats.PubAckFuture error channel failure")
			log.WithError(err).WithFields(f.LogTags).Errorf("Event announce failure")
			return err
		}
		return txErr
	case <-ctxt.Done():
		err := ctxt.Err()
		log.WithError(err).WithFields(f.LogTags).Errorf("Event announce timed out")
		return err
	}
}

// OpenWatch start watching inserts matching the target filter
func (f *jetStreamEventFeed) OpenWatch(
	ctxt context.Context, target *string,
) (EventWatch, error) {
	subject := f.watchSubject(target)
	logTags := log.Fields{}
	for k, v := range f.LogTags {
		logTags[k] = v
	}
	logTags["component"] = "js-event-watch"
	logTags["subject"] = subject

	// Ephemeral deliver-new-only subscription. A broken watch is not
	// resumable; the session reopens from scratch instead.
	sub, err := f.nats.JetStream().SubscribeSync(
		subject, nats.DeliverNew(), nats.AckNone(),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to open insert watch")
		return nil, err
	}

	watchCtxt, cancel := context.WithCancel(ctxt)
	watch := &jetStreamEventWatch{
		Component: goutils.Component{LogTags: logTags},
		sub:       sub,
		cancel:    cancel,
		events:    make(chan storage.EventRecord, watchChannelDepth),
		errors:    make(chan error, 1),
	}
	go watch.readLoop(watchCtxt)
	log.WithFields(logTags).Debug("Opened insert watch")
	return watch, nil
}

// jetStreamEventWatch implements EventWatch
type jetStreamEventWatch struct {
	goutils.Component
	sub       *nats.Subscription
	cancel    context.CancelFunc
	closeOnce sync.Once
	events    chan storage.EventRecord
	errors    chan error
}

// readLoop forward feed messages until the watch closes or breaks
func (w *jetStreamEventWatch) readLoop(ctxt context.Context) {
	defer log.WithFields(w.LogTags).Debug("Insert watch read loop exiting")
	for {
		msg, err := w.sub.NextMsgWithContext(ctxt)
		if err != nil {
			if ctxt.Err() != nil {
				// Normal close
				return
			}
			log.WithError(err).WithFields(w.LogTags).Error("Insert watch broke")
			select {
			case w.errors <- err:
			default:
			}
			return
		}
		var record storage.EventRecord
		if err := json.Unmarshal(msg.Data, &record); err != nil {
			log.WithError(err).WithFields(w.LogTags).Error(
				"Discarding undecodable feed message",
			)
			continue
		}
		select {
		case w.events <- record:
		case <-ctxt.Done():
			return
		}
	}
}

// Events newly appended records matching the watch filter
func (w *jetStreamEventWatch) Events() <-chan storage.EventRecord {
	return w.events
}

// Errors feed failures
func (w *jetStreamEventWatch) Errors() <-chan error {
	return w.errors
}

// Close release the watch
func (w *jetStreamEventWatch) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.cancel()
		if err = w.sub.Unsubscribe(); err != nil {
			log.WithError(err).WithFields(w.LogTags).Error("Unsubscribe failed")
		} else {
			log.WithFields(w.LogTags).Debug("Closed insert watch")
		}
	})
	return err
}
