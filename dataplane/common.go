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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alwitt/httpfan/storage"
)

// ErrInvalidIdentity returned when a subscriber identity is missing or
// malformed. A stream session rejected with this never allocated state.
var ErrInvalidIdentity = errors.New("missing or malformed subscriber identity")

// ErrValidation returned when a publish request carries unusable content
var ErrValidation = errors.New("publish request rejected")

// ErrSessionClosed returned on writes against a closed connection handle
var ErrSessionClosed = errors.New("stream session closed")

// NoSubscribersError informational result of publishing with no matching
// subscription records. The event record was still durably persisted.
type NoSubscribersError struct {
	// Target the requested target, nil for broadcast
	Target *string
	// Sample a small sample of existing subscriptions for diagnostics
	Sample []storage.SubscriptionRecord
}

// Error implement error
func (e *NoSubscribersError) Error() string {
	if e.Target != nil {
		return fmt.Sprintf("no subscriptions found for %s", *e.Target)
	}
	return "no subscriptions found"
}

// ==============================================================================
// Wire framing

// Event stream frame types used by the fan-out core
const (
	// FrameTypeConnection announces an established stream session
	FrameTypeConnection = "connection"
	// FrameTypeNotification carries one event record
	FrameTypeNotification = "notification"
	// FrameTypePing keepalive frame
	FrameTypePing = "ping"
	// FrameTypeError terminal frame sent before closing on feed failure
	FrameTypeError = "error"
)

// StreamFrame one text-event-stream frame
type StreamFrame struct {
	// Event the frame type
	Event string
	// EventID for notification frames, the record ID. Used by sessions to
	// suppress the same record arriving through both live delivery paths.
	EventID string
	// Data serialized JSON payload
	Data []byte
}

// Marshal render the frame in text-event-stream wire form
func (f StreamFrame) Marshal() []byte {
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", f.Event, f.Data))
}

// connectionAnnouncement payload of a connection frame
type connectionAnnouncement struct {
	Message      string    `json:"message"`
	SubscriberID string    `json:"subscriberId"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewConnectionFrame define the frame announcing an established session
func NewConnectionFrame(subscriber string, timestamp time.Time) (StreamFrame, error) {
	payload, err := json.Marshal(&connectionAnnouncement{
		Message:      "Event stream connection established",
		SubscriberID: subscriber,
		Timestamp:    timestamp,
	})
	if err != nil {
		return StreamFrame{}, err
	}
	return StreamFrame{Event: FrameTypeConnection, Data: payload}, nil
}

// NewNotificationFrame define the frame carrying one event record
func NewNotificationFrame(record storage.EventRecord) (StreamFrame, error) {
	payload, err := json.Marshal(&record)
	if err != nil {
		return StreamFrame{}, err
	}
	return StreamFrame{
		Event: FrameTypeNotification, EventID: record.ID, Data: payload,
	}, nil
}

// pingPayload payload of a keepalive frame
type pingPayload struct {
	Time time.Time `json:"time"`
}

// NewPingFrame define a keepalive frame
func NewPingFrame(timestamp time.Time) (StreamFrame, error) {
	payload, err := json.Marshal(&pingPayload{Time: timestamp})
	if err != nil {
		return StreamFrame{}, err
	}
	return StreamFrame{Event: FrameTypePing, Data: payload}, nil
}

// errorPayload payload of an error frame
type errorPayload struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// NewErrorFrame define the terminal frame sent before closing a session
func NewErrorFrame(message, details string) (StreamFrame, error) {
	payload, err := json.Marshal(&errorPayload{Error: message, Details: details})
	if err != nil {
		return StreamFrame{}, err
	}
	return StreamFrame{Event: FrameTypeError, Data: payload}, nil
}

// ==============================================================================
// Component contracts

// FrameSink where a stream session writes wire frames. The REST layer backs
// this with the HTTP response writer and flusher.
type FrameSink interface {
	// SendFrame write one marshaled frame to the client
	SendFrame(frame []byte) error
}

// ConnectionRegistry tracks the one active connection handle per subscriber
type ConnectionRegistry interface {
	// Register install the handle for a subscriber. An existing handle for
	// the same subscriber is closed synchronously before replacement.
	Register(subscriber string, handle *ConnectionHandle)
	// Lookup fetch the active handle for a subscriber
	Lookup(subscriber string) (*ConnectionHandle, bool)
	// Unregister close and remove the handle for a subscriber. Idempotent.
	Unregister(subscriber string)
	// Release close and remove the entry only if it still holds this exact
	// handle. Used by session teardown so a replaced session cannot evict
	// its replacement.
	Release(subscriber string, handle *ConnectionHandle)
	// ActiveCount number of live connections
	ActiveCount() int
}

// EventWatch one open change feed subscription. Infinite; restart by
// reopening. A broken feed surfaces on Errors, never as normal completion.
type EventWatch interface {
	// Events newly appended records matching the watch filter
	Events() <-chan storage.EventRecord
	// Errors feed failures. Receiving one means the watch is dead.
	Errors() <-chan error
	// Close release the watch. Idempotent.
	Close() error
}

// EventFeed the change-notification side of the event source
type EventFeed interface {
	// PublishEvent announce a newly appended record on the feed
	PublishEvent(ctxt context.Context, record storage.EventRecord) error
	// OpenWatch start watching inserts. A nil target watches all inserts;
	// otherwise only records targeted at exactly that subscriber.
	OpenWatch(ctxt context.Context, target *string) (EventWatch, error)
}

// DeliveryReport per-publish fan-out outcome. Succeeded always means the
// frame was written to a live connection.
type DeliveryReport struct {
	// EventID the persisted record ID
	EventID string `json:"eventId,omitempty"`
	// CreatedAt the persisted record timestamp
	CreatedAt time.Time `json:"createdAt,omitempty"`
	// Attempted number of distinct targets processed
	Attempted int `json:"attempted"`
	// Succeeded number of targets whose connection took the frame
	Succeeded int `json:"succeeded"`
	// Failed number of targets offline or with a dead connection
	Failed int `json:"failed"`
	// Delivered the subscriber IDs which received the frame
	Delivered []string `json:"delivered"`
}

// Dispatcher fans one event out to its target subscriber set
type Dispatcher interface {
	// Deliver push the event to every listed target with a live connection.
	// Per-target failures are isolated; the call itself never fails.
	Deliver(
		ctxt context.Context, record storage.EventRecord, targets []string,
	) DeliveryReport
}
