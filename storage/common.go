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

package storage

import (
	"context"
	"errors"
	"time"
)

// ErrStorageUnavailable returned when the durable store cannot be reached.
// Callers surface this as a 500-equivalent; no automatic retry at this layer.
var ErrStorageUnavailable = errors.New("durable store unavailable")

// EventRecord a durable notification. Assigned its ID at append time and
// never mutated afterwards.
type EventRecord struct {
	// ID store assigned record ID
	ID string `json:"id"`
	// Title notification title
	Title string `json:"title"`
	// Body notification body
	Body string `json:"body"`
	// Target the target subscriber. nil means broadcast to all subscribers.
	Target *string `json:"target,omitempty"`
	// CreatedAt record creation timestamp
	CreatedAt time.Time `json:"createdAt"`
}

// SubscriptionRecord declares a subscriber is interested in receiving events
type SubscriptionRecord struct {
	// Subscriber the subscriber identity. Unique within the store.
	Subscriber string `json:"subscriber"`
	// CreatedAt record creation timestamp
	CreatedAt time.Time `json:"createdAt"`
}

// DefaultRecentLimit backlog query limit used when the caller gives none
const DefaultRecentLimit = 50

// NotificationStore durable store for notification events and subscriptions
type NotificationStore interface {
	// AppendEvent persist a new event record, returning it with assigned ID
	// and timestamp. target of nil records a broadcast event.
	AppendEvent(ctxt context.Context, title, body string, target *string) (EventRecord, error)
	// RecentEvents fetch recent event records newest first, bounded by limit
	// (DefaultRecentLimit when limit <= 0), filtered to target when non-nil
	RecentEvents(ctxt context.Context, target *string, limit int) ([]EventRecord, error)
	// ClearEvents delete event records for one subscriber, or all when target
	// is nil. Returns the number of records deleted.
	ClearEvents(ctxt context.Context, target *string) (int64, error)
	// ListSubscriptions fetch subscription records, filtered to one
	// subscriber when target is non-nil
	ListSubscriptions(ctxt context.Context, target *string) ([]SubscriptionRecord, error)
	// UpsertSubscription record a subscriber's interest. Idempotent; the
	// bool is true only when a new record was created.
	UpsertSubscription(ctxt context.Context, subscriber string) (SubscriptionRecord, bool, error)
	// Ready verify the store is reachable
	Ready(ctxt context.Context) error
	// Close release the store
	Close() error
}
