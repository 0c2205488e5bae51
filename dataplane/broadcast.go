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

	"github.com/alwitt/goutils"
	"github.com/alwitt/httpfan/common"
	"github.com/alwitt/httpfan/storage"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// subscriptionSampleSize how many existing subscriptions a NoSubscribers
// result carries for diagnostics
const subscriptionSampleSize = 5

// BroadcastAPI the publish / subscribe ingress of the fan-out core
type BroadcastAPI interface {
	// Subscribe register a subscriber as interested in events. Idempotent;
	// the bool is true only when the subscription is newly created.
	Subscribe(ctxt context.Context, subscriber string) (storage.SubscriptionRecord, bool, error)
	// Publish persist a new event and push it to every connected target.
	// target of nil broadcasts to all subscriptions. Returns a
	// NoSubscribersError when no subscription matches; the event is still
	// durably stored in that case.
	Publish(ctxt context.Context, title, body string, target *string) (DeliveryReport, error)
	// Recent fetch recent event records, newest first
	Recent(ctxt context.Context, target *string, limit int) ([]storage.EventRecord, error)
	// Subscriptions list current subscription records
	Subscriptions(ctxt context.Context, target *string) ([]storage.SubscriptionRecord, error)
	// Clear delete event records for one subscriber, or all
	Clear(ctxt context.Context, target *string) (int64, error)
}

// broadcastAPIImpl implements BroadcastAPI
type broadcastAPIImpl struct {
	goutils.Component
	store      storage.NotificationStore
	feed       EventFeed
	dispatcher Dispatcher
	validate   *validator.Validate
}

// GetBroadcastAPI define BroadcastAPI
func GetBroadcastAPI(
	store storage.NotificationStore,
	feed EventFeed,
	dispatcher Dispatcher,
	instance string,
) (BroadcastAPI, error) {
	logTags := log.Fields{
		"module": "dataplane", "component": "broadcast-api", "instance": instance,
	}
	return &broadcastAPIImpl{
		Component:  goutils.Component{LogTags: logTags},
		store:      store,
		feed:       feed,
		dispatcher: dispatcher,
		validate:   validator.New(),
	}, nil
}

// Subscribe register a subscriber as interested in events
func (b *broadcastAPIImpl) Subscribe(
	ctxt context.Context, subscriber string,
) (storage.SubscriptionRecord, bool, error) {
	if err := common.ValidateSubscriberID(subscriber, b.validate); err != nil {
		return storage.SubscriptionRecord{}, false, fmt.Errorf(
			"%w: %v", ErrInvalidIdentity, err,
		)
	}
	return b.store.UpsertSubscription(ctxt, subscriber)
}

// Publish persist a new event and push it to every connected target
func (b *broadcastAPIImpl) Publish(
	ctxt context.Context, title, body string, target *string,
) (DeliveryReport, error) {
	if err := common.ValidateNotificationContent(title, body, b.validate); err != nil {
		return DeliveryReport{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if target != nil {
		if err := common.ValidateSubscriberID(*target, b.validate); err != nil {
			return DeliveryReport{}, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	// Durable append first; the live push is an optimization on top of it
	record, err := b.store.AppendEvent(ctxt, title, body, target)
	if err != nil {
		log.WithError(err).WithFields(b.LogTags).Error("Event append failed")
		return DeliveryReport{}, err
	}

	// Announce on the change feed so tailing sessions in other processes
	// sharing the store still observe the insert
	if err := b.feed.PublishEvent(ctxt, record); err != nil {
		log.WithError(err).WithFields(b.LogTags).Warnf(
			"Feed announce of %s failed, continuing with direct push", record.ID,
		)
	}

	subscriptions, err := b.store.ListSubscriptions(ctxt, target)
	if err != nil {
		log.WithError(err).WithFields(b.LogTags).Error("Subscription resolve failed")
		return DeliveryReport{EventID: record.ID, CreatedAt: record.CreatedAt}, err
	}
	if len(subscriptions) == 0 {
		sample, sampleErr := b.store.ListSubscriptions(ctxt, nil)
		if sampleErr != nil {
			sample = nil
		}
		if len(sample) > subscriptionSampleSize {
			sample = sample[:subscriptionSampleSize]
		}
		log.WithFields(b.LogTags).Infof(
			"Event %s persisted with no matching subscriptions", record.ID,
		)
		return DeliveryReport{
			EventID: record.ID, CreatedAt: record.CreatedAt, Delivered: []string{},
		}, &NoSubscribersError{Target: target, Sample: sample}
	}

	targets := make([]string, 0, len(subscriptions))
	for _, sub := range subscriptions {
		targets = append(targets, sub.Subscriber)
	}
	return b.dispatcher.Deliver(ctxt, record, targets), nil
}

// Recent fetch recent event records, newest first
func (b *broadcastAPIImpl) Recent(
	ctxt context.Context, target *string, limit int,
) ([]storage.EventRecord, error) {
	if target != nil {
		if err := common.ValidateSubscriberID(*target, b.validate); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
		}
	}
	return b.store.RecentEvents(ctxt, target, limit)
}

// Subscriptions list current subscription records
func (b *broadcastAPIImpl) Subscriptions(
	ctxt context.Context, target *string,
) ([]storage.SubscriptionRecord, error) {
	return b.store.ListSubscriptions(ctxt, target)
}

// Clear delete event records for one subscriber, or all
func (b *broadcastAPIImpl) Clear(ctxt context.Context, target *string) (int64, error) {
	if target != nil {
		if err := common.ValidateSubscriberID(*target, b.validate); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
		}
	}
	return b.store.ClearEvents(ctxt, target)
}
