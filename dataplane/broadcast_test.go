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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcastSubscribe(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	registry, err := GetConnectionRegistry("ut-broadcast")
	assert.Nil(err)
	dispatcher, err := GetFanoutDispatcher(registry, "ut-broadcast")
	assert.Nil(err)
	uut, err := GetBroadcastAPI(
		newDummyStore(), &dummyFeed{watch: newDummyWatch()}, dispatcher, "ut-broadcast",
	)
	assert.Nil(err)

	subscriber := "user1@unit-test.org"

	// Case 0: invalid identity
	{
		_, _, err := uut.Subscribe(utCtxt, "not-an-email")
		assert.NotNil(err)
		assert.True(errors.Is(err, ErrInvalidIdentity))
	}

	// Case 1: first subscribe creates
	record1, created, err := uut.Subscribe(utCtxt, subscriber)
	assert.Nil(err)
	assert.True(created)
	assert.Equal(subscriber, record1.Subscriber)

	// Case 2: repeat subscribe is idempotent
	record2, created, err := uut.Subscribe(utCtxt, subscriber)
	assert.Nil(err)
	assert.False(created)
	assert.Equal(record1.CreatedAt, record2.CreatedAt)

	// Case 3: listing
	subscriptions, err := uut.Subscriptions(utCtxt, nil)
	assert.Nil(err)
	assert.Len(subscriptions, 1)
}

func TestBroadcastPublishValidation(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	registry, err := GetConnectionRegistry("ut-broadcast")
	assert.Nil(err)
	dispatcher, err := GetFanoutDispatcher(registry, "ut-broadcast")
	assert.Nil(err)
	store := newDummyStore()
	uut, err := GetBroadcastAPI(
		store, &dummyFeed{watch: newDummyWatch()}, dispatcher, "ut-broadcast",
	)
	assert.Nil(err)

	// Case 0: missing content
	{
		_, err := uut.Publish(utCtxt, "", "body", nil)
		assert.True(errors.Is(err, ErrValidation))
	}
	{
		_, err := uut.Publish(utCtxt, "title", "", nil)
		assert.True(errors.Is(err, ErrValidation))
	}

	// Case 1: malformed target
	{
		badTarget := "not-an-email"
		_, err := uut.Publish(utCtxt, "title", "body", &badTarget)
		assert.True(errors.Is(err, ErrValidation))
	}

	// Rejected publishes never reach the store
	records, err := store.RecentEvents(utCtxt, nil, 10)
	assert.Nil(err)
	assert.Empty(records)
}

func TestBroadcastPublishNoSubscribers(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	registry, err := GetConnectionRegistry("ut-broadcast")
	assert.Nil(err)
	dispatcher, err := GetFanoutDispatcher(registry, "ut-broadcast")
	assert.Nil(err)
	store := newDummyStore()
	feed := &dummyFeed{watch: newDummyWatch()}
	uut, err := GetBroadcastAPI(store, feed, dispatcher, "ut-broadcast")
	assert.Nil(err)

	// Case 0: broadcast with no subscriptions at all
	report, err := uut.Publish(utCtxt, "title", "body", nil)
	var noSubs *NoSubscribersError
	assert.True(errors.As(err, &noSubs))
	assert.Nil(noSubs.Target)
	assert.NotEmpty(report.EventID)
	assert.Equal(0, report.Attempted)

	// The event was still durably stored and announced on the feed
	records, err := store.RecentEvents(utCtxt, nil, 10)
	assert.Nil(err)
	assert.Len(records, 1)
	assert.Equal(report.EventID, records[0].ID)
	assert.Len(feed.published, 1)

	// Case 1: targeted publish to an unknown subscriber carries a sample
	existing := "user1@unit-test.org"
	_, _, err = uut.Subscribe(utCtxt, existing)
	assert.Nil(err)
	unknown := "user2@unit-test.org"
	_, err = uut.Publish(utCtxt, "title", "body", &unknown)
	assert.True(errors.As(err, &noSubs))
	assert.NotNil(noSubs.Target)
	assert.Equal(unknown, *noSubs.Target)
	assert.Len(noSubs.Sample, 1)
	assert.Equal(existing, noSubs.Sample[0].Subscriber)
}

func TestBroadcastPublishFanout(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	registry, err := GetConnectionRegistry("ut-broadcast")
	assert.Nil(err)
	dispatcher, err := GetFanoutDispatcher(registry, "ut-broadcast")
	assert.Nil(err)
	store := newDummyStore()
	uut, err := GetBroadcastAPI(
		store, &dummyFeed{watch: newDummyWatch()}, dispatcher, "ut-broadcast",
	)
	assert.Nil(err)

	online := "user1@unit-test.org"
	offline := "user2@unit-test.org"
	for _, subscriber := range []string{online, offline} {
		_, _, err := uut.Subscribe(utCtxt, subscriber)
		assert.Nil(err)
	}

	recorder := &frameRecorder{}
	registry.Register(online, NewConnectionHandle(online, recorder.record, nil))

	// Case 0: broadcast reaches the connected subscriber, skips the offline one
	report, err := uut.Publish(utCtxt, "title", "body", nil)
	assert.Nil(err)
	assert.Equal(2, report.Attempted)
	assert.Equal(1, report.Succeeded)
	assert.Equal(1, report.Failed)
	assert.Equal([]string{online}, report.Delivered)
	assert.Len(recorder.recorded(), 1)

	// Case 1: targeted publish only attempts the target
	report, err = uut.Publish(utCtxt, "title", "body", &online)
	assert.Nil(err)
	assert.Equal(1, report.Attempted)
	assert.Equal(1, report.Succeeded)
	assert.Len(recorder.recorded(), 2)

	// Case 2: clear scoped to one subscriber
	target := online
	deleted, err := uut.Clear(utCtxt, &target)
	assert.Nil(err)
	assert.Equal(int64(1), deleted)
	remaining, err := uut.Recent(utCtxt, nil, 10)
	assert.Nil(err)
	assert.Len(remaining, 1)
}
