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
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func defineTestStore(t *testing.T) NotificationStore {
	store, err := CreateSQLiteStore(
		filepath.Join(t.TempDir(), "ut.db"), time.Second,
	)
	assert.Nil(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEventAppendAndRecent(t *testing.T) {
	assert := assert.New(t)
	uut := defineTestStore(t)
	utCtxt := context.Background()

	target := "user1@unit-test.org"

	// Case 0: empty store
	{
		records, err := uut.RecentEvents(utCtxt, nil, 10)
		assert.Nil(err)
		assert.Empty(records)
	}

	// Case 1: append a mix of broadcast and targeted records
	appended := []EventRecord{}
	for itr := 0; itr < 5; itr++ {
		var useTarget *string
		if itr%2 == 0 {
			useTarget = &target
		}
		record, err := uut.AppendEvent(
			utCtxt, fmt.Sprintf("title %d", itr), fmt.Sprintf("body %d", itr), useTarget,
		)
		assert.Nil(err)
		assert.NotEmpty(record.ID)
		appended = append(appended, record)
	}

	// Case 2: recent is newest first
	{
		records, err := uut.RecentEvents(utCtxt, nil, 10)
		assert.Nil(err)
		assert.Len(records, 5)
		for itr := 0; itr < 5; itr++ {
			assert.Equal(appended[4-itr].ID, records[itr].ID)
		}
	}

	// Case 3: limit is honored
	{
		records, err := uut.RecentEvents(utCtxt, nil, 2)
		assert.Nil(err)
		assert.Len(records, 2)
		assert.Equal(appended[4].ID, records[0].ID)
		assert.Equal(appended[3].ID, records[1].ID)
	}

	// Case 4: targeted query excludes broadcast records
	{
		records, err := uut.RecentEvents(utCtxt, &target, 10)
		assert.Nil(err)
		assert.Len(records, 3)
		assert.Equal(appended[4].ID, records[0].ID)
		assert.Equal(appended[2].ID, records[1].ID)
		assert.Equal(appended[0].ID, records[2].ID)
		for _, record := range records {
			assert.NotNil(record.Target)
			assert.Equal(target, *record.Target)
		}
	}

	// Case 5: unknown target sees nothing
	{
		other := "user2@unit-test.org"
		records, err := uut.RecentEvents(utCtxt, &other, 10)
		assert.Nil(err)
		assert.Empty(records)
	}
}

func TestEventClear(t *testing.T) {
	assert := assert.New(t)
	uut := defineTestStore(t)
	utCtxt := context.Background()

	target1 := "user1@unit-test.org"
	target2 := "user2@unit-test.org"

	for itr := 0; itr < 3; itr++ {
		_, err := uut.AppendEvent(utCtxt, "t", "b", &target1)
		assert.Nil(err)
	}
	_, err := uut.AppendEvent(utCtxt, "t", "b", &target2)
	assert.Nil(err)
	_, err = uut.AppendEvent(utCtxt, "t", "b", nil)
	assert.Nil(err)

	// Case 0: scoped clear only touches the target's records
	{
		deleted, err := uut.ClearEvents(utCtxt, &target1)
		assert.Nil(err)
		assert.Equal(int64(3), deleted)
		remaining, err := uut.RecentEvents(utCtxt, nil, 10)
		assert.Nil(err)
		assert.Len(remaining, 2)
	}

	// Case 1: unscoped clear removes everything
	{
		deleted, err := uut.ClearEvents(utCtxt, nil)
		assert.Nil(err)
		assert.Equal(int64(2), deleted)
		remaining, err := uut.RecentEvents(utCtxt, nil, 10)
		assert.Nil(err)
		assert.Empty(remaining)
	}

	// Case 2: clearing an empty store is a no-op
	{
		deleted, err := uut.ClearEvents(utCtxt, nil)
		assert.Nil(err)
		assert.Equal(int64(0), deleted)
	}
}

func TestSubscriptionUpsert(t *testing.T) {
	assert := assert.New(t)
	uut := defineTestStore(t)
	utCtxt := context.Background()

	subscriber := "user1@unit-test.org"

	// Case 0: first upsert creates
	record1, created, err := uut.UpsertSubscription(utCtxt, subscriber)
	assert.Nil(err)
	assert.True(created)
	assert.Equal(subscriber, record1.Subscriber)

	// Case 1: repeat upsert is a no-op keeping the original timestamp
	record2, created, err := uut.UpsertSubscription(utCtxt, subscriber)
	assert.Nil(err)
	assert.False(created)
	assert.Equal(record1.CreatedAt, record2.CreatedAt)

	// Case 2: listing
	{
		subscriptions, err := uut.ListSubscriptions(utCtxt, nil)
		assert.Nil(err)
		assert.Len(subscriptions, 1)
	}
	{
		subscriptions, err := uut.ListSubscriptions(utCtxt, &subscriber)
		assert.Nil(err)
		assert.Len(subscriptions, 1)
		assert.Equal(subscriber, subscriptions[0].Subscriber)
	}
	{
		other := "user2@unit-test.org"
		subscriptions, err := uut.ListSubscriptions(utCtxt, &other)
		assert.Nil(err)
		assert.Empty(subscriptions)
	}

	assert.Nil(uut.Ready(utCtxt))
}
