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
	"testing"
	"time"

	"github.com/alwitt/httpfan/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// frameRecorder collects frames pushed through a connection handle
type frameRecorder struct {
	lock   sync.Mutex
	frames []StreamFrame
}

func (r *frameRecorder) record(frame StreamFrame) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.frames = append(r.frames, frame)
	return nil
}

func (r *frameRecorder) recorded() []StreamFrame {
	r.lock.Lock()
	defer r.lock.Unlock()
	result := make([]StreamFrame, len(r.frames))
	copy(result, r.frames)
	return result
}

func testEventRecord(target *string) storage.EventRecord {
	return storage.EventRecord{
		ID:        uuid.New().String(),
		Title:     "unit test",
		Body:      "unit test body",
		Target:    target,
		CreatedAt: time.Now().UTC(),
	}
}

func TestFanoutDispatcherDelivery(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	registry, err := GetConnectionRegistry("ut-dispatch")
	assert.Nil(err)
	uut, err := GetFanoutDispatcher(registry, "ut-dispatch")
	assert.Nil(err)

	// Three connected subscribers, one offline
	connected := []string{
		"user1@unit-test.org", "user2@unit-test.org", "user3@unit-test.org",
	}
	recorders := map[string]*frameRecorder{}
	for _, subscriber := range connected {
		recorder := &frameRecorder{}
		recorders[subscriber] = recorder
		registry.Register(subscriber, NewConnectionHandle(subscriber, recorder.record, nil))
	}
	offline := "user4@unit-test.org"

	record := testEventRecord(nil)
	targets := append(append([]string{}, connected...), offline)
	report := uut.Deliver(utCtxt, record, targets)

	// Case 0: report counts
	assert.Equal(record.ID, report.EventID)
	assert.Equal(4, report.Attempted)
	assert.Equal(3, report.Succeeded)
	assert.Equal(1, report.Failed)
	assert.Equal(connected, report.Delivered)

	// Case 1: each connected subscriber saw exactly one notification frame
	for _, subscriber := range connected {
		frames := recorders[subscriber].recorded()
		assert.Len(frames, 1)
		assert.Equal(FrameTypeNotification, frames[0].Event)
		assert.Equal(record.ID, frames[0].EventID)
	}
}

func TestFanoutDispatcherOrderPreservation(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	registry, err := GetConnectionRegistry("ut-dispatch")
	assert.Nil(err)
	uut, err := GetFanoutDispatcher(registry, "ut-dispatch")
	assert.Nil(err)

	subscriber := "user1@unit-test.org"
	recorder := &frameRecorder{}
	registry.Register(subscriber, NewConnectionHandle(subscriber, recorder.record, nil))

	// Sequential deliveries reach the connection in call order
	sent := []storage.EventRecord{}
	for itr := 0; itr < 3; itr++ {
		record := testEventRecord(&subscriber)
		sent = append(sent, record)
		report := uut.Deliver(utCtxt, record, []string{subscriber})
		assert.Equal(1, report.Succeeded)
	}
	frames := recorder.recorded()
	assert.Len(frames, 3)
	for itr, frame := range frames {
		assert.Equal(sent[itr].ID, frame.EventID)
	}
}

func TestFanoutDispatcherTargetDedup(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	registry, err := GetConnectionRegistry("ut-dispatch")
	assert.Nil(err)
	uut, err := GetFanoutDispatcher(registry, "ut-dispatch")
	assert.Nil(err)

	subscriber := "user1@unit-test.org"
	recorder := &frameRecorder{}
	registry.Register(subscriber, NewConnectionHandle(subscriber, recorder.record, nil))

	record := testEventRecord(&subscriber)
	report := uut.Deliver(
		utCtxt, record, []string{subscriber, subscriber, subscriber},
	)

	// Repeated targets collapse to one attempt and one frame
	assert.Equal(1, report.Attempted)
	assert.Equal(1, report.Succeeded)
	assert.Equal(0, report.Failed)
	assert.Len(recorder.recorded(), 1)
}

func TestFanoutDispatcherDeadConnection(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	registry, err := GetConnectionRegistry("ut-dispatch")
	assert.Nil(err)
	uut, err := GetFanoutDispatcher(registry, "ut-dispatch")
	assert.Nil(err)

	healthy := "user1@unit-test.org"
	broken := "user2@unit-test.org"

	recorder := &frameRecorder{}
	registry.Register(healthy, NewConnectionHandle(healthy, recorder.record, nil))
	registry.Register(broken, NewConnectionHandle(broken, func(frame StreamFrame) error {
		return fmt.Errorf("dummy write failure")
	}, nil))
	assert.Equal(2, registry.ActiveCount())

	record := testEventRecord(nil)
	report := uut.Deliver(utCtxt, record, []string{healthy, broken})

	// Case 0: the dead connection counts as failed and is dropped
	assert.Equal(2, report.Attempted)
	assert.Equal(1, report.Succeeded)
	assert.Equal(1, report.Failed)
	assert.Equal([]string{healthy}, report.Delivered)
	assert.Equal(1, registry.ActiveCount())
	{
		_, ok := registry.Lookup(broken)
		assert.False(ok)
	}

	// Case 1: a later delivery only reaches the survivor
	report = uut.Deliver(utCtxt, testEventRecord(nil), []string{healthy, broken})
	assert.Equal(1, report.Succeeded)
	assert.Equal(1, report.Failed)
	assert.Len(recorder.recorded(), 2)
}

func TestFanoutDispatcherStaleHandleCleanup(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	registry, err := GetConnectionRegistry("ut-dispatch")
	assert.Nil(err)
	uut, err := GetFanoutDispatcher(registry, "ut-dispatch")
	assert.Nil(err)

	subscriber := "user1@unit-test.org"

	// The stale connection's write fails only after a replacement session
	// has taken the registry slot for the same subscriber
	recorder := &frameRecorder{}
	replacement := NewConnectionHandle(subscriber, recorder.record, nil)
	stale := NewConnectionHandle(subscriber, func(frame StreamFrame) error {
		registry.Register(subscriber, replacement)
		return ErrSessionClosed
	}, nil)
	registry.Register(subscriber, stale)

	report := uut.Deliver(utCtxt, testEventRecord(&subscriber), []string{subscriber})
	assert.Equal(1, report.Attempted)
	assert.Equal(0, report.Succeeded)
	assert.Equal(1, report.Failed)

	// Cleanup of the stale handle must not evict the replacement
	fetched, ok := registry.Lookup(subscriber)
	assert.True(ok)
	assert.Equal(replacement, fetched)
	assert.Equal(1, registry.ActiveCount())
	assert.Nil(replacement.Write(StreamFrame{}))

	// The next delivery reaches the replacement
	record := testEventRecord(&subscriber)
	report = uut.Deliver(utCtxt, record, []string{subscriber})
	assert.Equal(1, report.Succeeded)
	frames := recorder.recorded()
	assert.Len(frames, 1)
	assert.Equal(record.ID, frames[0].EventID)
}
