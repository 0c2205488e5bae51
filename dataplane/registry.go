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
	"sync"

	"github.com/alwitt/goutils"
	"github.com/alwitt/httpfan/common"
	"github.com/apex/log"
)

// FrameWriteFunc pushes one frame toward a session's wire writer
type FrameWriteFunc func(frame StreamFrame) error

// ConnectionHandle one open outbound stream to one subscriber. Owned by the
// registry entry for that subscriber; closing stops the attached keepalive
// timer and watch feed before signaling the owning session.
type ConnectionHandle struct {
	subscriber string
	write      FrameWriteFunc
	closeCB    func()
	lock       sync.Mutex
	closed     bool
	watch      EventWatch
	keepalive  common.IntervalTimer
}

// NewConnectionHandle define a connection handle for a subscriber. closeCB
// runs exactly once, on the first Close.
func NewConnectionHandle(
	subscriber string, write FrameWriteFunc, closeCB func(),
) *ConnectionHandle {
	return &ConnectionHandle{subscriber: subscriber, write: write, closeCB: closeCB}
}

// Subscriber the owning subscriber identity
func (h *ConnectionHandle) Subscriber() string {
	return h.subscriber
}

// Write push a frame toward the subscriber's connection
func (h *ConnectionHandle) Write(frame StreamFrame) error {
	h.lock.Lock()
	if h.closed {
		h.lock.Unlock()
		return ErrSessionClosed
	}
	write := h.write
	h.lock.Unlock()
	return write(frame)
}

// AttachWatch hand the session's live feed handle to this connection
func (h *ConnectionHandle) AttachWatch(watch EventWatch) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.watch = watch
}

// AttachKeepalive hand the session's keepalive timer to this connection
func (h *ConnectionHandle) AttachKeepalive(timer common.IntervalTimer) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.keepalive = timer
}

// Close release the connection. Stops the keepalive timer and watch feed
// synchronously, then runs the close callback. Idempotent.
func (h *ConnectionHandle) Close() {
	h.lock.Lock()
	if h.closed {
		h.lock.Unlock()
		return
	}
	h.closed = true
	watch := h.watch
	keepalive := h.keepalive
	closeCB := h.closeCB
	h.lock.Unlock()
	if keepalive != nil {
		_ = keepalive.Stop()
	}
	if watch != nil {
		_ = watch.Close()
	}
	if closeCB != nil {
		closeCB()
	}
}

// ==============================================================================

// connectionRegistryImpl implements ConnectionRegistry with an in-process
// map. The registry is the only shared mutable state between sessions, so
// register / unregister are atomic swap-and-close critical sections.
type connectionRegistryImpl struct {
	goutils.Component
	lock        sync.Mutex
	connections map[string]*ConnectionHandle
}

// GetConnectionRegistry define an in-process ConnectionRegistry
func GetConnectionRegistry(instance string) (ConnectionRegistry, error) {
	logTags := log.Fields{
		"module": "dataplane", "component": "connection-registry", "instance": instance,
	}
	return &connectionRegistryImpl{
		Component:   goutils.Component{LogTags: logTags},
		connections: make(map[string]*ConnectionHandle),
	}, nil
}

// Register install the handle for a subscriber
func (r *connectionRegistryImpl) Register(subscriber string, handle *ConnectionHandle) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if prior, ok := r.connections[subscriber]; ok && prior != handle {
		// Single-writer replacement policy. The newer session wins and the
		// prior connection is closed before the swap completes.
		log.WithFields(r.LogTags).Infof(
			"Replacing existing connection for %s", subscriber,
		)
		prior.Close()
	}
	r.connections[subscriber] = handle
	log.WithFields(r.LogTags).Debugf("Registered connection for %s", subscriber)
}

// Lookup fetch the active handle for a subscriber
func (r *connectionRegistryImpl) Lookup(subscriber string) (*ConnectionHandle, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	handle, ok := r.connections[subscriber]
	return handle, ok
}

// Unregister close and remove the handle for a subscriber
func (r *connectionRegistryImpl) Unregister(subscriber string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if handle, ok := r.connections[subscriber]; ok {
		handle.Close()
		delete(r.connections, subscriber)
		log.WithFields(r.LogTags).Debugf("Unregistered connection for %s", subscriber)
	}
}

// Release close and remove the entry only if it still holds this handle
func (r *connectionRegistryImpl) Release(subscriber string, handle *ConnectionHandle) {
	r.lock.Lock()
	defer r.lock.Unlock()
	handle.Close()
	if current, ok := r.connections[subscriber]; ok && current == handle {
		delete(r.connections, subscriber)
		log.WithFields(r.LogTags).Debugf("Released connection for %s", subscriber)
	}
}

// ActiveCount number of live connections
func (r *connectionRegistryImpl) ActiveCount() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.connections)
}
