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

	"github.com/alwitt/goutils"
	"github.com/alwitt/httpfan/storage"
	"github.com/apex/log"
)

// fanoutDispatcher implements Dispatcher. Delivery is best-effort and
// at-most-once; the durable record is the source of truth, so a failed push
// costs only real-time latency for that subscriber.
type fanoutDispatcher struct {
	goutils.Component
	registry ConnectionRegistry
}

// GetFanoutDispatcher define a Dispatcher against a connection registry
func GetFanoutDispatcher(
	registry ConnectionRegistry, instance string,
) (Dispatcher, error) {
	logTags := log.Fields{
		"module": "dataplane", "component": "fanout-dispatcher", "instance": instance,
	}
	return &fanoutDispatcher{
		Component: goutils.Component{LogTags: logTags}, registry: registry,
	}, nil
}

// Deliver push the event to every listed target with a live connection
func (d *fanoutDispatcher) Deliver(
	ctxt context.Context, record storage.EventRecord, targets []string,
) DeliveryReport {
	report := DeliveryReport{
		EventID:   record.ID,
		CreatedAt: record.CreatedAt,
		Delivered: []string{},
	}

	frame, err := NewNotificationFrame(record)
	if err != nil {
		// Serialization failure poisons every target equally
		log.WithError(err).WithFields(d.LogTags).Errorf(
			"Unable to serialize event %s for delivery", record.ID,
		)
		report.Attempted = len(dedupTargets(targets))
		report.Failed = report.Attempted
		return report
	}

	for _, target := range dedupTargets(targets) {
		report.Attempted++
		handle, ok := d.registry.Lookup(target)
		if !ok {
			// Offline subscriber. The record stays in the store for later
			// backlog replay.
			log.WithFields(d.LogTags).Debugf(
				"No live connection for %s, skipping push of %s", target, record.ID,
			)
			report.Failed++
			continue
		}
		if err := handle.Write(frame); err != nil {
			// Dead connection. Drop the entry only if it still holds this
			// handle; a replacement session may have taken the slot since
			// the lookup.
			log.WithError(err).WithFields(d.LogTags).Warnf(
				"Write of %s to %s failed, dropping connection", record.ID, target,
			)
			d.registry.Release(target, handle)
			report.Failed++
			continue
		}
		report.Succeeded++
		report.Delivered = append(report.Delivered, target)
	}

	log.WithFields(d.LogTags).Debugf(
		"Delivered %s: %d attempted, %d succeeded, %d failed",
		record.ID, report.Attempted, report.Succeeded, report.Failed,
	)
	return report
}

// dedupTargets drop repeated subscriber IDs, preserving first-seen order
func dedupTargets(targets []string) []string {
	seen := make(map[string]bool, len(targets))
	result := make([]string, 0, len(targets))
	for _, t := range targets {
		if !seen[t] {
			seen[t] = true
			result = append(result, t)
		}
	}
	return result
}
