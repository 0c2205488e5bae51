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
	"database/sql"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/google/uuid"

	// pure Go SQLite driver
	_ "modernc.org/sqlite"
)

// sqliteStoreSchema store schema, applied on open. The AUTOINCREMENT seq
// gives a total append order independent of timestamp resolution.
const sqliteStoreSchema = `
CREATE TABLE IF NOT EXISTS notifications (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	title      TEXT NOT NULL,
	body       TEXT NOT NULL,
	target     TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS notifications_target_idx ON notifications(target, seq);
CREATE TABLE IF NOT EXISTS subscriptions (
	subscriber TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);`

// sqliteStore implements NotificationStore against SQLite
type sqliteStore struct {
	goutils.Component
	db *sql.DB
}

// CreateSQLiteStore define a SQLite backed NotificationStore
func CreateSQLiteStore(dbFile string, busyTimeout time.Duration) (NotificationStore, error) {
	logTags := log.Fields{
		"module": "storage", "component": "sqlite-store", "instance": dbFile,
	}
	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		dbFile, busyTimeout.Milliseconds(),
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to open %s", dbFile)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// churn under concurrent appends.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteStoreSchema); err != nil {
		log.WithError(err).WithFields(logTags).Error("Schema apply failed")
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	log.WithFields(logTags).Infof("Opened notification store %s", dbFile)
	return &sqliteStore{Component: goutils.Component{LogTags: logTags}, db: db}, nil
}

// AppendEvent persist a new event record
func (s *sqliteStore) AppendEvent(
	ctxt context.Context, title, body string, target *string,
) (EventRecord, error) {
	record := EventRecord{
		ID:        uuid.New().String(),
		Title:     title,
		Body:      body,
		Target:    target,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(
		ctxt,
		`INSERT INTO notifications (id, title, body, target, created_at) VALUES (?, ?, ?, ?, ?)`,
		record.ID, record.Title, record.Body, record.Target, record.CreatedAt.UnixNano(),
	)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Event append failed")
		return EventRecord{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	log.WithFields(s.LogTags).Debugf("Appended event %s", record.ID)
	return record, nil
}

// RecentEvents fetch recent event records newest first
func (s *sqliteStore) RecentEvents(
	ctxt context.Context, target *string, limit int,
) ([]EventRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	var rows *sql.Rows
	var err error
	if target != nil {
		rows, err = s.db.QueryContext(
			ctxt,
			`SELECT id, title, body, target, created_at FROM notifications
			 WHERE target = ? ORDER BY seq DESC LIMIT ?`,
			*target, limit,
		)
	} else {
		rows, err = s.db.QueryContext(
			ctxt,
			`SELECT id, title, body, target, created_at FROM notifications
			 ORDER BY seq DESC LIMIT ?`,
			limit,
		)
	}
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Recent events query failed")
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer func() { _ = rows.Close() }()
	results := make([]EventRecord, 0, limit)
	for rows.Next() {
		var record EventRecord
		var createdAt int64
		if err := rows.Scan(
			&record.ID, &record.Title, &record.Body, &record.Target, &createdAt,
		); err != nil {
			log.WithError(err).WithFields(s.LogTags).Error("Event row scan failed")
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		record.CreatedAt = time.Unix(0, createdAt).UTC()
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return results, nil
}

// ClearEvents delete event records for one subscriber, or all
func (s *sqliteStore) ClearEvents(ctxt context.Context, target *string) (int64, error) {
	var result sql.Result
	var err error
	if target != nil {
		result, err = s.db.ExecContext(
			ctxt, `DELETE FROM notifications WHERE target = ?`, *target,
		)
	} else {
		result, err = s.db.ExecContext(ctxt, `DELETE FROM notifications`)
	}
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Event clear failed")
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	log.WithFields(s.LogTags).Infof("Cleared %d notification records", deleted)
	return deleted, nil
}

// ListSubscriptions fetch subscription records
func (s *sqliteStore) ListSubscriptions(
	ctxt context.Context, target *string,
) ([]SubscriptionRecord, error) {
	var rows *sql.Rows
	var err error
	if target != nil {
		rows, err = s.db.QueryContext(
			ctxt,
			`SELECT subscriber, created_at FROM subscriptions WHERE subscriber = ?`,
			*target,
		)
	} else {
		rows, err = s.db.QueryContext(
			ctxt,
			`SELECT subscriber, created_at FROM subscriptions ORDER BY created_at`,
		)
	}
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Subscription query failed")
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer func() { _ = rows.Close() }()
	results := []SubscriptionRecord{}
	for rows.Next() {
		var record SubscriptionRecord
		var createdAt int64
		if err := rows.Scan(&record.Subscriber, &createdAt); err != nil {
			log.WithError(err).WithFields(s.LogTags).Error("Subscription row scan failed")
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		record.CreatedAt = time.Unix(0, createdAt).UTC()
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return results, nil
}

// UpsertSubscription record a subscriber's interest
func (s *sqliteStore) UpsertSubscription(
	ctxt context.Context, subscriber string,
) (SubscriptionRecord, bool, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(
		ctxt,
		`INSERT INTO subscriptions (subscriber, created_at) VALUES (?, ?)
		 ON CONFLICT(subscriber) DO NOTHING`,
		subscriber, now.UnixNano(),
	)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Subscription upsert failed")
		return SubscriptionRecord{}, false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return SubscriptionRecord{}, false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	// Read back the authoritative record; on conflict it keeps its original
	// creation timestamp.
	var createdAt int64
	if err := s.db.QueryRowContext(
		ctxt, `SELECT created_at FROM subscriptions WHERE subscriber = ?`, subscriber,
	).Scan(&createdAt); err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Subscription read back failed")
		return SubscriptionRecord{}, false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	record := SubscriptionRecord{
		Subscriber: subscriber, CreatedAt: time.Unix(0, createdAt).UTC(),
	}
	if inserted > 0 {
		log.WithFields(s.LogTags).Infof("New subscription for %s", subscriber)
	}
	return record, inserted > 0, nil
}

// Ready verify the store is reachable
func (s *sqliteStore) Ready(ctxt context.Context) error {
	if err := s.db.PingContext(ctxt); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Close release the store
func (s *sqliteStore) Close() error {
	log.WithFields(s.LogTags).Info("Closing notification store")
	return s.db.Close()
}
