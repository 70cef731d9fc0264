// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite provides a SQLite storage backend for single-node
// deployments: one row per instance, one row per (instance, step)
// checkpoint, one row per pending event.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	workflowerrors "github.com/codehz/workflow/pkg/errors"
	"github.com/codehz/workflow/storage"
	_ "modernc.org/sqlite"
)

// Compile-time interface assertions.
var (
	_ storage.InstanceStore = (*Backend)(nil)
	_ storage.StepStore     = (*Backend)(nil)
	_ storage.EventStore    = (*Backend)(nil)
	_ storage.Store         = (*Backend)(nil)
)

// Backend is a SQLite storage backend.
type Backend struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path (use ":memory:" for an ephemeral DB).
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New creates a new SQLite backend, configuring pragmas and running
// migrations before returning.
func New(cfg Config) (*Backend, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite serializes writes; one connection avoids SQLITE_BUSY storms.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	b := &Backend{db: db}

	if err := b.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure pragmas: %w", err)
	}

	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return b, nil
}

func (b *Backend) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := b.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (b *Backend) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			event_payload TEXT,
			event_timestamp TEXT,
			output TEXT,
			error TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_instances_status ON instances(status)`,
		`CREATE TABLE IF NOT EXISTS step_states (
			instance_id TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			retries INTEGER DEFAULT 0,
			retry_end_time TEXT,
			result TEXT,
			error TEXT,
			sleep_end_time TEXT,
			wait_event_type TEXT,
			wait_timeout INTEGER DEFAULT 0,
			PRIMARY KEY (instance_id, name),
			FOREIGN KEY (instance_id) REFERENCES instances(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS pending_events (
			instance_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT,
			PRIMARY KEY (instance_id, event_type),
			FOREIGN KEY (instance_id) REFERENCES instances(id) ON DELETE CASCADE
		)`,
	}

	for _, migration := range migrations {
		if _, err := b.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveInstance writes a new record.
func (b *Backend) SaveInstance(ctx context.Context, id string, rec *storage.Instance) error {
	var eventPayloadJSON, outputJSON []byte
	var err error

	if rec.Event != nil {
		if eventPayloadJSON, err = json.Marshal(rec.Event.Payload); err != nil {
			return storageErr("marshal event payload", err)
		}
	}
	if outputJSON, err = json.Marshal(rec.Output); err != nil {
		return storageErr("marshal output", err)
	}

	now := time.Now()
	eventTimestamp := ""
	if rec.Event != nil {
		eventTimestamp = rec.Event.Timestamp.Format(time.RFC3339)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO instances (id, status, event_payload, event_timestamp, output, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, string(rec.Status), nullBytes(eventPayloadJSON), nullString(eventTimestamp),
		string(outputJSON), nullString(rec.Error), now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return storageErr("insert instance", err)
	}
	return nil
}

// UpdateInstance merge-patches an existing record.
func (b *Backend) UpdateInstance(ctx context.Context, id string, patch storage.InstancePatch) error {
	existing, err := b.LoadInstance(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return &workflowerrors.NotFoundError{Resource: "instance", ID: id}
	}

	status := existing.Status
	if patch.Status != nil {
		status = *patch.Status
	}
	output := existing.Output
	if patch.Output != nil {
		output = patch.Output
	}
	if patch.ClearOutput {
		output = nil
	}
	errMsg := existing.Error
	if patch.Error != nil {
		errMsg = *patch.Error
	}
	if patch.ClearError {
		errMsg = ""
	}

	outputJSON, err := json.Marshal(output)
	if err != nil {
		return storageErr("marshal output", err)
	}

	now := time.Now()
	result, err := b.db.ExecContext(ctx, `
		UPDATE instances SET status = ?, output = ?, error = ?, updated_at = ?
		WHERE id = ?
	`, string(status), string(outputJSON), nullString(errMsg), now.Format(time.RFC3339), id)
	if err != nil {
		return storageErr("update instance", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return &workflowerrors.NotFoundError{Resource: "instance", ID: id}
	}
	return nil
}

// LoadInstance returns the full record, or nil if absent or missing Event.
func (b *Backend) LoadInstance(ctx context.Context, id string) (*storage.Instance, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT status, event_payload, event_timestamp, output, error, created_at, updated_at
		FROM instances WHERE id = ?
	`, id)

	var status string
	var eventPayloadJSON, eventTimestamp, outputJSON, errMsg, createdAt, updatedAt sql.NullString

	err := row.Scan(&status, &eventPayloadJSON, &eventTimestamp, &outputJSON, &errMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("load instance", err)
	}

	if !eventTimestamp.Valid || eventTimestamp.String == "" {
		// No Event means the record is treated as nonexistent (invariant i).
		return nil, nil
	}

	rec := &storage.Instance{ID: id, Status: storage.Status(status)}
	ts, _ := time.Parse(time.RFC3339, eventTimestamp.String)
	event := &storage.Event{InstanceID: id, Timestamp: ts}
	if eventPayloadJSON.Valid && eventPayloadJSON.String != "" {
		if err := json.Unmarshal([]byte(eventPayloadJSON.String), &event.Payload); err != nil {
			return nil, storageErr("unmarshal event payload", err)
		}
	}
	rec.Event = event

	if outputJSON.Valid && outputJSON.String != "" && outputJSON.String != "null" {
		if err := json.Unmarshal([]byte(outputJSON.String), &rec.Output); err != nil {
			return nil, storageErr("unmarshal output", err)
		}
	}
	if errMsg.Valid {
		rec.Error = errMsg.String
	}
	if createdAt.Valid {
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt.String)
	}
	if updatedAt.Valid {
		rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt.String)
	}

	return rec, nil
}

// DeleteInstance removes the record and all of its step checkpoints and
// pending events (cascaded by foreign key).
func (b *Backend) DeleteInstance(ctx context.Context, id string) error {
	if _, err := b.db.ExecContext(ctx, "DELETE FROM instances WHERE id = ?", id); err != nil {
		return storageErr("delete instance", err)
	}
	return nil
}

// ListInstanceSummaries returns {id, status} for every known instance.
func (b *Backend) ListInstanceSummaries(ctx context.Context) ([]storage.InstanceSummary, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT id, status FROM instances")
	if err != nil {
		return nil, storageErr("list instance summaries", err)
	}
	defer rows.Close()

	var out []storage.InstanceSummary
	for rows.Next() {
		var s storage.InstanceSummary
		var status string
		if err := rows.Scan(&s.ID, &status); err != nil {
			return nil, storageErr("scan instance summary", err)
		}
		s.Status = storage.Status(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListActiveInstances returns IDs whose status is neither complete nor
// terminated.
func (b *Backend) ListActiveInstances(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id FROM instances WHERE status NOT IN (?, ?)
	`, string(storage.StatusComplete), string(storage.StatusTerminated))
	if err != nil {
		return nil, storageErr("list active instances", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan active instance", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpdateStepState upserts the checkpoint for (id, name).
func (b *Backend) UpdateStepState(ctx context.Context, id, name string, state storage.StepState) error {
	resultJSON, err := json.Marshal(state.Result)
	if err != nil {
		return storageErr("marshal step result", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO step_states (instance_id, name, status, retries, retry_end_time, result, error, sleep_end_time, wait_event_type, wait_timeout)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (instance_id, name) DO UPDATE SET
			status = excluded.status,
			retries = excluded.retries,
			retry_end_time = excluded.retry_end_time,
			result = excluded.result,
			error = excluded.error,
			sleep_end_time = excluded.sleep_end_time,
			wait_event_type = excluded.wait_event_type,
			wait_timeout = excluded.wait_timeout
	`, id, name, string(state.Status), state.Retries,
		formatTime(state.RetryEndTime), string(resultJSON), nullString(state.Error),
		formatTime(state.SleepEndTime), nullString(state.WaitEventType), int64(state.WaitTimeout))
	if err != nil {
		return storageErr("upsert step state", err)
	}
	return nil
}

// LoadStepState returns the checkpoint for (id, name), or nil if unset.
func (b *Backend) LoadStepState(ctx context.Context, id, name string) (*storage.StepState, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT status, retries, retry_end_time, result, error, sleep_end_time, wait_event_type, wait_timeout
		FROM step_states WHERE instance_id = ? AND name = ?
	`, id, name)

	var status string
	var retries int
	var retryEndTime, resultJSON, errMsg, sleepEndTime, waitEventType sql.NullString
	var waitTimeout int64

	err := row.Scan(&status, &retries, &retryEndTime, &resultJSON, &errMsg, &sleepEndTime, &waitEventType, &waitTimeout)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("load step state", err)
	}

	state := &storage.StepState{
		Status:      storage.StepStateStatus(status),
		Retries:     retries,
		WaitTimeout: time.Duration(waitTimeout),
	}
	if retryEndTime.Valid && retryEndTime.String != "" {
		state.RetryEndTime, _ = time.Parse(time.RFC3339, retryEndTime.String)
	}
	if sleepEndTime.Valid && sleepEndTime.String != "" {
		state.SleepEndTime, _ = time.Parse(time.RFC3339, sleepEndTime.String)
	}
	if resultJSON.Valid && resultJSON.String != "" && resultJSON.String != "null" {
		if err := json.Unmarshal([]byte(resultJSON.String), &state.Result); err != nil {
			return nil, storageErr("unmarshal step result", err)
		}
	}
	if errMsg.Valid {
		state.Error = errMsg.String
	}
	if waitEventType.Valid {
		state.WaitEventType = waitEventType.String
	}

	return state, nil
}

// ClearAllStepStates removes every checkpoint for id.
func (b *Backend) ClearAllStepStates(ctx context.Context, id string) error {
	if _, err := b.db.ExecContext(ctx, "DELETE FROM step_states WHERE instance_id = ?", id); err != nil {
		return storageErr("clear step states", err)
	}
	return nil
}

// SavePendingEvent is first-wins: a no-op if an entry already exists.
func (b *Backend) SavePendingEvent(ctx context.Context, id, eventType string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return storageErr("marshal pending event payload", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO pending_events (instance_id, event_type, payload)
		VALUES (?, ?, ?)
		ON CONFLICT (instance_id, event_type) DO NOTHING
	`, id, eventType, string(payloadJSON))
	if err != nil {
		return storageErr("insert pending event", err)
	}
	return nil
}

// LoadPendingEvent atomically returns-and-removes the pending entry. SQLite
// serializes writers via the single-connection pool, so the read-then-delete
// here cannot race with a concurrent SavePendingEvent/LoadPendingEvent.
func (b *Backend) LoadPendingEvent(ctx context.Context, id, eventType string) (any, bool, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT payload FROM pending_events WHERE instance_id = ? AND event_type = ?
	`, id, eventType)

	var payloadJSON sql.NullString
	err := row.Scan(&payloadJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageErr("load pending event", err)
	}

	if _, err := b.db.ExecContext(ctx, `
		DELETE FROM pending_events WHERE instance_id = ? AND event_type = ?
	`, id, eventType); err != nil {
		return nil, false, storageErr("delete pending event", err)
	}

	var payload any
	if payloadJSON.Valid && payloadJSON.String != "" && payloadJSON.String != "null" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &payload); err != nil {
			return nil, false, storageErr("unmarshal pending event payload", err)
		}
	}
	return payload, true, nil
}

// Close closes the database connection.
func (b *Backend) Close() error {
	return b.db.Close()
}

func storageErr(op string, cause error) error {
	return &workflowerrors.StorageError{Op: op, Cause: cause}
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
