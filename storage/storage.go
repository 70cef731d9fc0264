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

// Package storage defines the persistence contract between the engine and
// its storage backends. Implementations are opaque to the engine: the core
// only calls through the interfaces declared here.
//
// # Interface Hierarchy
//
// Segregated per concern, mirroring how a minimal backend (e.g. a
// single-table KV store) and a feature-complete one (e.g. SQL) differ in
// what they need to implement:
//
//   - InstanceStore (required): SaveInstance, UpdateInstance, LoadInstance,
//     DeleteInstance, ListInstanceSummaries, ListActiveInstances
//   - StepStore (required): UpdateStepState, LoadStepState, ClearAllStepStates
//   - EventStore (required): SavePendingEvent, LoadPendingEvent
//
// Store composes all three into the single interface the engine accepts.
package storage

import (
	"context"
	"time"
)

// Status is an instance's position in the state machine of spec §3.
type Status string

const (
	StatusQueued          Status = "queued"
	StatusRunning         Status = "running"
	StatusPaused          Status = "paused"
	StatusWaiting         Status = "waiting"
	StatusWaitingForPause Status = "waitingForPause"
	StatusComplete        Status = "complete"
	StatusErrored         Status = "errored"
	StatusTerminated      Status = "terminated"
	StatusUnknown         Status = "unknown"
)

// Terminal reports whether status is a terminal state (complete or
// terminated) — the two statuses excluded from ListActiveInstances.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusTerminated
}

// Event is the triggering payload of an instance: the caller's parameters,
// the time the instance was created, and its own instance ID.
type Event struct {
	Payload    map[string]any `json:"payload"`
	Timestamp  time.Time      `json:"timestamp"`
	InstanceID string         `json:"instanceId"`
}

// Instance is the persisted record of spec §3. A well-formed instance
// always has a non-nil Event; LoadInstance returns nil for a record whose
// Event is missing, treating it as nonexistent (invariant i).
type Instance struct {
	ID     string         `json:"id"`
	Status Status         `json:"status"`
	Event  *Event         `json:"event"`
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// InstancePatch is a merge-patch applied by UpdateInstance. Nil fields are
// left untouched; ClearOutput/ClearError force those fields to their zero
// value even though the new Status leaves them nil (used when restarting
// an instance that previously completed or errored).
type InstancePatch struct {
	Status      *Status
	Output      map[string]any
	Error       *string
	ClearOutput bool
	ClearError  bool
}

// StepStateStatus is the tag of the step-checkpoint tagged union (spec §3).
type StepStateStatus string

const (
	StepPending         StepStateStatus = "pending"
	StepRunning         StepStateStatus = "running"
	StepRetrying        StepStateStatus = "retrying"
	StepCompleted       StepStateStatus = "completed"
	StepFailed          StepStateStatus = "failed"
	StepSleeping        StepStateStatus = "sleeping"
	StepWaitingForEvent StepStateStatus = "waitingForEvent"
)

// StepState is the persisted checkpoint for one (instance, step) pair. It
// is a single struct carrying every variant's payload behind the Status
// tag — consumers switch on Status, never on Go type, matching the
// teacher's discriminated-checkpoint convention.
type StepState struct {
	Status StepStateStatus `json:"status"`

	// Retries counts attempts made so far; present on running/retrying/
	// completed/failed.
	Retries int `json:"retries,omitempty"`

	// RetryEndTime is the absolute deadline a retrying step is waiting out.
	RetryEndTime time.Time `json:"retryEndTime,omitempty"`

	// Result is the body's return value, set only when Status==completed.
	Result any `json:"result,omitempty"`

	// Error is the normalized failure message, set only when Status==failed.
	Error string `json:"error,omitempty"`

	// SleepEndTime is the absolute wall-clock deadline of a sleep/sleepUntil
	// step. It survives restarts because it is absolute, not a remaining
	// duration (invariant iii).
	SleepEndTime time.Time `json:"sleepEndTime,omitempty"`

	// WaitEventType and WaitTimeout are recorded when a waitForEvent step
	// begins waiting.
	WaitEventType string        `json:"waitEventType,omitempty"`
	WaitTimeout   time.Duration `json:"waitTimeout,omitempty"`
}

// Terminal reports whether the step has reached a final outcome that the
// executor must never re-execute (invariant ii).
func (s StepState) Terminal() bool {
	return s.Status == StepCompleted || s.Status == StepFailed
}

// InstanceSummary is the lightweight projection ListInstanceSummaries
// returns.
type InstanceSummary struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

// InstanceStore persists instance records.
type InstanceStore interface {
	// SaveInstance writes a new record. Per spec §9 Open Question 3, the
	// core contract does not require rejecting an ID collision; a backend
	// may reject it, but callers must not rely on that.
	SaveInstance(ctx context.Context, id string, rec *Instance) error

	// UpdateInstance merge-patches an existing record. Fails with
	// *errors.NotFoundError if the record is absent.
	UpdateInstance(ctx context.Context, id string, patch InstancePatch) error

	// LoadInstance returns the full record, or nil if none exists (or the
	// stored record has no Event, which is treated as nonexistent).
	LoadInstance(ctx context.Context, id string) (*Instance, error)

	// DeleteInstance removes the record and all of its step checkpoints and
	// pending events.
	DeleteInstance(ctx context.Context, id string) error

	// ListInstanceSummaries returns {id, status} for every known instance.
	ListInstanceSummaries(ctx context.Context) ([]InstanceSummary, error)

	// ListActiveInstances returns IDs whose status is neither complete nor
	// terminated.
	ListActiveInstances(ctx context.Context) ([]string, error)
}

// StepStore persists per-instance, per-step checkpoints.
type StepStore interface {
	// UpdateStepState upserts the checkpoint for (id, name).
	UpdateStepState(ctx context.Context, id, name string, state StepState) error

	// LoadStepState returns the checkpoint for (id, name), or nil if none
	// exists yet (the step has never been reached).
	LoadStepState(ctx context.Context, id, name string) (*StepState, error)

	// ClearAllStepStates removes every checkpoint for id. The instance
	// record itself is untouched.
	ClearAllStepStates(ctx context.Context, id string) error
}

// EventStore persists events sent before their waiter is ready to consume
// them.
type EventStore interface {
	// SavePendingEvent is first-wins: a no-op if an entry already exists
	// for (id, eventType).
	SavePendingEvent(ctx context.Context, id, eventType string, payload any) error

	// LoadPendingEvent atomically returns-and-removes the pending entry for
	// (id, eventType), or returns nil if none exists.
	LoadPendingEvent(ctx context.Context, id, eventType string) (any, bool, error)
}

// Store is the full persistence contract the engine depends on.
type Store interface {
	InstanceStore
	StepStore
	EventStore
}

// Closer is implemented by backends that hold an open resource (a file
// handle, a DB connection) requiring explicit shutdown.
type Closer interface {
	Close() error
}
