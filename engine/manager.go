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

package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codehz/workflow/internal/clock"
	"github.com/codehz/workflow/internal/idgen"
	workflowerrors "github.com/codehz/workflow/pkg/errors"
	"github.com/codehz/workflow/storage"
	"github.com/codehz/workflow/storage/disabled"
)

// CreateOptions parameterizes Manager.Create. ID is optional; an empty
// value gets a generated one. Payload is the caller's parameters, copied
// verbatim into the instance's triggering Event.
type CreateOptions struct {
	ID      string
	Payload map[string]any
}

// Manager is the public facade of spec §4.6: create, getByID,
// batch-create, recover-all, shutdown, over instances of a single
// Workflow definition. Its in-memory state is limited to what's needed to
// propagate shutdown and track live goroutines — everything durable lives
// in storage, mirroring the teacher's StateManager split between
// authoritative backend state and a best-effort in-memory mirror.
type Manager struct {
	wf     Workflow
	clock  clock.Clock
	logger *slog.Logger
	router *eventRouter

	storeMu sync.RWMutex
	store   storage.Store

	shutdown *shutdownLatch
	wg       sync.WaitGroup
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithClock overrides the manager's clock (tests use a mock).
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger overrides the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager constructs a Manager running wf's instances against store.
func NewManager(wf Workflow, store storage.Store, opts ...Option) *Manager {
	m := &Manager{
		wf:       wf,
		store:    store,
		clock:    clock.New(),
		logger:   slog.Default(),
		router:   newEventRouter(),
		shutdown: newShutdownLatch(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) currentStore() storage.Store {
	m.storeMu.RLock()
	defer m.storeMu.RUnlock()
	return m.store
}

// spawn starts a runner goroutine for event against the manager's current
// workflow and storage, per spec §4.4 step 1 ("a non-blocking scheduling
// primitive").
func (m *Manager) spawn(event storage.Event) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		runInstance(context.Background(), m.wf, event, m.currentStore(), m.router, m.clock, m.shutdown, m.logger)
	}()
}

// Create assigns opts.ID (or a generated one), persists a queued instance
// record, and spawns its runner.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*InstanceHandle, error) {
	id := opts.ID
	if id == "" {
		id = idgen.New()
	}

	now := m.clock.Now()
	event := storage.Event{
		Payload:    opts.Payload,
		Timestamp:  now,
		InstanceID: id,
	}
	rec := &storage.Instance{
		ID:        id,
		Status:    storage.StatusQueued,
		Event:     &event,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.currentStore().SaveInstance(ctx, id, rec); err != nil {
		return nil, &workflowerrors.StorageError{Op: "saveInstance", Cause: err}
	}

	m.spawn(event)

	return &InstanceHandle{id: id, manager: m}, nil
}

// CreateBatch maps Create over list, preserving order. A failure for one
// entry does not prevent the rest from being created; the returned error
// slice is aligned index-for-index with handles (nil where Create
// succeeded).
func (m *Manager) CreateBatch(ctx context.Context, list []CreateOptions) ([]*InstanceHandle, []error) {
	handles := make([]*InstanceHandle, len(list))
	errs := make([]error, len(list))
	for i, opts := range list {
		h, err := m.Create(ctx, opts)
		handles[i] = h
		errs[i] = err
	}
	return handles, errs
}

// Get returns a handle for an existing instance, or a *errors.NotFoundError
// if none exists.
func (m *Manager) Get(ctx context.Context, id string) (*InstanceHandle, error) {
	rec, err := m.currentStore().LoadInstance(ctx, id)
	if err != nil {
		return nil, &workflowerrors.StorageError{Op: "loadInstance", Cause: err}
	}
	if rec == nil {
		return nil, &workflowerrors.NotFoundError{Resource: "instance", ID: id}
	}
	return &InstanceHandle{id: id, manager: m}, nil
}

// Recover scans listActiveInstances and re-spawns a runner for each,
// implementing spec §4.6's recover() and the "recovery scope" invariant
// (spec §8 property 6): instances without an Event are skipped; paused
// instances are resumed (transition to running); everything else replays
// directly from its stored event.
func (m *Manager) Recover(ctx context.Context) error {
	store := m.currentStore()
	ids, err := store.ListActiveInstances(ctx)
	if err != nil {
		return &workflowerrors.StorageError{Op: "listActiveInstances", Cause: err}
	}

	for _, id := range ids {
		rec, err := store.LoadInstance(ctx, id)
		if err != nil {
			return &workflowerrors.StorageError{Op: "loadInstance", Cause: err}
		}
		if rec == nil || rec.Event == nil {
			continue
		}

		if rec.Status == storage.StatusPaused {
			if err := m.resume(ctx, *rec.Event); err != nil {
				return err
			}
			continue
		}

		m.spawn(*rec.Event)
	}
	return nil
}

// List returns {id, status} for every known instance. A convenience
// wrapper over the storage contract's ListInstanceSummaries (spec.md §6
// names no such manager-level method; this is a supplemented convenience,
// see DESIGN.md).
func (m *Manager) List(ctx context.Context) ([]storage.InstanceSummary, error) {
	summaries, err := m.currentStore().ListInstanceSummaries(ctx)
	if err != nil {
		return nil, &workflowerrors.StorageError{Op: "listInstanceSummaries", Cause: err}
	}
	return summaries, nil
}

// ListActive returns the IDs of every instance whose status is neither
// complete nor terminated (spec §8 property 5). Supplemented convenience,
// see DESIGN.md.
func (m *Manager) ListActive(ctx context.Context) ([]string, error) {
	ids, err := m.currentStore().ListActiveInstances(ctx)
	if err != nil {
		return nil, &workflowerrors.StorageError{Op: "listActiveInstances", Cause: err}
	}
	return ids, nil
}

// resume transitions an instance to running and spawns a fresh runner from
// its stored event. Shared by InstanceHandle.Resume and Recover.
func (m *Manager) resume(ctx context.Context, event storage.Event) error {
	running := storage.StatusRunning
	if err := m.currentStore().UpdateInstance(ctx, event.InstanceID, storage.InstancePatch{Status: &running}); err != nil {
		return &workflowerrors.StorageError{Op: "updateInstance", Cause: err}
	}
	m.spawn(event)
	return nil
}

// Shutdown raises the shutdown latch and installs the disabled storage
// backend (spec §4.6): every outstanding step call silently stalls
// forever from this point on, and no new storage work can complete.
// Shutdown itself returns immediately once the swap is visible; it does
// not wait for in-flight goroutines (they are, by design, never going to
// finish).
func (m *Manager) Shutdown(context.Context) error {
	m.shutdown.Raise()

	m.storeMu.Lock()
	m.store = disabled.New()
	m.storeMu.Unlock()

	return nil
}

// drainForTest waits up to timeout for all spawned runner goroutines to
// exit. It exists for deterministic test teardown against a mock clock and
// is not part of the public contract implied by spec §4.6.
func (m *Manager) drainForTest(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
