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

// Package memory provides the in-memory reference storage backend: three
// maps guarded by one mutex, exactly as spec §6 describes.
package memory

import (
	"context"
	"sync"
	"time"

	workflowerrors "github.com/codehz/workflow/pkg/errors"
	"github.com/codehz/workflow/storage"
)

// Compile-time interface assertions.
var (
	_ storage.InstanceStore = (*Backend)(nil)
	_ storage.StepStore     = (*Backend)(nil)
	_ storage.EventStore    = (*Backend)(nil)
	_ storage.Store         = (*Backend)(nil)
)

type stepKey struct {
	id, name string
}

type eventKey struct {
	id, eventType string
}

// Backend is an in-memory storage backend. Safe for concurrent use.
type Backend struct {
	mu            sync.RWMutex
	instances     map[string]*storage.Instance
	steps         map[stepKey]storage.StepState
	pendingEvents map[eventKey]any
}

// New creates a new in-memory backend.
func New() *Backend {
	return &Backend{
		instances:     make(map[string]*storage.Instance),
		steps:         make(map[stepKey]storage.StepState),
		pendingEvents: make(map[eventKey]any),
	}
}

// SaveInstance writes a new record, shallow-copying it so later caller-side
// mutation of rec doesn't alias backend state.
func (b *Backend) SaveInstance(ctx context.Context, id string, rec *storage.Instance) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := *rec
	cp.ID = id
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = cp.CreatedAt
	b.instances[id] = &cp
	return nil
}

// UpdateInstance merge-patches an existing record.
func (b *Backend) UpdateInstance(ctx context.Context, id string, patch storage.InstancePatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, exists := b.instances[id]
	if !exists {
		return &workflowerrors.NotFoundError{Resource: "instance", ID: id}
	}

	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.Output != nil {
		rec.Output = patch.Output
	}
	if patch.ClearOutput {
		rec.Output = nil
	}
	if patch.Error != nil {
		rec.Error = *patch.Error
	}
	if patch.ClearError {
		rec.Error = ""
	}
	rec.UpdatedAt = time.Now()
	return nil
}

// LoadInstance returns the full record, or nil if absent or missing Event.
func (b *Backend) LoadInstance(ctx context.Context, id string) (*storage.Instance, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, exists := b.instances[id]
	if !exists || rec.Event == nil {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// DeleteInstance removes the record and all of its step checkpoints and
// pending events.
func (b *Backend) DeleteInstance(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.instances, id)
	for k := range b.steps {
		if k.id == id {
			delete(b.steps, k)
		}
	}
	for k := range b.pendingEvents {
		if k.id == id {
			delete(b.pendingEvents, k)
		}
	}
	return nil
}

// ListInstanceSummaries returns {id, status} for every known instance.
func (b *Backend) ListInstanceSummaries(ctx context.Context) ([]storage.InstanceSummary, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]storage.InstanceSummary, 0, len(b.instances))
	for id, rec := range b.instances {
		out = append(out, storage.InstanceSummary{ID: id, Status: rec.Status})
	}
	return out, nil
}

// ListActiveInstances returns IDs whose status is neither complete nor
// terminated.
func (b *Backend) ListActiveInstances(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []string
	for id, rec := range b.instances {
		if !rec.Status.Terminal() {
			out = append(out, id)
		}
	}
	return out, nil
}

// UpdateStepState upserts the checkpoint for (id, name).
func (b *Backend) UpdateStepState(ctx context.Context, id, name string, state storage.StepState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.steps[stepKey{id, name}] = state
	return nil
}

// LoadStepState returns the checkpoint for (id, name), or nil if unset.
func (b *Backend) LoadStepState(ctx context.Context, id, name string) (*storage.StepState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	state, exists := b.steps[stepKey{id, name}]
	if !exists {
		return nil, nil
	}
	return &state, nil
}

// ClearAllStepStates removes every checkpoint for id.
func (b *Backend) ClearAllStepStates(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for k := range b.steps {
		if k.id == id {
			delete(b.steps, k)
		}
	}
	return nil
}

// SavePendingEvent is first-wins: a no-op if an entry already exists.
func (b *Backend) SavePendingEvent(ctx context.Context, id, eventType string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := eventKey{id, eventType}
	if _, exists := b.pendingEvents[k]; exists {
		return nil
	}
	b.pendingEvents[k] = payload
	return nil
}

// LoadPendingEvent atomically returns-and-removes the pending entry.
func (b *Backend) LoadPendingEvent(ctx context.Context, id, eventType string) (any, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := eventKey{id, eventType}
	payload, exists := b.pendingEvents[k]
	if !exists {
		return nil, false, nil
	}
	delete(b.pendingEvents, k)
	return payload, true, nil
}

// Close is a no-op; the in-memory backend holds no external resource.
func (b *Backend) Close() error {
	return nil
}
