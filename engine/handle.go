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

	workflowerrors "github.com/codehz/workflow/pkg/errors"
	"github.com/codehz/workflow/storage"
)

// InstanceHandle is a lightweight reference to one instance; every
// operation routes back to its owning Manager (spec §4.6).
type InstanceHandle struct {
	id      string
	manager *Manager
}

// ID returns the instance's identifier.
func (h *InstanceHandle) ID() string {
	return h.id
}

// Pause transitions the instance to paused. Best-effort: a no-op if the
// instance no longer exists. Per spec §9 Open Question 1, a step body
// already executing when Pause is called keeps running; the new status
// only takes effect the next time the runner writes a step checkpoint,
// where it parks for good as after shutdown (see DESIGN.md for the
// explicit decision not to cooperatively interrupt it). Resume spawns a
// fresh runner.
func (h *InstanceHandle) Pause(ctx context.Context) error {
	paused := storage.StatusPaused
	if err := h.manager.currentStore().UpdateInstance(ctx, h.id, storage.InstancePatch{Status: &paused}); err != nil {
		if workflowerrors.As(err, new(*workflowerrors.NotFoundError)) {
			return nil
		}
		return &workflowerrors.StorageError{Op: "updateInstance", Cause: err}
	}
	return nil
}

// Resume transitions a paused instance back to running and spawns a fresh
// runner from its stored event; replay skips already-completed steps. A
// no-op if the instance is not currently paused.
func (h *InstanceHandle) Resume(ctx context.Context) error {
	rec, err := h.manager.currentStore().LoadInstance(ctx, h.id)
	if err != nil {
		return &workflowerrors.StorageError{Op: "loadInstance", Cause: err}
	}
	if rec == nil {
		return &workflowerrors.NotFoundError{Resource: "instance", ID: h.id}
	}
	if rec.Status != storage.StatusPaused {
		return nil
	}
	return h.manager.resume(ctx, *rec.Event)
}

// Terminate transitions the instance to terminated.
func (h *InstanceHandle) Terminate(ctx context.Context) error {
	terminated := storage.StatusTerminated
	if err := h.manager.currentStore().UpdateInstance(ctx, h.id, storage.InstancePatch{Status: &terminated}); err != nil {
		return &workflowerrors.StorageError{Op: "updateInstance", Cause: err}
	}
	return nil
}

// Restart clears every step checkpoint for the instance, sets its status
// back to queued, and spawns a fresh runner — a new run of the original
// event from the beginning (spec §8 property 4).
func (h *InstanceHandle) Restart(ctx context.Context) error {
	store := h.manager.currentStore()

	rec, err := store.LoadInstance(ctx, h.id)
	if err != nil {
		return &workflowerrors.StorageError{Op: "loadInstance", Cause: err}
	}
	if rec == nil {
		return &workflowerrors.NotFoundError{Resource: "instance", ID: h.id}
	}

	if err := store.ClearAllStepStates(ctx, h.id); err != nil {
		return &workflowerrors.StorageError{Op: "clearAllStepStates", Cause: err}
	}

	queued := storage.StatusQueued
	if err := store.UpdateInstance(ctx, h.id, storage.InstancePatch{
		Status:      &queued,
		ClearOutput: true,
		ClearError:  true,
	}); err != nil {
		return &workflowerrors.StorageError{Op: "updateInstance", Cause: err}
	}

	h.manager.spawn(*rec.Event)
	return nil
}

// Status returns the instance's full persisted record.
func (h *InstanceHandle) Status(ctx context.Context) (*storage.Instance, error) {
	rec, err := h.manager.currentStore().LoadInstance(ctx, h.id)
	if err != nil {
		return nil, &workflowerrors.StorageError{Op: "loadInstance", Cause: err}
	}
	if rec == nil {
		return nil, &workflowerrors.NotFoundError{Resource: "instance", ID: h.id}
	}
	return rec, nil
}

// SendEvent delegates to the manager's event router (spec §4.5): a waiting
// step consumes payload immediately, otherwise it is persisted for the
// instance's next matching waitForEvent call.
func (h *InstanceHandle) SendEvent(ctx context.Context, eventType string, payload any) error {
	return h.manager.router.sendEvent(ctx, h.manager.currentStore(), h.id, eventType, payload)
}
