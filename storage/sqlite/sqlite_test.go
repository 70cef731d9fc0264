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

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	workflowerrors "github.com/codehz/workflow/pkg/errors"
	"github.com/codehz/workflow/storage"
)

// createTestBackend creates a SQLite backend for testing in a temporary directory.
func createTestBackend(t *testing.T) *Backend {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	be, err := New(Config{Path: dbPath, WAL: true})
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	return be
}

func TestSQLiteBackend_SaveAndLoadInstance(t *testing.T) {
	be := createTestBackend(t)
	defer be.Close()

	ctx := context.Background()
	rec := &storage.Instance{
		Status: storage.StatusQueued,
		Event: &storage.Event{
			InstanceID: "inst-1",
			Payload:    map[string]any{"key": "value"},
			Timestamp:  time.Now(),
		},
	}

	if err := be.SaveInstance(ctx, "inst-1", rec); err != nil {
		t.Fatalf("failed to save instance: %v", err)
	}

	got, err := be.LoadInstance(ctx, "inst-1")
	if err != nil {
		t.Fatalf("failed to load instance: %v", err)
	}
	if got == nil {
		t.Fatal("expected instance, got nil")
	}
	if got.Status != storage.StatusQueued {
		t.Errorf("expected status %s, got %s", storage.StatusQueued, got.Status)
	}
	if got.Event.Payload["key"] != "value" {
		t.Errorf("expected payload key=value, got %v", got.Event.Payload)
	}
}

func TestSQLiteBackend_LoadInstance_Missing(t *testing.T) {
	be := createTestBackend(t)
	defer be.Close()

	got, err := be.LoadInstance(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestSQLiteBackend_UpdateInstance_NotFound(t *testing.T) {
	be := createTestBackend(t)
	defer be.Close()

	status := storage.StatusRunning
	err := be.UpdateInstance(context.Background(), "nope", storage.InstancePatch{Status: &status})

	var nfe *workflowerrors.NotFoundError
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !workflowerrors.As(err, &nfe) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestSQLiteBackend_UpdateInstance_MergePatch(t *testing.T) {
	be := createTestBackend(t)
	defer be.Close()

	ctx := context.Background()
	if err := be.SaveInstance(ctx, "inst-1", &storage.Instance{
		Status: storage.StatusRunning,
		Event:  &storage.Event{InstanceID: "inst-1", Timestamp: time.Now()},
	}); err != nil {
		t.Fatalf("failed to save instance: %v", err)
	}

	complete := storage.StatusComplete
	if err := be.UpdateInstance(ctx, "inst-1", storage.InstancePatch{
		Status: &complete,
		Output: map[string]any{"result": float64(42)},
	}); err != nil {
		t.Fatalf("failed to update instance: %v", err)
	}

	got, err := be.LoadInstance(ctx, "inst-1")
	if err != nil {
		t.Fatalf("failed to load instance: %v", err)
	}
	if got.Status != storage.StatusComplete {
		t.Errorf("expected status %s, got %s", storage.StatusComplete, got.Status)
	}
	if got.Output["result"] != float64(42) {
		t.Errorf("expected result=42, got %v", got.Output["result"])
	}
}

func TestSQLiteBackend_DeleteInstance_CascadesSteps(t *testing.T) {
	be := createTestBackend(t)
	defer be.Close()

	ctx := context.Background()
	if err := be.SaveInstance(ctx, "inst-1", &storage.Instance{
		Event: &storage.Event{InstanceID: "inst-1", Timestamp: time.Now()},
	}); err != nil {
		t.Fatalf("failed to save instance: %v", err)
	}
	if err := be.UpdateStepState(ctx, "inst-1", "step-a", storage.StepState{Status: storage.StepCompleted}); err != nil {
		t.Fatalf("failed to save step state: %v", err)
	}

	if err := be.DeleteInstance(ctx, "inst-1"); err != nil {
		t.Fatalf("failed to delete instance: %v", err)
	}

	step, err := be.LoadStepState(ctx, "inst-1", "step-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if step != nil {
		t.Errorf("expected step state to be cascaded away, got %v", step)
	}
}

func TestSQLiteBackend_ListActiveInstances(t *testing.T) {
	be := createTestBackend(t)
	defer be.Close()

	ctx := context.Background()
	statuses := map[string]storage.Status{
		"a": storage.StatusQueued,
		"b": storage.StatusComplete,
		"c": storage.StatusWaiting,
	}
	for id, status := range statuses {
		if err := be.SaveInstance(ctx, id, &storage.Instance{
			Status: status,
			Event:  &storage.Event{InstanceID: id, Timestamp: time.Now()},
		}); err != nil {
			t.Fatalf("failed to save instance %s: %v", id, err)
		}
	}

	active, err := be.ListActiveInstances(ctx)
	if err != nil {
		t.Fatalf("failed to list active instances: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("expected 2 active instances, got %d: %v", len(active), active)
	}
}

func TestSQLiteBackend_StepState_RoundTrip(t *testing.T) {
	be := createTestBackend(t)
	defer be.Close()

	ctx := context.Background()
	if err := be.SaveInstance(ctx, "inst-1", &storage.Instance{
		Event: &storage.Event{InstanceID: "inst-1", Timestamp: time.Now()},
	}); err != nil {
		t.Fatalf("failed to save instance: %v", err)
	}
	want := storage.StepState{
		Status:        storage.StepRetrying,
		Retries:       2,
		RetryEndTime:  time.Now().Truncate(time.Second),
		WaitEventType: "",
	}
	if err := be.UpdateStepState(ctx, "inst-1", "step-a", want); err != nil {
		t.Fatalf("failed to save step state: %v", err)
	}

	got, err := be.LoadStepState(ctx, "inst-1", "step-a")
	if err != nil {
		t.Fatalf("failed to load step state: %v", err)
	}
	if got.Status != want.Status {
		t.Errorf("expected status %s, got %s", want.Status, got.Status)
	}
	if got.Retries != want.Retries {
		t.Errorf("expected retries %d, got %d", want.Retries, got.Retries)
	}
	if !got.RetryEndTime.Equal(want.RetryEndTime) {
		t.Errorf("expected retry end time %v, got %v", want.RetryEndTime, got.RetryEndTime)
	}
}

func TestSQLiteBackend_PendingEvent_FirstWins(t *testing.T) {
	be := createTestBackend(t)
	defer be.Close()

	ctx := context.Background()
	if err := be.SaveInstance(ctx, "inst-1", &storage.Instance{
		Event: &storage.Event{InstanceID: "inst-1", Timestamp: time.Now()},
	}); err != nil {
		t.Fatalf("failed to save instance: %v", err)
	}
	if err := be.SavePendingEvent(ctx, "inst-1", "evt", "first"); err != nil {
		t.Fatalf("failed to save pending event: %v", err)
	}
	if err := be.SavePendingEvent(ctx, "inst-1", "evt", "second"); err != nil {
		t.Fatalf("failed to save pending event: %v", err)
	}

	payload, ok, err := be.LoadPendingEvent(ctx, "inst-1", "evt")
	if err != nil {
		t.Fatalf("failed to load pending event: %v", err)
	}
	if !ok {
		t.Fatal("expected pending event to exist")
	}
	if payload != "first" {
		t.Errorf("expected first-wins payload %q, got %q", "first", payload)
	}

	_, ok, err = be.LoadPendingEvent(ctx, "inst-1", "evt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected pending event to be consumed")
	}
}
