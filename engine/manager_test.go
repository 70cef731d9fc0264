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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codehz/workflow/internal/clock"
	workflowerrors "github.com/codehz/workflow/pkg/errors"
	"github.com/codehz/workflow/storage"
	"github.com/codehz/workflow/storage/memory"
)

// blockingWorkflow waits on a caller-controlled gate before returning,
// giving tests a window in which to call Pause/Terminate/Shutdown while a
// run is in flight.
func blockingWorkflow(gate <-chan struct{}) WorkflowFunc {
	return func(ctx context.Context, event Event, step *StepExecutor) (any, error) {
		<-gate
		return "done", nil
	}
}

func TestManager_GetUnknownInstanceFails(t *testing.T) {
	m := NewManager(WorkflowFunc(func(ctx context.Context, event Event, step *StepExecutor) (any, error) {
		return nil, nil
	}), memory.New())

	_, err := m.Get(context.Background(), "missing")
	var nfe *workflowerrors.NotFoundError
	assert.ErrorAs(t, err, &nfe)
}

func TestManager_PauseIsObservable(t *testing.T) {
	gate := make(chan struct{})
	m := NewManager(blockingWorkflow(gate), memory.New(), WithClock(clock.New()))
	defer close(gate)

	h, err := m.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond) // let the runner reach the gate
	require.NoError(t, h.Pause(context.Background()))

	rec, err := h.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPaused, rec.Status)
}

func TestManager_RestartClearsCheckpointsAndReplays(t *testing.T) {
	var runs int
	wf := WorkflowFunc(func(ctx context.Context, event Event, step *StepExecutor) (any, error) {
		return step.Do(ctx, "only-step", nil, func(ctx context.Context) (any, error) {
			runs++
			return "value", nil
		})
	})
	m := NewManager(wf, memory.New(), WithClock(clock.New()))

	h, err := m.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)
	rec := awaitTerminal(t, h, 2*time.Second)
	require.Equal(t, storage.StatusComplete, rec.Status)

	require.NoError(t, h.Restart(context.Background()))
	rec2 := awaitTerminal(t, h, 2*time.Second)
	assert.Equal(t, storage.StatusComplete, rec2.Status)
	assert.Equal(t, "value", rec2.Output["value"])
	assert.Equal(t, 2, runs, "restart must clear the checkpoint so the step body runs again")
}

func TestManager_ListActiveInstancesExcludesTerminal(t *testing.T) {
	store := memory.New()
	gate := make(chan struct{})
	defer close(gate)
	m := NewManager(blockingWorkflow(gate), store, WithClock(clock.New()))

	h1, err := m.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)
	_, err = m.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, h1.Terminate(context.Background()))

	active, err := store.ListActiveInstances(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, active, h1.ID())
}

func TestManager_Shutdown_AbandonsInFlightWait(t *testing.T) {
	wf := WorkflowFunc(func(ctx context.Context, event Event, step *StepExecutor) (any, error) {
		return step.WaitForEvent(ctx, "w1", WaitForEventConfig{Type: "never", Timeout: "1 hour"})
	})
	m := NewManager(wf, memory.New(), WithClock(clock.New()))

	_, err := m.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond) // let the runner reach waitForEvent
	require.NoError(t, m.Shutdown(context.Background()))

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("runner completed after shutdown; it should stall forever")
	case <-time.After(200 * time.Millisecond):
		// Expected: the goroutine is parked in stall() and never returns.
	}
}
