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

	"github.com/codehz/workflow/internal/clock"
	"github.com/codehz/workflow/internal/log"
	"github.com/codehz/workflow/storage"
)

// runInstance is the per-instance driver of spec §4.4. It is deliberately
// "dumb": replay safety lives entirely in the step executor, so this
// function carries no state of its own beyond constructing that executor.
// It is always invoked on its own goroutine by the manager (the "spawned
// via a non-blocking scheduling primitive" of step 1).
func runInstance(ctx context.Context, wf Workflow, event storage.Event, store storage.Store, router *eventRouter, clk clock.Clock, shutdown *shutdownLatch, logger *slog.Logger) {
	instanceID := event.InstanceID
	logger = log.WithInstance(logger, instanceID)

	running := storage.StatusRunning
	if err := store.UpdateInstance(ctx, instanceID, storage.InstancePatch{Status: &running}); err != nil {
		logger.Error("failed to mark instance running", "error", err)
		return
	}

	step := newStepExecutor(instanceID, store, router, clk, shutdown, logger)

	output, err := wf.Run(ctx, event, step)

	if err != nil {
		errored := storage.StatusErrored
		msg := err.Error()
		patchErr := store.UpdateInstance(context.Background(), instanceID, storage.InstancePatch{
			Status: &errored,
			Error:  &msg,
		})
		if patchErr != nil {
			logger.Error("failed to record errored instance", "error", patchErr)
		}
		return
	}

	complete := storage.StatusComplete
	outputMap, convErr := asOutputMap(output)
	if convErr != nil {
		errored := storage.StatusErrored
		msg := convErr.Error()
		if patchErr := store.UpdateInstance(context.Background(), instanceID, storage.InstancePatch{Status: &errored, Error: &msg}); patchErr != nil {
			logger.Error("failed to record errored instance", "error", patchErr)
		}
		return
	}
	if patchErr := store.UpdateInstance(context.Background(), instanceID, storage.InstancePatch{
		Status: &complete,
		Output: outputMap,
	}); patchErr != nil {
		logger.Error("failed to record complete instance", "error", patchErr)
	}
}

// asOutputMap adapts a workflow's return value to the map[string]any shape
// storage.Instance.Output expects. A nil return becomes a nil map; a
// map[string]any passes through; anything else is wrapped under "value" so
// scalar and slice results still round-trip.
func asOutputMap(output any) (map[string]any, error) {
	if output == nil {
		return nil, nil
	}
	if m, ok := output.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"value": output}, nil
}
