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

package main

import (
	"context"
	"fmt"

	"github.com/codehz/workflow/engine"
)

// demoWorkflows are small illustrative workflows the conformance CLI can
// spawn instances of, exercising do, sleep, and waitForEvent respectively.
var demoWorkflows = map[string]engine.Workflow{
	"multiply":    engine.WorkflowFunc(multiplyWorkflow),
	"delayed-sum": engine.WorkflowFunc(delayedSumWorkflow),
	"await-event": engine.WorkflowFunc(awaitEventWorkflow),
}

func numericPayload(event engine.Event, key string) (float64, error) {
	v, ok := event.Payload[key]
	if !ok {
		return 0, fmt.Errorf("payload missing %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("payload %q is not numeric", key)
	}
}

// multiplyWorkflow mirrors the S1 scenario: return payload.value * 2.
func multiplyWorkflow(ctx context.Context, event engine.Event, step *engine.StepExecutor) (any, error) {
	v, err := numericPayload(event, "value")
	if err != nil {
		return nil, err
	}
	return step.Do(ctx, "multiply", nil, func(ctx context.Context) (any, error) {
		return v * 2, nil
	})
}

// delayedSumWorkflow mirrors the S2 scenario: double the input, sleep, add
// ten, demonstrating checkpointed recovery across a pause/restart.
func delayedSumWorkflow(ctx context.Context, event engine.Event, step *engine.StepExecutor) (any, error) {
	v, err := numericPayload(event, "value")
	if err != nil {
		return nil, err
	}
	r1, err := step.Do(ctx, "double", nil, func(ctx context.Context) (any, error) {
		return v * 2, nil
	})
	if err != nil {
		return nil, err
	}
	if err := step.Sleep(ctx, "pause", "200"); err != nil {
		return nil, err
	}
	return r1.(float64) + 10, nil
}

// awaitEventWorkflow waits for a "go" event and echoes its payload back,
// demonstrating the event router's pending-event-before-wait property.
func awaitEventWorkflow(ctx context.Context, event engine.Event, step *engine.StepExecutor) (any, error) {
	return step.WaitForEvent(ctx, "wait-for-go", engine.WaitForEventConfig{
		Type:    "go",
		Timeout: "5 minutes",
	})
}
