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

// Package engine is the core of the durable workflow execution engine: the
// step executor, the instance runner, the event router, and the workflow
// manager facade described in spec §4.
package engine

import (
	"context"
	"time"

	workflowerrors "github.com/codehz/workflow/pkg/errors"
	"github.com/codehz/workflow/storage"
)

// Event is the triggering payload of an instance, handed to Workflow.Run.
type Event = storage.Event

// Workflow is the user-defined procedure. Run receives the triggering
// event and a StepExecutor through which it checkpoints its work; its
// return value becomes the instance's output, a returned error becomes
// the instance's errored status.
type Workflow interface {
	Run(ctx context.Context, event Event, step *StepExecutor) (any, error)
}

// WorkflowFunc adapts a plain function to the Workflow interface.
type WorkflowFunc func(ctx context.Context, event Event, step *StepExecutor) (any, error)

// Run calls f.
func (f WorkflowFunc) Run(ctx context.Context, event Event, step *StepExecutor) (any, error) {
	return f(ctx, event, step)
}

// BackoffStrategy selects how do's retry delay grows between attempts.
type BackoffStrategy string

const (
	// BackoffConstant reuses Delay unchanged for every retry.
	BackoffConstant BackoffStrategy = "constant"
	// BackoffExponential multiplies Delay by 2^(attempt-1).
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryConfig configures do's retry loop (spec §4.3.1).
type RetryConfig struct {
	// Limit is the number of retries permitted beyond the first attempt.
	// Zero (the default) means a single attempt, no retry.
	Limit int

	// Delay is a duration value accepted by internal/duration.Parse: a raw
	// millisecond count or a human string like "30 seconds".
	Delay any

	// Backoff selects how Delay grows between attempts. Empty defaults to
	// BackoffConstant.
	Backoff BackoffStrategy
}

// DoConfig configures a do step. Both fields are optional; a nil DoConfig
// is treated as single-attempt, no retry, no timeout.
type DoConfig struct {
	Retries *RetryConfig

	// Timeout is accepted but not enforced by the core (spec §5, §9 Open
	// Question 2): implementations may treat it as advisory only.
	Timeout time.Duration
}

// WaitForEventConfig configures waitForEvent (spec §4.3.3).
type WaitForEventConfig struct {
	// Type is the event type the step waits for.
	Type string

	// Timeout bounds the wait. Nil (unset) means the default of 24 hours;
	// any other value goes through internal/duration.Parse, so an explicit
	// zero times out at once.
	Timeout any
}

// DefaultWaitForEventTimeout is waitForEvent's default timeout when Timeout
// is left unset (spec §4.3.3).
const DefaultWaitForEventTimeout = 24 * time.Hour

// errTimeoutMessage is the stored Error message for a failed waitForEvent
// checkpoint, so a replay can recognize it and rewrap it as non-retryable
// (see stepExecutor.WaitForEvent's replay path).
const errTimeoutMessage = "Timeout"

// ErrTimeout is the error waitForEvent raises when no matching event
// arrives before its deadline. It is non-retryable: a do step wrapping a
// waitForEvent call must not retry it.
var ErrTimeout = workflowerrors.NonRetryable(workflowerrors.New(errTimeoutMessage))

// NonRetryableError re-exports pkg/errors' distinguished error variant so
// user workflow code need only import the engine package.
type NonRetryableError = workflowerrors.NonRetryableError

// NonRetryable wraps err so do's retry loop treats it as terminal on first
// occurrence, per spec §6.
func NonRetryable(err error) error {
	return workflowerrors.NonRetryable(err)
}

// IsNonRetryable reports whether err is, or wraps, a NonRetryableError.
func IsNonRetryable(err error) bool {
	return workflowerrors.IsNonRetryable(err)
}
