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
	"fmt"
	"log/slog"
	"time"

	"github.com/codehz/workflow/internal/clock"
	"github.com/codehz/workflow/internal/duration"
	"github.com/codehz/workflow/internal/log"
	workflowerrors "github.com/codehz/workflow/pkg/errors"
	"github.com/codehz/workflow/storage"
)

// StepExecutor is the object passed to user workflow code (spec §4.3). It
// consults the checkpoint for each named step, short-circuits already
// terminated steps, and otherwise performs the work, persisting
// intermediate and final checkpoints as it goes.
type StepExecutor struct {
	instanceID string
	store      storage.Store
	router     *eventRouter
	clock      clock.Clock
	shutdown   *shutdownLatch
	logger     *slog.Logger
}

func newStepExecutor(instanceID string, store storage.Store, router *eventRouter, clk clock.Clock, shutdown *shutdownLatch, logger *slog.Logger) *StepExecutor {
	return &StepExecutor{
		instanceID: instanceID,
		store:      store,
		router:     router,
		clock:      clk,
		shutdown:   shutdown,
		logger:     log.WithInstance(logger, instanceID),
	}
}

// checkShutdown implements the suspension-point contract of spec §4.3: if
// the shutdown latch is set, the call abandons by parking forever instead
// of returning — no further user code runs.
func (e *StepExecutor) checkShutdown() {
	if e.shutdown.Raised() {
		stall()
	}
}

// sleepFor waits d, honoring the shutdown latch: if it fires first, the
// call stalls forever instead of resuming. d <= 0 returns immediately.
func (e *StepExecutor) sleepFor(d time.Duration) {
	if d <= 0 {
		e.checkShutdown()
		return
	}
	timer := e.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-e.shutdown.Done():
		stall()
	}
	e.checkShutdown()
}

func (e *StepExecutor) writeStepState(ctx context.Context, name string, state storage.StepState) error {
	e.checkShutdown()
	// A paused instance's runner stops at its next checkpoint write, parking
	// exactly as it would after shutdown (see InstanceHandle.Pause).
	if rec, err := e.store.LoadInstance(ctx, e.instanceID); err == nil && rec != nil && rec.Status == storage.StatusPaused {
		stall()
	}
	if err := e.store.UpdateStepState(ctx, e.instanceID, name, state); err != nil {
		return &workflowerrors.StorageError{Op: "updateStepState", Cause: err}
	}
	return nil
}

func (e *StepExecutor) loadStepState(ctx context.Context, name string) (*storage.StepState, error) {
	e.checkShutdown()
	state, err := e.store.LoadStepState(ctx, e.instanceID, name)
	if err != nil {
		return nil, &workflowerrors.StorageError{Op: "loadStepState", Cause: err}
	}
	return state, nil
}

// Do executes body as a checkpointed unit of work, retrying it on failure
// per cfg.Retries and replaying its recorded outcome on any subsequent
// call for the same name (spec §4.3.1). A nil cfg means a single attempt
// with no retry.
func (e *StepExecutor) Do(ctx context.Context, name string, cfg *DoConfig, body func(ctx context.Context) (any, error)) (any, error) {
	retries := RetryConfig{Backoff: BackoffConstant}
	if cfg != nil && cfg.Retries != nil {
		retries = *cfg.Retries
		if retries.Backoff == "" {
			retries.Backoff = BackoffConstant
		}
	}

	delay, err := parseRetryDelay(retries.Delay)
	if err != nil {
		return nil, err
	}

	// Step 1-2: consult the checkpoint; short-circuit a terminal outcome.
	state, err := e.loadStepState(ctx, name)
	if err != nil {
		return nil, err
	}

	attempts := 0
	if state != nil {
		switch state.Status {
		case storage.StepCompleted:
			return state.Result, nil
		case storage.StepFailed:
			return nil, workflowerrors.New(state.Error)
		case storage.StepRetrying:
			attempts = state.Retries
			// Step 3: if still inside the backoff window, sleep the
			// remainder before resuming the attempt loop.
			remaining := state.RetryEndTime.Sub(e.clock.Now())
			e.sleepFor(remaining)
		case storage.StepRunning:
			attempts = state.Retries
		}
	}

	for {
		// Step 4: record the attempt as running.
		if err := e.writeStepState(ctx, name, storage.StepState{
			Status:  storage.StepRunning,
			Retries: attempts,
		}); err != nil {
			return nil, err
		}

		e.logger.Debug("executing do step", log.StepNameKey, name, "attempt", attempts+1)
		result, bodyErr := body(ctx)
		if bodyErr == nil {
			// Step 5: success.
			if err := e.writeStepState(ctx, name, storage.StepState{
				Status:  storage.StepCompleted,
				Result:  result,
				Retries: attempts,
			}); err != nil {
				return nil, err
			}
			return result, nil
		}

		// Step 6: failure. Non-retryable or out of attempts terminates now.
		if workflowerrors.IsNonRetryable(bodyErr) || attempts+1 > retries.Limit {
			if err := e.writeStepState(ctx, name, storage.StepState{
				Status:  storage.StepFailed,
				Error:   bodyErr.Error(),
				Retries: attempts,
			}); err != nil {
				return nil, err
			}
			return nil, workflowerrors.New(bodyErr.Error())
		}

		attempts++
		backoff := delay
		if retries.Backoff == BackoffExponential {
			backoff = delay << (attempts - 1)
		}
		retryEnd := e.clock.Now().Add(backoff)
		if err := e.writeStepState(ctx, name, storage.StepState{
			Status:       storage.StepRetrying,
			RetryEndTime: retryEnd,
			Retries:      attempts,
		}); err != nil {
			return nil, err
		}
		e.sleepFor(backoff)
	}
}

func parseRetryDelay(v any) (time.Duration, error) {
	if v == nil {
		return 0, nil
	}
	return duration.Parse(v)
}

// Sleep waits duration d, named name, resuming across restarts from the
// absolute deadline it records (spec §4.3.2).
func (e *StepExecutor) Sleep(ctx context.Context, name string, d any) error {
	ms, err := duration.Parse(d)
	if err != nil {
		return err
	}
	if ms <= 0 {
		return &workflowerrors.ValidationError{Field: "sleep", Message: "duration must be positive"}
	}
	return e.sleepUntilDeadline(ctx, name, e.clock.Now().Add(ms))
}

// SleepUntil waits until target, named name (spec §4.3.2). target is a
// time.Time, or a numeric seconds-since-epoch value (multiplied by 1000
// per the spec's "raw numeric is seconds" rule).
func (e *StepExecutor) SleepUntil(ctx context.Context, name string, target any) error {
	deadline, err := toDeadline(target)
	if err != nil {
		return err
	}
	if !deadline.After(e.clock.Now()) {
		// A past target is an error only for a step that has not started yet;
		// a replayed sleepUntil finishes from its checkpoint instead.
		state, err := e.loadStepState(ctx, name)
		if err != nil {
			return err
		}
		if state == nil || (state.Status != storage.StepCompleted && state.Status != storage.StepSleeping) {
			return &workflowerrors.ValidationError{Field: "sleepUntil", Message: "target is in the past"}
		}
	}
	return e.sleepUntilDeadline(ctx, name, deadline)
}

func (e *StepExecutor) sleepUntilDeadline(ctx context.Context, name string, deadline time.Time) error {
	state, err := e.loadStepState(ctx, name)
	if err != nil {
		return err
	}
	if state != nil && state.Status == storage.StepCompleted {
		return nil
	}

	if state == nil || state.Status != storage.StepSleeping {
		if err := e.writeStepState(ctx, name, storage.StepState{
			Status:       storage.StepSleeping,
			SleepEndTime: deadline,
		}); err != nil {
			return err
		}
	} else {
		deadline = state.SleepEndTime
	}

	if remaining := deadline.Sub(e.clock.Now()); remaining > 0 {
		e.sleepFor(remaining)
	}

	return e.writeStepState(ctx, name, storage.StepState{Status: storage.StepCompleted})
}

func toDeadline(target any) (time.Time, error) {
	switch t := target.(type) {
	case time.Time:
		return t, nil
	case int:
		return time.UnixMilli(int64(t) * 1000), nil
	case int64:
		return time.UnixMilli(t * 1000), nil
	case float64:
		return time.UnixMilli(int64(t * 1000)), nil
	default:
		return time.Time{}, &workflowerrors.ValidationError{
			Field:   "sleepUntil",
			Message: fmt.Sprintf("unsupported target type %T", target),
		}
	}
}

// WaitForEvent blocks until an event of cfg.Type arrives for this instance,
// or until cfg.Timeout elapses (default 24h), per spec §4.3.3.
func (e *StepExecutor) WaitForEvent(ctx context.Context, name string, cfg WaitForEventConfig) (any, error) {
	timeout := DefaultWaitForEventTimeout
	if cfg.Timeout != nil {
		d, err := duration.Parse(cfg.Timeout)
		if err != nil {
			return nil, err
		}
		timeout = d
	}

	// Step 1: consult the checkpoint.
	state, err := e.loadStepState(ctx, name)
	if err != nil {
		return nil, err
	}
	if state != nil {
		switch state.Status {
		case storage.StepCompleted:
			return state.Result, nil
		case storage.StepFailed:
			return nil, replayWaitForEventError(state.Error)
		}
	}

	// Step 2: record that this step is now waiting.
	if err := e.writeStepState(ctx, name, storage.StepState{
		Status:        storage.StepWaitingForEvent,
		WaitEventType: cfg.Type,
		WaitTimeout:   timeout,
	}); err != nil {
		return nil, err
	}

	// Step 3: a pending event persisted before we started waiting is ours
	// to consume immediately (invariant iv).
	e.checkShutdown()
	payload, ok, err := e.store.LoadPendingEvent(ctx, e.instanceID, cfg.Type)
	if err != nil {
		return nil, &workflowerrors.StorageError{Op: "loadPendingEvent", Cause: err}
	}
	if ok {
		return e.completeWaitForEvent(ctx, name, payload)
	}

	// Step 4: race a freshly registered listener against the timeout.
	ch := e.router.register(e.instanceID, cfg.Type)
	timer := e.clock.Timer(timeout)
	defer timer.Stop()

	select {
	case payload := <-ch:
		return e.completeWaitForEvent(ctx, name, payload)
	case <-timer.C:
		e.router.unregister(e.instanceID, cfg.Type)
		// Step 6: timeout.
		if err := e.writeStepState(ctx, name, storage.StepState{
			Status: storage.StepFailed,
			Error:  ErrTimeout.Error(),
		}); err != nil {
			return nil, err
		}
		return nil, ErrTimeout
	case <-e.shutdown.Done():
		e.router.unregister(e.instanceID, cfg.Type)
		stall()
		return nil, nil // unreachable
	}
}

// replayWaitForEventError reconstructs the error for a replayed StepFailed
// waitForEvent checkpoint. A stored "Timeout" message must come back
// non-retryable, exactly as the first occurrence did, so a do step wrapping
// a waitForEvent call does not retry a timeout on replay (spec §6/§7).
func replayWaitForEventError(message string) error {
	if message == errTimeoutMessage {
		return workflowerrors.NonRetryable(workflowerrors.New(message))
	}
	return workflowerrors.New(message)
}

func (e *StepExecutor) completeWaitForEvent(ctx context.Context, name string, payload any) (any, error) {
	// Step 5: success.
	if err := e.writeStepState(ctx, name, storage.StepState{
		Status: storage.StepCompleted,
		Result: payload,
	}); err != nil {
		return nil, err
	}
	return payload, nil
}
