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

// Package disabled provides the shutdown-latch backend of spec §4.1: every
// operation blocks forever, so a runner suspended on a storage call never
// observes a result and never runs further user code. Installing this
// backend in place of the active one is how Manager.Shutdown makes the
// engine permanently quiescent (see spec §5).
package disabled

import (
	"context"

	"github.com/codehz/workflow/storage"
)

// Compile-time interface assertions.
var (
	_ storage.InstanceStore = (*Backend)(nil)
	_ storage.StepStore     = (*Backend)(nil)
	_ storage.EventStore    = (*Backend)(nil)
	_ storage.Store         = (*Backend)(nil)
)

// Backend never completes any operation. A Go function cannot literally
// never return, so each method blocks on ctx.Done() instead — the nearest
// faithful rendition of "a result that never resolves" a caller can
// cooperatively unblock from.
type Backend struct{}

// New returns the disabled backend.
func New() *Backend {
	return &Backend{}
}

func block(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *Backend) SaveInstance(ctx context.Context, id string, rec *storage.Instance) error {
	return block(ctx)
}

func (b *Backend) UpdateInstance(ctx context.Context, id string, patch storage.InstancePatch) error {
	return block(ctx)
}

func (b *Backend) LoadInstance(ctx context.Context, id string) (*storage.Instance, error) {
	return nil, block(ctx)
}

func (b *Backend) DeleteInstance(ctx context.Context, id string) error {
	return block(ctx)
}

func (b *Backend) ListInstanceSummaries(ctx context.Context) ([]storage.InstanceSummary, error) {
	return nil, block(ctx)
}

func (b *Backend) ListActiveInstances(ctx context.Context) ([]string, error) {
	return nil, block(ctx)
}

func (b *Backend) UpdateStepState(ctx context.Context, id, name string, state storage.StepState) error {
	return block(ctx)
}

func (b *Backend) LoadStepState(ctx context.Context, id, name string) (*storage.StepState, error) {
	return nil, block(ctx)
}

func (b *Backend) ClearAllStepStates(ctx context.Context, id string) error {
	return block(ctx)
}

func (b *Backend) SavePendingEvent(ctx context.Context, id, eventType string, payload any) error {
	return block(ctx)
}

func (b *Backend) LoadPendingEvent(ctx context.Context, id, eventType string) (any, bool, error) {
	return nil, false, block(ctx)
}

// Close is a no-op; the disabled backend holds no external resource.
func (b *Backend) Close() error {
	return nil
}
