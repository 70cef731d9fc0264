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

// Package clock re-exports benbjohnson/clock so the engine's sleeps,
// retry backoffs, and waitForEvent timeouts go through one injectable
// seam. Production code uses clock.New() (a thin wrapper over the real
// wall clock); the step executor's unit tests use clock.NewMock() to
// advance time deterministically instead of racing real sleeps. The
// end-to-end scenario tests run on the real clock.
package clock

import "github.com/benbjohnson/clock"

// Clock abstracts wall-clock time so it can be faked in tests.
type Clock = clock.Clock

// Mock is a controllable clock for deterministic tests.
type Mock = clock.Mock

// New returns a Clock backed by the real wall clock.
func New() Clock {
	return clock.New()
}

// NewMock returns a Mock clock initialized to the Unix epoch.
func NewMock() *Mock {
	return clock.NewMock()
}
