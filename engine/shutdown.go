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

import "sync"

// shutdownLatch is the single engine-wide, one-way flag of spec §5: once
// raised, every subsequent suspension point in every active step abandons
// its computation rather than returning a result.
type shutdownLatch struct {
	once sync.Once
	ch   chan struct{}
}

func newShutdownLatch() *shutdownLatch {
	return &shutdownLatch{ch: make(chan struct{})}
}

// Raise sets the latch. Idempotent.
func (s *shutdownLatch) Raise() {
	s.once.Do(func() { close(s.ch) })
}

// Raised reports whether the latch has been set, without blocking.
func (s *shutdownLatch) Raised() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel that closes when the latch is raised.
func (s *shutdownLatch) Done() <-chan struct{} {
	return s.ch
}

// stall blocks forever. It is how a suspension point "returns a value that
// will never resolve" once shutdown is observed (spec §4.3): a Go call
// cannot literally not return, so it instead parks its goroutine
// permanently, matching the disabled storage backend's own idiom.
func stall() {
	select {}
}
