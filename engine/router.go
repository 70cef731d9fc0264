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
	"sync"

	"github.com/codehz/workflow/storage"
)

// routerKey identifies a one-shot listener: one instance waiting for one
// event type.
type routerKey struct {
	instanceID string
	eventType  string
}

// eventRouter implements spec §4.5: route an incoming event to an
// actively-waiting step if one exists, otherwise persist it as a pending
// event for a future waiter to consume.
type eventRouter struct {
	mu        sync.Mutex
	listeners map[routerKey]chan any
}

func newEventRouter() *eventRouter {
	return &eventRouter{listeners: map[routerKey]chan any{}}
}

// register installs a one-shot listener for (instanceID, eventType) and
// returns the channel its payload arrives on. The caller must unregister
// if it gives up waiting (e.g. on timeout) to avoid leaking the entry.
func (r *eventRouter) register(instanceID, eventType string) chan any {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan any, 1)
	r.listeners[routerKey{instanceID, eventType}] = ch
	return ch
}

// unregister removes a listener if it is still present (i.e. it was never
// fulfilled). It is a no-op otherwise.
func (r *eventRouter) unregister(instanceID, eventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, routerKey{instanceID, eventType})
}

// sendEvent implements spec §4.5 step 1-2: hand off to a live listener if
// one is registered, otherwise fall back to the storage-backed pending
// event (first-wins, per EventStore.SavePendingEvent).
func (r *eventRouter) sendEvent(ctx context.Context, events storage.EventStore, instanceID, eventType string, payload any) error {
	key := routerKey{instanceID, eventType}

	r.mu.Lock()
	ch, ok := r.listeners[key]
	if ok {
		delete(r.listeners, key)
	}
	r.mu.Unlock()

	if ok {
		ch <- payload
		return nil
	}
	return events.SavePendingEvent(ctx, instanceID, eventType, payload)
}
