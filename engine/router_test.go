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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codehz/workflow/storage/memory"
)

func TestEventRouter_SendWithoutListenerPersistsPendingEvent(t *testing.T) {
	store := memory.New()
	r := newEventRouter()

	require.NoError(t, r.sendEvent(context.Background(), store, "inst-1", "greeting", "hello"))

	payload, ok, err := store.LoadPendingEvent(context.Background(), "inst-1", "greeting")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", payload)
}

func TestEventRouter_SendWithListenerBypassesStorage(t *testing.T) {
	store := memory.New()
	r := newEventRouter()

	ch := r.register("inst-1", "greeting")
	require.NoError(t, r.sendEvent(context.Background(), store, "inst-1", "greeting", "hello"))

	assert.Equal(t, "hello", <-ch)

	_, ok, err := store.LoadPendingEvent(context.Background(), "inst-1", "greeting")
	require.NoError(t, err)
	assert.False(t, ok, "no pending event should be left in storage once the listener consumed it")
}

func TestEventRouter_UnregisterRemovesListener(t *testing.T) {
	store := memory.New()
	r := newEventRouter()

	r.register("inst-1", "greeting")
	r.unregister("inst-1", "greeting")

	require.NoError(t, r.sendEvent(context.Background(), store, "inst-1", "greeting", "hello"))

	_, ok, err := store.LoadPendingEvent(context.Background(), "inst-1", "greeting")
	require.NoError(t, err)
	assert.True(t, ok, "once unregistered, a send should fall back to the pending store")
}
