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

// Package kv provides a key-value storage backend on top of bbolt: one
// bucket per record kind, plus a sorted index bucket whose keys pack
// statusScore into the top bits above createdAt (see indexKey) so that
// ListActiveInstances is a single range scan instead of a full bucket walk.
package kv

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	workflowerrors "github.com/codehz/workflow/pkg/errors"
	"github.com/codehz/workflow/storage"
)

// Compile-time interface assertions.
var (
	_ storage.InstanceStore = (*Backend)(nil)
	_ storage.StepStore     = (*Backend)(nil)
	_ storage.EventStore    = (*Backend)(nil)
	_ storage.Store         = (*Backend)(nil)
)

var (
	bucketInstances   = []byte("instances")
	bucketSteps       = []byte("steps")
	bucketEvents      = []byte("pendingEvents")
	bucketStatusIndex = []byte("statusIndex")
)

// statusScore occupies the top 2 bits of the 64-bit index key, createdAt's
// nanosecond timestamp the bottom 62 — bit-packing rather than the naive
// statusScore*TIME_MULT+createdAt addition from spec §6, so bands can never
// overflow into one another regardless of how far createdAt is in the
// future.
const timeBits = 62

// Backend is a bbolt-backed storage backend.
type Backend struct {
	db *bolt.DB
}

// Config configures the bbolt backend.
type Config struct {
	// Path is the database file path.
	Path string
}

// New opens (creating if absent) the bbolt database at cfg.Path and
// ensures its buckets exist.
func New(cfg Config) (*Backend, error) {
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketInstances, bucketSteps, bucketEvents, bucketStatusIndex} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Backend{db: db}, nil
}

// statusScore mirrors spec §6: terminated=0, complete=1, otherwise 2 — so
// every active instance's index key falls in the [2<<timeBits, 3<<timeBits)
// band.
func statusScore(s storage.Status) int64 {
	switch s {
	case storage.StatusTerminated:
		return 0
	case storage.StatusComplete:
		return 1
	default:
		return 2
	}
}

func indexKey(score int64, createdAt time.Time, id string) []byte {
	packed := uint64(score)<<timeBits | (uint64(createdAt.UnixNano()) & ((1 << timeBits) - 1))
	k := make([]byte, 8+len(id))
	binary.BigEndian.PutUint64(k[:8], packed)
	copy(k[8:], id)
	return k
}

func stepKeyBytes(id, name string) []byte {
	return []byte(id + "\x00" + name)
}

func eventKeyBytes(id, eventType string) []byte {
	return []byte(id + "\x00" + eventType)
}

// SaveInstance writes a new record and its status-index entry.
func (b *Backend) SaveInstance(ctx context.Context, id string, rec *storage.Instance) error {
	cp := *rec
	cp.ID = id
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = cp.CreatedAt

	data, err := json.Marshal(&cp)
	if err != nil {
		return storageErr("marshal instance", err)
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketInstances).Put([]byte(id), data); err != nil {
			return err
		}
		return tx.Bucket(bucketStatusIndex).Put(indexKey(statusScore(cp.Status), cp.CreatedAt, id), []byte(id))
	})
	if err != nil {
		return storageErr("save instance", err)
	}
	return nil
}

// UpdateInstance merge-patches an existing record, re-indexing it if the
// status changed.
func (b *Backend) UpdateInstance(ctx context.Context, id string, patch storage.InstancePatch) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketInstances)
		raw := bkt.Get([]byte(id))
		if raw == nil {
			return &workflowerrors.NotFoundError{Resource: "instance", ID: id}
		}

		var rec storage.Instance
		if err := json.Unmarshal(raw, &rec); err != nil {
			return storageErr("unmarshal instance", err)
		}

		oldScore := statusScore(rec.Status)
		if patch.Status != nil {
			rec.Status = *patch.Status
		}
		if patch.Output != nil {
			rec.Output = patch.Output
		}
		if patch.ClearOutput {
			rec.Output = nil
		}
		if patch.Error != nil {
			rec.Error = *patch.Error
		}
		if patch.ClearError {
			rec.Error = ""
		}
		rec.UpdatedAt = time.Now()

		data, err := json.Marshal(&rec)
		if err != nil {
			return storageErr("marshal instance", err)
		}
		if err := bkt.Put([]byte(id), data); err != nil {
			return err
		}

		newScore := statusScore(rec.Status)
		if newScore != oldScore {
			idx := tx.Bucket(bucketStatusIndex)
			if err := idx.Delete(indexKey(oldScore, rec.CreatedAt, id)); err != nil {
				return err
			}
			if err := idx.Put(indexKey(newScore, rec.CreatedAt, id), []byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadInstance returns the full record, or nil if absent or missing Event.
func (b *Backend) LoadInstance(ctx context.Context, id string) (*storage.Instance, error) {
	var rec *storage.Instance
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketInstances).Get([]byte(id))
		if raw == nil {
			return nil
		}
		var r storage.Instance
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		if r.Event == nil {
			return nil
		}
		rec = &r
		return nil
	})
	if err != nil {
		return nil, storageErr("load instance", err)
	}
	return rec, nil
}

// DeleteInstance removes the record, its status-index entry, and all of
// its step checkpoints and pending events.
func (b *Backend) DeleteInstance(ctx context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		instBkt := tx.Bucket(bucketInstances)
		raw := instBkt.Get([]byte(id))
		if raw != nil {
			var rec storage.Instance
			if err := json.Unmarshal(raw, &rec); err == nil {
				tx.Bucket(bucketStatusIndex).Delete(indexKey(statusScore(rec.Status), rec.CreatedAt, id))
			}
		}
		if err := instBkt.Delete([]byte(id)); err != nil {
			return err
		}

		prefix := []byte(id + "\x00")
		if err := deletePrefix(tx.Bucket(bucketSteps), prefix); err != nil {
			return err
		}
		return deletePrefix(tx.Bucket(bucketEvents), prefix)
	})
}

func deletePrefix(bkt *bolt.Bucket, prefix []byte) error {
	c := bkt.Cursor()
	var toDelete [][]byte
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		key := append([]byte(nil), k...)
		toDelete = append(toDelete, key)
	}
	for _, k := range toDelete {
		if err := bkt.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}

// ListInstanceSummaries returns {id, status} for every known instance.
func (b *Backend) ListInstanceSummaries(ctx context.Context) ([]storage.InstanceSummary, error) {
	var out []storage.InstanceSummary
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
			var rec storage.Instance
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, storage.InstanceSummary{ID: string(k), Status: rec.Status})
			return nil
		})
	})
	if err != nil {
		return nil, storageErr("list instance summaries", err)
	}
	return out, nil
}

// ListActiveInstances returns IDs whose status is neither complete nor
// terminated via a single range scan over the status index's active band
// ([2<<timeBits, 3<<timeBits)).
func (b *Backend) ListActiveInstances(ctx context.Context) ([]string, error) {
	var out []string
	lo := make([]byte, 8)
	binary.BigEndian.PutUint64(lo, uint64(2)<<timeBits)
	hi := make([]byte, 8)
	binary.BigEndian.PutUint64(hi, uint64(3)<<timeBits)

	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketStatusIndex).Cursor()
		for k, v := c.Seek(lo); k != nil && string(k[:8]) < string(hi); k, v = c.Next() {
			out = append(out, string(v))
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("list active instances", err)
	}
	return out, nil
}

// UpdateStepState upserts the checkpoint for (id, name).
func (b *Backend) UpdateStepState(ctx context.Context, id, name string, state storage.StepState) error {
	data, err := json.Marshal(&state)
	if err != nil {
		return storageErr("marshal step state", err)
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSteps).Put(stepKeyBytes(id, name), data)
	})
	if err != nil {
		return storageErr("update step state", err)
	}
	return nil
}

// LoadStepState returns the checkpoint for (id, name), or nil if unset.
func (b *Backend) LoadStepState(ctx context.Context, id, name string) (*storage.StepState, error) {
	var state *storage.StepState
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSteps).Get(stepKeyBytes(id, name))
		if raw == nil {
			return nil
		}
		var s storage.StepState
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		state = &s
		return nil
	})
	if err != nil {
		return nil, storageErr("load step state", err)
	}
	return state, nil
}

// ClearAllStepStates removes every checkpoint for id.
func (b *Backend) ClearAllStepStates(ctx context.Context, id string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return deletePrefix(tx.Bucket(bucketSteps), []byte(id+"\x00"))
	})
	if err != nil {
		return storageErr("clear step states", err)
	}
	return nil
}

// SavePendingEvent is first-wins: a no-op if an entry already exists.
func (b *Backend) SavePendingEvent(ctx context.Context, id, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return storageErr("marshal pending event", err)
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketEvents)
		key := eventKeyBytes(id, eventType)
		if bkt.Get(key) != nil {
			return nil
		}
		return bkt.Put(key, data)
	})
	if err != nil {
		return storageErr("save pending event", err)
	}
	return nil
}

// LoadPendingEvent atomically returns-and-removes the pending entry.
func (b *Backend) LoadPendingEvent(ctx context.Context, id, eventType string) (any, bool, error) {
	var payload any
	var found bool

	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketEvents)
		key := eventKeyBytes(id, eventType)
		raw := bkt.Get(key)
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return err
		}
		found = true
		return bkt.Delete(key)
	})
	if err != nil {
		return nil, false, storageErr("load pending event", err)
	}
	return payload, found, nil
}

// Close closes the underlying bbolt database.
func (b *Backend) Close() error {
	return b.db.Close()
}

func storageErr(op string, cause error) error {
	return &workflowerrors.StorageError{Op: op, Cause: cause}
}
