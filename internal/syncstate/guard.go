package syncstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/crdtbase/kvsync/internal/crdt"
)

// Persister is the narrow slice of storage the guard needs: durably
// save the node's serialized state. It is satisfied by
// internal/storage's Store.
type Persister interface {
	SaveState(nodeID string, data []byte) error
}

// Guard serializes every mutation to one State behind a single
// readers-writer lock, and durably persists the result before a mutating
// call returns — so a caller that observes success knows the change
// survives a crash, and a caller that cancels never sees a half-applied
// write acknowledged.
type Guard struct {
	mu      sync.RWMutex
	state   *State
	storage Persister
}

// NewGuard wraps state behind a lock, persisting through storage on
// every mutation. storage may be nil, in which case mutations are
// in-memory only (used by tests that don't exercise durability).
func NewGuard(state *State, storage Persister) *Guard {
	return &Guard{state: state, storage: storage}
}

// ApplyChanges takes the write lock, applies changes, persists, and only
// then releases the lock — so a reader can never observe a state whose
// on-disk copy lags what's in memory.
func (g *Guard) ApplyChanges(ctx context.Context, changes []Change) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.state.ApplyChanges(changes); err != nil {
		// changes applied before the failing one stay in memory, so they
		// are persisted too
		if perr := g.persistLocked(); perr != nil {
			return perr
		}
		return err
	}
	return g.persistLocked()
}

// Merge takes the write lock, merges other into the guarded state,
// persists, and reports any type mismatches encountered along the way.
func (g *Guard) Merge(ctx context.Context, other *State) ([]crdt.TypeMismatchError, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mismatches := g.state.Merge(other)
	if err := g.persistLocked(); err != nil {
		return mismatches, err
	}
	return mismatches, nil
}

func (g *Guard) persistLocked() error {
	if g.storage == nil {
		return nil
	}
	data, err := json.Marshal(g.state)
	if err != nil {
		return fmt.Errorf("syncstate: marshal state: %w", err)
	}
	if err := g.storage.SaveState(g.state.NodeID, data); err != nil {
		return fmt.Errorf("syncstate: persist state: %w", err)
	}
	return nil
}

// Snapshot returns a deep copy of the guarded state under a read lock,
// safe for the caller to inspect or serialize without racing mutators.
func (g *Guard) Snapshot() *State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state.Clone()
}

// StateHash returns the current content digest under a read lock.
func (g *Guard) StateHash() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state.StateHash()
}

// ExportOpLog returns the current operation log under a read lock.
func (g *Guard) ExportOpLog() []byte {
	g.mu.RLock()
	defer g.mu.RUnlock()
	data, _ := json.Marshal(g.state.ExportOpLog())
	return data
}
