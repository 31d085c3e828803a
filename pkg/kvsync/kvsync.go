// Package kvsync is the public facade over a node: construct one with
// Options, then read and mutate its replicated map without touching the
// internal packages directly.
package kvsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crdtbase/kvsync/internal/crdt"
	"github.com/crdtbase/kvsync/internal/replicator"
	"github.com/crdtbase/kvsync/internal/storage"
	"github.com/crdtbase/kvsync/internal/syncstate"
)

// Options configures a Node.
type Options struct {
	// NodeID uniquely identifies this replica. Required.
	NodeID string
	// DataPath is the bbolt file this node persists state to. Required.
	DataPath string
	// NetworkID scopes this node's gossip traffic from other networks
	// sharing the same bus. Required if Bus is set.
	NetworkID string
	// Bus is the gossip transport the replicator publishes/subscribes
	// on. A nil Bus means this node never replicates automatically;
	// callers must use Merge directly.
	Bus replicator.PubSub
	// ReplicationInterval is how often this node publishes its full
	// state. Defaults to 5 seconds if zero.
	ReplicationInterval time.Duration
	// Sealer optionally encrypts state/snapshots at rest.
	Sealer storage.Sealer
}

// Node is the public handle to one replica: its durable store, its
// guarded CRDT state, and (if configured) its background replicator.
type Node struct {
	nodeID     string
	store      *storage.BoltStore
	guard      *syncstate.Guard
	replicator *replicator.Replicator
}

// New opens the node's store, restores any previously persisted state,
// and wires up a guard. The replicator is constructed but not started;
// call Start to begin background gossip.
func New(ctx context.Context, opts Options) (*Node, error) {
	if opts.NodeID == "" {
		return nil, fmt.Errorf("kvsync: NodeID cannot be empty")
	}
	if opts.DataPath == "" {
		return nil, fmt.Errorf("kvsync: DataPath cannot be empty")
	}
	if opts.Bus != nil && opts.NetworkID == "" {
		return nil, fmt.Errorf("kvsync: NetworkID cannot be empty when Bus is set")
	}
	if ctx == nil {
		return nil, fmt.Errorf("kvsync: context cannot be nil")
	}

	store, err := storage.Open(opts.DataPath, opts.Sealer)
	if err != nil {
		return nil, fmt.Errorf("kvsync: open storage: %w", err)
	}

	state := syncstate.New(opts.NodeID)
	if raw, ok, err := store.LoadState(opts.NodeID); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("kvsync: load persisted state: %w", err)
	} else if ok {
		if err := json.Unmarshal(raw, state); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("kvsync: restore persisted state: %w", err)
		}
	}

	guard := syncstate.NewGuard(state, store)

	n := &Node{nodeID: opts.NodeID, store: store, guard: guard}

	if opts.Bus != nil {
		interval := opts.ReplicationInterval
		if interval <= 0 {
			interval = 5 * time.Second
		}
		n.replicator = replicator.New(opts.NodeID, opts.NetworkID, opts.Bus, guard, interval, nil, nil)
	}

	return n, nil
}

// Start begins background gossip replication, if a Bus was configured.
// It is a no-op otherwise.
func (n *Node) Start(ctx context.Context) error {
	if n.replicator == nil {
		return nil
	}
	return n.replicator.Start(ctx)
}

// ApplyChanges mutates this node's state, persisting before returning.
func (n *Node) ApplyChanges(ctx context.Context, changes []syncstate.Change) error {
	return n.guard.ApplyChanges(ctx, changes)
}

// Merge folds another node's full state into this one directly, without
// going through the bus — useful for point-to-point sync outside of
// gossip (e.g. a one-shot bootstrap from a seed peer).
func (n *Node) Merge(ctx context.Context, other *syncstate.State) ([]crdt.TypeMismatchError, error) {
	return n.guard.Merge(ctx, other)
}

// Snapshot returns a deep copy of this node's current state.
func (n *Node) Snapshot() *syncstate.State {
	return n.guard.Snapshot()
}

// StateHash returns the content digest of this node's current state.
func (n *Node) StateHash() string {
	return n.guard.StateHash()
}

// ExportOpLog returns this node's operation log, serialized as JSON.
func (n *Node) ExportOpLog() []byte {
	return n.guard.ExportOpLog()
}

// CleanupOldSnapshots deletes every snapshot for this node older than
// the keep most recent, through the same store handle the node already
// holds open.
func (n *Node) CleanupOldSnapshots(keep int) error {
	return n.store.CleanupOldSnapshots(n.nodeID, keep)
}

// Shutdown stops replication (if running) and closes the durable store.
func (n *Node) Shutdown() error {
	if n.replicator != nil {
		_ = n.replicator.Stop()
	}
	return n.store.Close()
}
