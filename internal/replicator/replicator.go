// Package replicator implements state-based gossip: each node publishes
// its full serialized state on an interval and merges whatever its
// peers publish. It never inspects or mutates CRDT semantics directly —
// it only moves whole syncstate.State blobs through the node's Merger.
package replicator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/crdtbase/kvsync/internal/crdt"
	"github.com/crdtbase/kvsync/internal/syncstate"
)

// PubSub is the narrow publish/subscribe surface the replicator depends
// on. It is satisfied both by NATSBus (production) and by an in-memory
// fake (tests), the same split the rest of this codebase uses for its
// transport-facing interfaces.
type PubSub interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte)) (Unsubscribe, error)
}

// Unsubscribe cancels a prior Subscribe call.
type Unsubscribe func() error

// Merger is the slice of syncstate.Guard the replicator needs.
type Merger interface {
	Merge(ctx context.Context, other *syncstate.State) ([]crdt.TypeMismatchError, error)
	Snapshot() *syncstate.State
}

// Replicator periodically publishes this node's state and merges
// whatever its peers publish.
type Replicator struct {
	nodeID    string
	networkID string
	bus       PubSub
	merger    Merger
	interval  time.Duration

	onPublish func()
	onMerge   func(mismatches []crdt.TypeMismatchError, err error)

	mu     sync.Mutex
	cancel context.CancelFunc
	unsub  Unsubscribe
}

// New builds a Replicator. onPublish and onMerge are optional hooks
// (metrics/logging); either may be nil.
func New(nodeID, networkID string, bus PubSub, merger Merger, interval time.Duration, onPublish func(), onMerge func([]crdt.TypeMismatchError, error)) *Replicator {
	return &Replicator{
		nodeID:    nodeID,
		networkID: networkID,
		bus:       bus,
		merger:    merger,
		interval:  interval,
		onPublish: onPublish,
		onMerge:   onMerge,
	}
}

func (r *Replicator) stateSubject() string {
	return fmt.Sprintf("kvsync.%s.state.%s", r.networkID, r.nodeID)
}

func (r *Replicator) subscribeSubject() string {
	return fmt.Sprintf("kvsync.%s.state.*", r.networkID)
}

// wireMessage is what actually crosses the bus: the state plus the id
// of whoever sent it, so a node can ignore its own echo.
type wireMessage struct {
	SenderID string           `json:"sender_id"`
	State    *syncstate.State `json:"state"`
}

// Start subscribes to peer state and begins the periodic publish loop.
// It returns once the subscription is established; publishing continues
// in the background until ctx is cancelled or Stop is called.
func (r *Replicator) Start(ctx context.Context) error {
	unsub, err := r.bus.Subscribe(r.subscribeSubject(), r.handleMessage)
	if err != nil {
		return fmt.Errorf("replicator: subscribe: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.unsub = unsub
	r.mu.Unlock()

	go r.publishLoop(loopCtx)
	return nil
}

// Stop cancels the publish loop and tears down the subscription.
func (r *Replicator) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	if r.unsub != nil {
		return r.unsub()
	}
	return nil
}

func (r *Replicator) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.publishOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.publishOnce()
		}
	}
}

func (r *Replicator) publishOnce() {
	msg := wireMessage{SenderID: r.nodeID, State: r.merger.Snapshot()}
	data, err := json.Marshal(msg)
	if err != nil {
		if r.onPublish != nil {
			r.onPublish()
		}
		return
	}
	_ = r.bus.Publish(r.stateSubject(), data)
	if r.onPublish != nil {
		r.onPublish()
	}
}

func (r *Replicator) handleMessage(data []byte) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		if r.onMerge != nil {
			r.onMerge(nil, err)
		}
		return
	}
	if msg.SenderID == r.nodeID {
		return
	}
	mismatches, err := r.merger.Merge(context.Background(), msg.State)
	if r.onMerge != nil {
		r.onMerge(mismatches, err)
	}
}
