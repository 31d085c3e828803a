// Package oplog implements the causal, append-only log of operations a
// node has seen, used both to drive replays against a CRDT map and to
// detect conflicts after the fact.
package oplog

import (
	"sort"

	"github.com/crdtbase/kvsync/internal/crdt"
	"github.com/crdtbase/kvsync/internal/vclock"
	"github.com/google/uuid"
)

// Entry is one logged operation together with the causal context it was
// minted under.
type Entry struct {
	ID     string         `json:"id"`
	Ts     int64          `json:"ts"`
	Causal vclock.Clock   `json:"causal"`
	Op     crdt.Operation `json:"op"`
}

// Log is one node's append-only operation history.
type Log struct {
	NodeID string  `json:"node_id"`
	Ops    []Entry `json:"ops"`
}

// New returns an empty log owned by nodeID.
func New(nodeID string) *Log {
	return &Log{NodeID: nodeID, Ops: make([]Entry, 0)}
}

// NowFn is overridable in tests so entry timestamps are deterministic.
var NowFn = defaultNow

// Add mints a fresh entry for op, advances clock's slot for l.NodeID and
// snapshots the result as the entry's causal context.
func (l *Log) Add(op crdt.Operation, clock vclock.Clock) (Entry, vclock.Clock) {
	advanced := clock.Increment(l.NodeID)
	entry := Entry{
		ID:     uuid.NewString(),
		Ts:     NowFn(),
		Causal: advanced.Clone(),
		Op:     op,
	}
	l.Ops = append(l.Ops, entry)
	return entry, advanced
}

// Merge unions other's entries into l, de-duplicating by id and leaving
// the result sorted by (ts, id) so replicas that merge the same entries
// in different orders end up with identical logs.
func (l *Log) Merge(other *Log) {
	if other == nil {
		return
	}
	seen := make(map[string]struct{}, len(l.Ops))
	for _, e := range l.Ops {
		seen[e.ID] = struct{}{}
	}
	for _, e := range other.Ops {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		l.Ops = append(l.Ops, e)
	}
	sort.Slice(l.Ops, func(i, j int) bool {
		if l.Ops[i].Ts != l.Ops[j].Ts {
			return l.Ops[i].Ts < l.Ops[j].Ts
		}
		return l.Ops[i].ID < l.Ops[j].ID
	})
}

// Clone returns an independent copy of l.
func (l *Log) Clone() *Log {
	out := New(l.NodeID)
	out.Ops = append(out.Ops, l.Ops...)
	return out
}

func defaultNow() int64 {
	return nowMillis()
}
