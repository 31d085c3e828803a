// Package syncstate ties a node's CRDT map and operation log together
// behind the single lock that the rest of the system synchronizes on.
package syncstate

import (
	"fmt"
	"time"

	"github.com/crdtbase/kvsync/internal/crdt"
	"github.com/crdtbase/kvsync/internal/oplog"
	"github.com/crdtbase/kvsync/internal/vclock"
	"github.com/google/uuid"
)

// State is the full replicated state owned by one node: its view of the
// CRDT map, its causal operation log, and the vector clock used to mint
// new causal contexts.
type State struct {
	NodeID string       `json:"node_id"`
	Map    *crdt.Map    `json:"map"`
	Log    *oplog.Log   `json:"log"`
	Clock  vclock.Clock `json:"clock"`
}

// New returns an empty state owned by nodeID.
func New(nodeID string) *State {
	return &State{
		NodeID: nodeID,
		Map:    crdt.NewMap(),
		Log:    oplog.New(nodeID),
		Clock:  vclock.New(),
	}
}

// ChangeKind is the client-facing vocabulary ApplyChanges translates
// into the underlying Operation variants (every variant except
// OpGCounterInc, which no change kind produces).
type ChangeKind string

const (
	ChangeIncrement ChangeKind = "increment"
	ChangeDecrement ChangeKind = "decrement"
	ChangeSet       ChangeKind = "set"
	ChangeAdd       ChangeKind = "add"
	ChangeRemove    ChangeKind = "remove"
)

// Change is one client-requested mutation, expressed independently of
// which CRDT primitive ends up backing Key.
type Change struct {
	Key     string     `json:"key"`
	Kind    ChangeKind `json:"kind"`
	Amount  uint64     `json:"amount,omitempty"`
	Value   string     `json:"value,omitempty"`
	Element string     `json:"element,omitempty"`
}

// ApplyOperation logs op under the node's own clock and replays it
// against the map. Logging happens first: if the map rejects the
// operation (a type mismatch against an existing key), the entry still
// exists in the log so history reflects what was attempted.
func (s *State) ApplyOperation(op crdt.Operation) error {
	entry, advanced := s.Log.Add(op, s.Clock)
	s.Clock = advanced
	if err := crdt.Apply(s.Map, entry.Op); err != nil {
		return err
	}
	return nil
}

// ApplyChanges translates each Change into the matching Operation, using
// kind to decide which CRDT primitive it targets, and applies them in
// order. It stops at the first error: changes already applied earlier in
// the same call remain applied, and the failing change plus everything
// after it in the list are not. There is no rollback.
func (s *State) ApplyChanges(changes []Change) error {
	for i, c := range changes {
		op, err := s.translate(c)
		if err != nil {
			return fmt.Errorf("change %d (key=%q): %w", i, c.Key, err)
		}
		if err := s.ApplyOperation(op); err != nil {
			return fmt.Errorf("change %d (key=%q): %w", i, c.Key, err)
		}
	}
	return nil
}

func (s *State) translate(c Change) (crdt.Operation, error) {
	now := time.Now().UnixMilli()
	switch c.Kind {
	case ChangeIncrement:
		return crdt.Operation{Type: crdt.OpPNCounterInc, Key: c.Key, Node: s.NodeID, Amount: c.Amount}, nil
	case ChangeDecrement:
		return crdt.Operation{Type: crdt.OpPNCounterDec, Key: c.Key, Node: s.NodeID, Amount: c.Amount}, nil
	case ChangeSet:
		return crdt.Operation{Type: crdt.OpLWWSet, Key: c.Key, Value: c.Value, Ts: now, Writer: s.NodeID}, nil
	case ChangeAdd:
		return crdt.Operation{Type: crdt.OpORSetAdd, Key: c.Key, Element: c.Element, Tag: uuid.NewString()}, nil
	case ChangeRemove:
		return crdt.Operation{Type: crdt.OpORSetRemove, Key: c.Key, Element: c.Element}, nil
	default:
		return crdt.Operation{}, fmt.Errorf("syncstate: unknown change kind %q", c.Kind)
	}
}

// Merge folds other into s: the operation log first, then the CRDT map,
// matching the order the wider system relies on for convergence.
func (s *State) Merge(other *State) []crdt.TypeMismatchError {
	if other == nil {
		return nil
	}
	s.Log.Merge(other.Log)
	s.Clock = s.Clock.Merge(other.Clock)
	return s.Map.Merge(other.Map)
}

// StateHash is the content digest of the node's CRDT map.
func (s *State) StateHash() string {
	return s.Map.StateHash()
}

// ExportOpLog returns every logged entry, sorted as the log maintains it.
func (s *State) ExportOpLog() []oplog.Entry {
	return s.Log.Ops
}

// Clone returns an independent deep copy of s.
func (s *State) Clone() *State {
	return &State{
		NodeID: s.NodeID,
		Map:    s.Map.Clone(),
		Log:    s.Log.Clone(),
		Clock:  s.Clock.Clone(),
	}
}
