package oplog_test

import (
	"testing"

	"github.com/crdtbase/kvsync/internal/crdt"
	"github.com/crdtbase/kvsync/internal/oplog"
	"github.com/crdtbase/kvsync/internal/vclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAdvancesClockStrictly(t *testing.T) {
	l := oplog.New("n1")
	clock := vclock.New()
	_, advanced := l.Add(crdt.Operation{Type: crdt.OpGCounterInc, Key: "k", Node: "n1", Amount: 1}, clock)
	assert.Equal(t, vclock.Before, clock.Compare(advanced))
	require.Len(t, l.Ops, 1)
}

func TestMergeDedupsByID(t *testing.T) {
	l1 := oplog.New("n1")
	clock := vclock.New()
	e, _ := l1.Add(crdt.Operation{Type: crdt.OpGCounterInc, Key: "k", Node: "n1", Amount: 1}, clock)

	l2 := oplog.New("n2")
	l2.Ops = append(l2.Ops, e)

	l1.Merge(l2)
	assert.Len(t, l1.Ops, 1)
}

func TestMergeIsOrderIndependent(t *testing.T) {
	a := oplog.New("n1")
	a.Ops = []oplog.Entry{
		{ID: "b", Ts: 2, Op: crdt.Operation{Type: crdt.OpGCounterInc, Key: "k"}},
		{ID: "a", Ts: 1, Op: crdt.Operation{Type: crdt.OpGCounterInc, Key: "k"}},
	}
	b := oplog.New("n2")
	b.Ops = []oplog.Entry{
		{ID: "c", Ts: 1, Op: crdt.Operation{Type: crdt.OpGCounterInc, Key: "k"}},
	}

	merged1 := a.Clone()
	merged1.Merge(b)
	merged2 := b.Clone()
	merged2.Merge(a)

	require.Len(t, merged1.Ops, 3)
	require.Len(t, merged2.Ops, 3)
	for i := range merged1.Ops {
		assert.Equal(t, merged1.Ops[i].ID, merged2.Ops[i].ID)
	}
	// sorted by (ts, id): ts=1 entries "a","c" before ts=2 entry "b"
	assert.Equal(t, []string{"a", "c", "b"}, idsOf(merged1.Ops))
}

func idsOf(entries []oplog.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
