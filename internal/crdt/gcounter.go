package crdt

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
)

// GCounter is a grow-only counter: each node may only increment its own
// slot, so merging two counters by taking the pointwise maximum can
// never lose an increment.
type GCounter struct {
	Counts map[string]uint64 `json:"counts"`
}

// NewGCounter returns an empty counter.
func NewGCounter() *GCounter {
	return &GCounter{Counts: make(map[string]uint64)}
}

// Increment adds amount to nodeID's slot.
func (g *GCounter) Increment(nodeID string, amount uint64) {
	if g.Counts == nil {
		g.Counts = make(map[string]uint64)
	}
	g.Counts[nodeID] += amount
}

// Value is the sum of every node's slot.
func (g *GCounter) Value() uint64 {
	var total uint64
	for _, v := range g.Counts {
		total += v
	}
	return total
}

// Merge folds other into g by taking the pointwise max of every slot.
func (g *GCounter) Merge(other *GCounter) {
	if other == nil {
		return
	}
	if g.Counts == nil {
		g.Counts = make(map[string]uint64)
	}
	for node, v := range other.Counts {
		if v > g.Counts[node] {
			g.Counts[node] = v
		}
	}
}

// Clone returns an independent copy of g.
func (g *GCounter) Clone() *GCounter {
	out := NewGCounter()
	for k, v := range g.Counts {
		out.Counts[k] = v
	}
	return out
}

// encode returns the canonical byte layout of g: nodes sorted lexically,
// each contributing its id followed by its count as 8 little-endian
// bytes. This is the raw sequence a digest is computed over, not a
// digest itself.
func (g *GCounter) encode() []byte {
	nodes := make([]string, 0, len(g.Counts))
	for n := range g.Counts {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	var buf []byte
	for _, n := range nodes {
		buf = append(buf, []byte(n)...)
		var amt [8]byte
		binary.LittleEndian.PutUint64(amt[:], g.Counts[n])
		buf = append(buf, amt[:]...)
	}
	return buf
}

// StateHash is the hex-encoded SHA-256 of g's canonical byte layout.
func (g *GCounter) StateHash() string {
	sum := sha256.Sum256(g.encode())
	return hexString(sum[:])
}
