package crdt

import "crypto/sha256"

// PNCounter supports both increment and decrement by tracking increments
// and decrements in two independent GCounters.
type PNCounter struct {
	P *GCounter `json:"p"`
	N *GCounter `json:"n"`
}

// NewPNCounter returns a zero-valued counter.
func NewPNCounter() *PNCounter {
	return &PNCounter{P: NewGCounter(), N: NewGCounter()}
}

// Increment adds amount to nodeID's positive slot.
func (c *PNCounter) Increment(nodeID string, amount uint64) {
	c.ensure()
	c.P.Increment(nodeID, amount)
}

// Decrement adds amount to nodeID's negative slot.
func (c *PNCounter) Decrement(nodeID string, amount uint64) {
	c.ensure()
	c.N.Increment(nodeID, amount)
}

// Value is P's total minus N's total, as a signed integer.
func (c *PNCounter) Value() int64 {
	c.ensure()
	return int64(c.P.Value()) - int64(c.N.Value())
}

// Merge folds other's P and N into c.
func (c *PNCounter) Merge(other *PNCounter) {
	c.ensure()
	if other == nil {
		return
	}
	other.ensure()
	c.P.Merge(other.P)
	c.N.Merge(other.N)
}

// Clone returns an independent copy of c.
func (c *PNCounter) Clone() *PNCounter {
	c.ensure()
	return &PNCounter{P: c.P.Clone(), N: c.N.Clone()}
}

func (c *PNCounter) ensure() {
	if c.P == nil {
		c.P = NewGCounter()
	}
	if c.N == nil {
		c.N = NewGCounter()
	}
}

// encode returns "positive:" + SHA-256(P's layout) + "negative:" +
// SHA-256(N's layout): the only place a nested hash appears in the
// digest scheme, since P and N must be told apart without ambiguity.
func (c *PNCounter) encode() []byte {
	c.ensure()
	pd := sha256.Sum256(c.P.encode())
	nd := sha256.Sum256(c.N.encode())

	var buf []byte
	buf = append(buf, []byte("positive:")...)
	buf = append(buf, pd[:]...)
	buf = append(buf, []byte("negative:")...)
	buf = append(buf, nd[:]...)
	return buf
}

// StateHash is the hex-encoded SHA-256 of c's canonical byte layout.
func (c *PNCounter) StateHash() string {
	sum := sha256.Sum256(c.encode())
	return hexString(sum[:])
}
