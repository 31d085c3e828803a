package crdt

import "fmt"

// Kind identifies which CRDT primitive a Value wraps.
type Kind string

const (
	KindGCounter    Kind = "gcounter"
	KindPNCounter   Kind = "pncounter"
	KindLWWRegister Kind = "lww-register"
	KindORSet       Kind = "orset"
)

// Value is a heterogeneous CRDT wrapper: exactly one of its fields is
// populated, matching Kind. It serializes as a tagged JSON object so a
// CRDTMap can hold different primitive types under different keys.
type Value struct {
	Kind      Kind         `json:"kind"`
	GCounter  *GCounter    `json:"gcounter,omitempty"`
	PNCounter *PNCounter   `json:"pncounter,omitempty"`
	LWW       *LWWRegister `json:"lww_register,omitempty"`
	ORSet     *ORSet       `json:"orset,omitempty"`
}

func GCounterValue(g *GCounter) Value    { return Value{Kind: KindGCounter, GCounter: g} }
func PNCounterValue(c *PNCounter) Value  { return Value{Kind: KindPNCounter, PNCounter: c} }
func LWWValue(r *LWWRegister) Value      { return Value{Kind: KindLWWRegister, LWW: r} }
func ORSetValue(s *ORSet) Value          { return Value{Kind: KindORSet, ORSet: s} }

// Clone returns an independent copy of v.
func (v Value) Clone() Value {
	switch v.Kind {
	case KindGCounter:
		return GCounterValue(v.GCounter.Clone())
	case KindPNCounter:
		return PNCounterValue(v.PNCounter.Clone())
	case KindLWWRegister:
		return LWWValue(v.LWW.Clone())
	case KindORSet:
		return ORSetValue(v.ORSet.Clone())
	default:
		return Value{}
	}
}

// StateHash dispatches to the wrapped primitive's digest.
func (v Value) StateHash() string {
	switch v.Kind {
	case KindGCounter:
		return v.GCounter.StateHash()
	case KindPNCounter:
		return v.PNCounter.StateHash()
	case KindLWWRegister:
		return v.LWW.StateHash()
	case KindORSet:
		return v.ORSet.StateHash()
	default:
		return ""
	}
}

// encode dispatches to the wrapped primitive's canonical byte layout, the
// raw contribution a CRDTMap digest folds in for this key.
func (v Value) encode() []byte {
	switch v.Kind {
	case KindGCounter:
		return v.GCounter.encode()
	case KindPNCounter:
		return v.PNCounter.encode()
	case KindLWWRegister:
		return v.LWW.encode()
	case KindORSet:
		return v.ORSet.encode()
	default:
		return nil
	}
}

// Merge folds other into v in place. A type mismatch is reported to the
// caller so it can decide how to log it; v is left untouched (the local
// value is retained, per the merge contract for heterogeneous maps).
func (v *Value) Merge(other Value) error {
	if v.Kind != other.Kind {
		return fmt.Errorf("crdt: cannot merge %s into %s", other.Kind, v.Kind)
	}
	switch v.Kind {
	case KindGCounter:
		v.GCounter.Merge(other.GCounter)
	case KindPNCounter:
		v.PNCounter.Merge(other.PNCounter)
	case KindLWWRegister:
		v.LWW.Merge(other.LWW)
	case KindORSet:
		v.ORSet.Merge(other.ORSet)
	default:
		return fmt.Errorf("crdt: unknown value kind %q", v.Kind)
	}
	return nil
}
