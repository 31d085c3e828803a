package crdt

import "fmt"

// OpType identifies one of the six mutation shapes that can be logged
// and replayed against a Map.
type OpType string

const (
	OpGCounterInc  OpType = "gcounter-inc"
	OpPNCounterInc OpType = "pncounter-inc"
	OpPNCounterDec OpType = "pncounter-dec"
	OpLWWSet       OpType = "lww-set"
	OpORSetAdd     OpType = "orset-add"
	OpORSetRemove  OpType = "orset-remove"
)

// Operation is a single CRDT mutation, addressed at one Map key. Only
// the fields relevant to Type are populated; this mirrors the tagged
// wire format of the six variants it can take.
type Operation struct {
	Type    OpType `json:"type"`
	Key     string `json:"key"`
	Node    string `json:"node,omitempty"`
	Amount  uint64 `json:"amount,omitempty"`
	Value   string `json:"value,omitempty"`
	Ts      int64  `json:"ts,omitempty"`
	Writer  string `json:"writer,omitempty"`
	Element string `json:"element,omitempty"`
	Tag     string `json:"tag,omitempty"`
}

// Apply replays op against m, creating the target entry with its zero
// value on first touch. It returns an error if the key already holds a
// value of a different Kind than op requires.
func Apply(m *Map, op Operation) error {
	m.ensure()

	switch op.Type {
	case OpGCounterInc:
		v, err := entryOrInit(m, op.Key, KindGCounter, func() Value { return GCounterValue(NewGCounter()) })
		if err != nil {
			return err
		}
		v.GCounter.Increment(op.Node, op.Amount)
		m.Entries[op.Key] = v
		return nil

	case OpPNCounterInc:
		v, err := entryOrInit(m, op.Key, KindPNCounter, func() Value { return PNCounterValue(NewPNCounter()) })
		if err != nil {
			return err
		}
		v.PNCounter.Increment(op.Node, op.Amount)
		m.Entries[op.Key] = v
		return nil

	case OpPNCounterDec:
		v, err := entryOrInit(m, op.Key, KindPNCounter, func() Value { return PNCounterValue(NewPNCounter()) })
		if err != nil {
			return err
		}
		v.PNCounter.Decrement(op.Node, op.Amount)
		m.Entries[op.Key] = v
		return nil

	case OpLWWSet:
		v, err := entryOrInit(m, op.Key, KindLWWRegister, func() Value { return LWWValue(NewLWWRegister("", 0, "")) })
		if err != nil {
			return err
		}
		v.LWW.Set(op.Value, op.Ts, op.Writer)
		m.Entries[op.Key] = v
		return nil

	case OpORSetAdd:
		v, err := entryOrInit(m, op.Key, KindORSet, func() Value { return ORSetValue(NewORSet()) })
		if err != nil {
			return err
		}
		v.ORSet.Add(op.Element, op.Tag)
		m.Entries[op.Key] = v
		return nil

	case OpORSetRemove:
		v, err := entryOrInit(m, op.Key, KindORSet, func() Value { return ORSetValue(NewORSet()) })
		if err != nil {
			return err
		}
		v.ORSet.Remove(op.Element)
		m.Entries[op.Key] = v
		return nil

	default:
		return fmt.Errorf("crdt: unknown operation type %q", op.Type)
	}
}

func entryOrInit(m *Map, key string, want Kind, zero func() Value) (Value, error) {
	if existing, ok := m.Entries[key]; ok {
		if existing.Kind != want {
			return Value{}, fmt.Errorf("crdt: key %q holds %s, cannot apply %s operation", key, existing.Kind, want)
		}
		return existing, nil
	}
	return zero(), nil
}
