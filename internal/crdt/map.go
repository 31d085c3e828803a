package crdt

import (
	"crypto/sha256"
	"sort"
)

// Map is a heterogeneous, key-addressed collection of CRDT values. Each
// key owns exactly one Kind for its lifetime; Apply and Merge both
// refuse to change a key's kind once it has been observed.
type Map struct {
	Entries map[string]Value `json:"entries"`
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{Entries: make(map[string]Value)}
}

func (m *Map) ensure() {
	if m.Entries == nil {
		m.Entries = make(map[string]Value)
	}
}

// Get returns the value at key and whether it was present.
func (m *Map) Get(key string) (Value, bool) {
	m.ensure()
	v, ok := m.Entries[key]
	return v, ok
}

// Set inserts or overwrites the entry at key.
func (m *Map) Set(key string, v Value) {
	m.ensure()
	m.Entries[key] = v
}

// Keys returns every key in sorted order.
func (m *Map) Keys() []string {
	m.ensure()
	keys := make([]string, 0, len(m.Entries))
	for k := range m.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TypeMismatchError describes one key that could not be merged because
// the two replicas disagree about its Kind. Merge reports these in its
// returned slice instead of failing; Apply reports a kind conflict as a
// plain error, not as this type.
type TypeMismatchError struct {
	Key      string
	LocalKind, RemoteKind Kind
}

func (e TypeMismatchError) Error() string {
	return "crdt: type mismatch at key " + e.Key + ": local=" + string(e.LocalKind) + " remote=" + string(e.RemoteKind)
}

// Merge folds other into m key by key. A type mismatch at a given key
// does not fail the merge: the local value is retained and the mismatch
// is collected so the caller can log it, per the "retain local, warn,
// merge succeeds" contract.
func (m *Map) Merge(other *Map) []TypeMismatchError {
	m.ensure()
	if other == nil {
		return nil
	}
	other.ensure()

	var mismatches []TypeMismatchError
	for key, remote := range other.Entries {
		local, exists := m.Entries[key]
		if !exists {
			m.Entries[key] = remote.Clone()
			continue
		}
		if local.Kind != remote.Kind {
			mismatches = append(mismatches, TypeMismatchError{Key: key, LocalKind: local.Kind, RemoteKind: remote.Kind})
			continue
		}
		if err := local.Merge(remote); err != nil {
			mismatches = append(mismatches, TypeMismatchError{Key: key, LocalKind: local.Kind, RemoteKind: remote.Kind})
			continue
		}
		m.Entries[key] = local
	}
	return mismatches
}

// Clone returns an independent deep copy of m.
func (m *Map) Clone() *Map {
	m.ensure()
	out := NewMap()
	for k, v := range m.Entries {
		out.Entries[k] = v.Clone()
	}
	return out
}

// StateHash is the content digest of the whole map: keys are visited in
// ascending order and each contributes its raw UTF-8 key bytes followed
// directly by the wrapped primitive's canonical byte layout.
func (m *Map) StateHash() string {
	m.ensure()
	h := sha256.New()
	for _, key := range m.Keys() {
		v := m.Entries[key]
		h.Write([]byte(key))
		h.Write(v.encode())
	}
	return hexString(h.Sum(nil))
}
