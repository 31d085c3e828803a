// Package conflict surfaces concurrent last-writer-wins updates to the
// same key so an operator can see what got silently resolved.
package conflict

import (
	"github.com/crdtbase/kvsync/internal/crdt"
	"github.com/crdtbase/kvsync/internal/oplog"
	"github.com/crdtbase/kvsync/internal/vclock"
)

// Conflict describes one key where two or more LWWSet operations were
// concurrent (neither happened-before the other), together with which
// one the register actually resolved to.
type Conflict struct {
	Key        string        `json:"key"`
	Concurrent []oplog.Entry `json:"concurrent"`
	Winner     oplog.Entry   `json:"winner"`
}

// Detect groups every LWWSet entry in log by key, then checks each pair
// within a group for concurrency via their causal vector clocks. A key
// with at least one concurrent pair is reported once, listing every
// entry in that pair-set and the entry that would win the LWW
// tiebreak (latest timestamp, ties broken by writer id).
func Detect(log *oplog.Log) []Conflict {
	if log == nil {
		return nil
	}

	byKey := make(map[string][]oplog.Entry)
	for _, e := range log.Ops {
		if e.Op.Type != crdt.OpLWWSet {
			continue
		}
		byKey[e.Op.Key] = append(byKey[e.Op.Key], e)
	}

	var out []Conflict
	for key, entries := range byKey {
		concurrentSet := concurrentEntries(entries)
		if len(concurrentSet) < 2 {
			continue
		}
		out = append(out, Conflict{
			Key:        key,
			Concurrent: concurrentSet,
			Winner:     lwwWinner(concurrentSet),
		})
	}
	return out
}

// concurrentEntries returns the subset of entries that participate in at
// least one pairwise-concurrent relationship.
func concurrentEntries(entries []oplog.Entry) []oplog.Entry {
	flagged := make(map[int]bool)
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			a, b := entries[i].Causal, entries[j].Causal
			if (vclock.Clock(a)).ConcurrentWith(vclock.Clock(b)) {
				flagged[i] = true
				flagged[j] = true
			}
		}
	}
	var out []oplog.Entry
	for i, e := range entries {
		if flagged[i] {
			out = append(out, e)
		}
	}
	return out
}

func lwwWinner(entries []oplog.Entry) oplog.Entry {
	winner := entries[0]
	for _, e := range entries[1:] {
		if e.Op.Ts > winner.Op.Ts || (e.Op.Ts == winner.Op.Ts && e.Op.Writer > winner.Op.Writer) {
			winner = e
		}
	}
	return winner
}
