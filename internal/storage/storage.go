// Package storage persists node state and versioned snapshots in a
// single embedded key-value file, keyed the same way regardless of
// which node or version is being addressed.
package storage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	bolt "go.etcd.io/bbolt"
)

const bucketName = "kvsync"

// Store is the durable persistence surface the rest of the system
// depends on. BoltStore is the production implementation; tests may
// substitute an in-memory fake satisfying the same interface.
type Store interface {
	SaveState(nodeID string, data []byte) error
	LoadState(nodeID string) ([]byte, bool, error)
	SaveSnapshot(nodeID string, version int, data []byte) error
	LoadSnapshot(nodeID string, version int) ([]byte, bool, error)
	ListSnapshots(nodeID string) ([]int, error)
	CleanupOldSnapshots(nodeID string, keep int) error
	ClearAll() error
	Close() error
}

// Sealer optionally transforms bytes before they are written and after
// they are read, used to encrypt state/snapshots at rest. A nil Sealer
// means no encryption.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// BoltStore is a Store backed by a single bbolt file, the closest Go
// analogue to an embedded log-structured KV store: one file, crash-safe
// fsync-on-commit writes, ordered key scans for prefix listing.
type BoltStore struct {
	db     *bolt.DB
	sealer Sealer
}

// Open opens (creating if necessary) the bbolt file at path.
func Open(path string, sealer Sealer) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: init bucket: %w", err)
	}
	return &BoltStore{db: db, sealer: sealer}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func stateKey(nodeID string) string {
	return "state:" + nodeID
}

func snapshotKey(nodeID string, version int) string {
	return fmt.Sprintf("snapshot:%s:%d", nodeID, version)
}

func snapshotPrefix(nodeID string) string {
	return "snapshot:" + nodeID + ":"
}

func (s *BoltStore) seal(data []byte) ([]byte, error) {
	if s.sealer == nil {
		return data, nil
	}
	return s.sealer.Seal(data)
}

func (s *BoltStore) open(data []byte) ([]byte, error) {
	if s.sealer == nil {
		return data, nil
	}
	return s.sealer.Open(data)
}

// SaveState durably writes the node's serialized sync state. bbolt
// fsyncs the file on every Update transaction commit, so a successful
// return means the write has survived a crash.
func (s *BoltStore) SaveState(nodeID string, data []byte) error {
	sealed, err := s.seal(data)
	if err != nil {
		return fmt.Errorf("storage: seal state: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(stateKey(nodeID)), sealed)
	})
}

// LoadState returns the node's last saved state, or ok=false if none
// has ever been saved.
func (s *BoltStore) LoadState(nodeID string) ([]byte, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(stateKey(nodeID)))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	data, err := s.open(raw)
	if err != nil {
		return nil, false, fmt.Errorf("storage: open state: %w", err)
	}
	return data, true, nil
}

// SaveSnapshot durably writes a point-in-time copy of state under its
// version number.
func (s *BoltStore) SaveSnapshot(nodeID string, version int, data []byte) error {
	sealed, err := s.seal(data)
	if err != nil {
		return fmt.Errorf("storage: seal snapshot: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(snapshotKey(nodeID, version)), sealed)
	})
}

// LoadSnapshot returns one versioned snapshot, or ok=false if it
// doesn't exist.
func (s *BoltStore) LoadSnapshot(nodeID string, version int) ([]byte, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(snapshotKey(nodeID, version)))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	data, err := s.open(raw)
	if err != nil {
		return nil, false, fmt.Errorf("storage: open snapshot: %w", err)
	}
	return data, true, nil
}

// ListSnapshots returns every snapshot version stored for nodeID, in
// ascending order.
func (s *BoltStore) ListSnapshots(nodeID string) ([]int, error) {
	prefix := []byte(snapshotPrefix(nodeID))
	var versions []int
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			rest := strings.TrimPrefix(string(k), string(prefix))
			v, err := strconv.Atoi(rest)
			if err != nil {
				continue
			}
			versions = append(versions, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Ints(versions)
	return versions, nil
}

// CleanupOldSnapshots keeps only the keep most-recent snapshot versions
// for nodeID, deleting the rest.
func (s *BoltStore) CleanupOldSnapshots(nodeID string, keep int) error {
	versions, err := s.ListSnapshots(nodeID)
	if err != nil {
		return err
	}
	if keep < 0 {
		keep = 0
	}
	if len(versions) <= keep {
		return nil
	}
	toDelete := versions[:len(versions)-keep]
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		for _, v := range toDelete {
			if err := b.Delete([]byte(snapshotKey(nodeID, v))); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearAll deletes every key in the bucket. Used by tests and by
// operator-triggered resets; never called from normal request handling.
func (s *BoltStore) ClearAll() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketName)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucketName))
		return err
	})
}
