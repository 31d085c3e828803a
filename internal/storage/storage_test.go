package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/crdtbase/kvsync/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T) *storage.BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kvsync.db")
	s, err := storage.Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveLoadState(t *testing.T) {
	s := open(t)

	_, ok, err := s.LoadState("n1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveState("n1", []byte("state-bytes")))
	data, ok, err := s.LoadState("n1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("state-bytes"), data)
}

func TestSnapshotManagement(t *testing.T) {
	s := open(t)

	for v := 1; v <= 5; v++ {
		require.NoError(t, s.SaveSnapshot("n1", v, []byte{byte(v)}))
	}

	versions, err := s.ListSnapshots("n1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, versions)

	data, ok, err := s.LoadSnapshot("n1", 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{3}, data)
}

func TestCleanupOldSnapshotsKeepsMostRecentN(t *testing.T) {
	s := open(t)
	for v := 1; v <= 5; v++ {
		require.NoError(t, s.SaveSnapshot("n1", v, []byte{byte(v)}))
	}

	require.NoError(t, s.CleanupOldSnapshots("n1", 3))

	versions, err := s.ListSnapshots("n1")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5}, versions)
}

func TestListSnapshotsEmpty(t *testing.T) {
	s := open(t)
	versions, err := s.ListSnapshots("n1")
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestClearAll(t *testing.T) {
	s := open(t)
	require.NoError(t, s.SaveState("n1", []byte("x")))
	require.NoError(t, s.ClearAll())

	_, ok, err := s.LoadState("n1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotsAreIsolatedPerNode(t *testing.T) {
	s := open(t)
	require.NoError(t, s.SaveSnapshot("n1", 1, []byte("a")))
	require.NoError(t, s.SaveSnapshot("n2", 1, []byte("b")))

	v1, _, err := s.LoadSnapshot("n1", 1)
	require.NoError(t, err)
	v2, _, err := s.LoadSnapshot("n2", 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), v1)
	assert.Equal(t, []byte("b"), v2)
}
