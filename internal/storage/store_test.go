package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetSetDelete(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("ledger", "eng-1:d-001")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set("ledger", "eng-1:d-001", []byte(`{"a":1}`)))
	value, err := s.Get("ledger", "eng-1:d-001")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), value)

	// Overwrite in place.
	require.NoError(t, s.Set("ledger", "eng-1:d-001", []byte(`{"a":2}`)))
	value, err = s.Get("ledger", "eng-1:d-001")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":2}`), value)

	require.NoError(t, s.Delete("ledger", "eng-1:d-001"))
	_, err = s.Get("ledger", "eng-1:d-001")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete("ledger", "eng-1:d-001"), ErrNotFound)
}

func TestStoresAreIsolated(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Set("ledger", "k", []byte("ledger value")))
	require.NoError(t, s.Set("workshop_state", "k", []byte("state value")))

	value, err := s.Get("ledger", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("ledger value"), value)

	require.NoError(t, s.Delete("ledger", "k"))
	_, err = s.Get("workshop_state", "k")
	assert.NoError(t, err)
}

func TestListByPrefixOrdered(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Set("workshop_history", "eng-1:00000000000000000002:b", []byte("2")))
	require.NoError(t, s.Set("workshop_history", "eng-1:00000000000000000001:a", []byte("1")))
	require.NoError(t, s.Set("workshop_history", "eng-2:00000000000000000001:c", []byte("other")))

	blobs, err := s.List("workshop_history", "eng-1:")
	require.NoError(t, err)
	require.Len(t, blobs, 2)
	assert.Equal(t, []byte("1"), blobs[0].Value)
	assert.Equal(t, []byte("2"), blobs[1].Value)

	blobs, err = s.List("workshop_history", "eng-9:")
	require.NoError(t, err)
	assert.Empty(t, blobs)
}
