package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStore struct {
	*MemStore
	keys []string
}

func (r *recordingStore) Set(key, value []byte) error {
	r.keys = append(r.keys, string(key))
	return r.MemStore.Set(key, value)
}

func TestCacheStore(t *testing.T) {
	parent := &recordingStore{MemStore: NewMemStore()}
	require.NoError(t, parent.MemStore.Set([]byte("a"), []byte("1")))

	cache := NewCacheStore(parent)
	require.NoError(t, cache.Set([]byte("b"), []byte("2")))
	require.NoError(t, cache.Set([]byte("a"), []byte("3")))
	require.NoError(t, cache.Set([]byte("b"), []byte("4")))
	assert.Equal(t, 2, cache.Len())

	v, ok, err := cache.Get([]byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", string(v))

	v, _, _ = parent.Get([]byte("a"))
	assert.Equal(t, "1", string(v), "parent untouched before Write")
	_, ok, _ = parent.Get([]byte("b"))
	assert.False(t, ok)

	require.NoError(t, cache.Write())
	assert.Equal(t, []string{"b", "a"}, parent.keys, "flushed in first-write order")
	v, _, _ = parent.Get([]byte("b"))
	assert.Equal(t, "4", string(v))
	assert.Equal(t, 0, cache.Len())
}

func TestCacheStoreDiscard(t *testing.T) {
	parent := NewMemStore()
	cache := NewCacheStore(parent)
	require.NoError(t, cache.Set([]byte("k"), []byte("v")))
	cache.Discard()
	require.NoError(t, cache.Write())

	_, ok, err := parent.Get([]byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemStoreCopiesValues(t *testing.T) {
	m := NewMemStore()
	val := []byte("abc")
	require.NoError(t, m.Set([]byte("k"), val))
	val[0] = 'x'

	got, ok, err := m.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", string(got))
}
