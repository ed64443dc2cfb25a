package ledger

import (
	"sort"
	"sync"
)

// KVStore is the storage the ledger runs on. Implementations must make a Set
// visible to subsequent Gets on the same store.
type KVStore interface {
	Get(key []byte) (value []byte, found bool, err error)
	Set(key, value []byte) error
}

// MemStore is a map backed KVStore
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (m *MemStore) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemStore) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

// Keys returns all keys in sorted order
func (m *MemStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CacheStore buffers writes on top of a parent store. Reads see buffered
// writes first. Nothing reaches the parent until Write is called.
type CacheStore struct {
	parent KVStore
	writes map[string][]byte
	order  []string
}

// NewCacheStore wraps parent in a write buffer
func NewCacheStore(parent KVStore) *CacheStore {
	return &CacheStore{
		parent: parent,
		writes: make(map[string][]byte),
	}
}

func (c *CacheStore) Get(key []byte) ([]byte, bool, error) {
	if v, ok := c.writes[string(key)]; ok {
		return append([]byte(nil), v...), true, nil
	}
	return c.parent.Get(key)
}

func (c *CacheStore) Set(key, value []byte) error {
	k := string(key)
	if _, ok := c.writes[k]; !ok {
		c.order = append(c.order, k)
	}
	c.writes[k] = append([]byte(nil), value...)
	return nil
}

// Len returns the number of buffered keys
func (c *CacheStore) Len() int {
	return len(c.order)
}

// Write flushes buffered writes to the parent in first-write order and
// clears the buffer. On error the buffer is kept so the caller can discard it.
func (c *CacheStore) Write() error {
	for _, k := range c.order {
		if err := c.parent.Set([]byte(k), c.writes[k]); err != nil {
			return err
		}
	}
	c.Discard()
	return nil
}

// Discard drops every buffered write
func (c *CacheStore) Discard() {
	c.writes = make(map[string][]byte)
	c.order = nil
}
