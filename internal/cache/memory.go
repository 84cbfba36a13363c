package cache

import (
	"context"
	"sync"
)

type memoryEntry struct {
	value       []byte
	contentType string
}

// MemoryStore keeps artifacts in process memory. Nothing expires.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryEntry)}
}

func (c *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	c.mu.RLock()
	_, ok := c.items[key]
	c.mu.RUnlock()
	return ok, nil
}

// Download returns a copy of the stored bytes.
func (c *MemoryStore) Download(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Upload stores value unless the key is already taken.
func (c *MemoryStore) Upload(_ context.Context, key string, value []byte, contentType string) error {
	// Copy to decouple from caller's buffer
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; exists {
		return nil
	}
	c.items[key] = memoryEntry{value: valueCopy, contentType: contentType}
	return nil
}

// ContentType returns the content type an object was stored with.
func (c *MemoryStore) ContentType(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.items[key]
	return entry.contentType, ok
}

// Len returns the number of items currently in the store.
func (c *MemoryStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
