package store

import (
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/ytget/ytcipher/youtube/cipher"
)

const cleanupInterval = 10 * time.Minute

// MemoryStore keeps programs in process memory, optionally expiring them.
type MemoryStore struct {
	c *cache.Cache
}

// NewMemoryStore creates a store whose entries live for ttl. A ttl of zero or
// less keeps entries for the life of the process.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		return &MemoryStore{c: cache.New(cache.NoExpiration, 0)}
	}
	return &MemoryStore{c: cache.New(ttl, cleanupInterval)}
}

// Lookup returns the program stored for releaseID.
func (m *MemoryStore) Lookup(releaseID string) (cipher.Program, bool) {
	v, ok := m.c.Get(releaseID)
	if !ok {
		return nil, false
	}
	p, ok := v.(cipher.Program)
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Put stores a copy of p.
func (m *MemoryStore) Put(releaseID string, p cipher.Program) error {
	if releaseID == "" {
		return cipher.NewError(cipher.ErrCodeStoreWriteFailed, "empty release id")
	}
	m.c.Set(releaseID, p.Clone(), cache.DefaultExpiration)
	return nil
}

// Len returns the number of live entries.
func (m *MemoryStore) Len() int { return m.c.ItemCount() }
