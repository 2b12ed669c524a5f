package session

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMaxEntries bounds the number of sessions held by a MemoryBackend.
const DefaultMaxEntries = 10000

// MemoryBackend keeps sessions in a bounded, expiring in-process LRU.
//
// It suits a single instance; sessions are lost on restart and not shared
// between replicas.
type MemoryBackend struct {
	cache *expirable.LRU[string, *Record]
}

// NewMemoryBackend creates a MemoryBackend holding at most maxEntries
// sessions, each evicted ttl after its last write.
func NewMemoryBackend(maxEntries int, ttl time.Duration) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryBackend{
		cache: expirable.NewLRU[string, *Record](maxEntries, nil, ttl),
	}
}

func (m *MemoryBackend) Load(_ context.Context, id string) (*Record, error) {
	rec, ok := m.cache.Get(id)
	if !ok {
		return nil, nil
	}
	if rec.Expired(time.Now()) {
		m.cache.Remove(id)
		return nil, nil
	}
	// Records are copied in and out so concurrent requests on one session
	// never share a map.
	return rec.clone(), nil
}

func (m *MemoryBackend) Save(_ context.Context, rec *Record) error {
	m.cache.Add(rec.ID, rec.clone())
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, id string) error {
	m.cache.Remove(id)
	return nil
}

// Len returns the number of sessions currently held.
func (m *MemoryBackend) Len() int {
	return m.cache.Len()
}

var _ Backend = (*MemoryBackend)(nil)
