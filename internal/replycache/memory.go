package replycache

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Memory keeps replies in process with a TTL
type Memory struct {
	store *cache.Cache
	ttl   time.Duration
}

// NewMemory creates an in-process cache. Entries expire after ttl; expired
// entries are purged every cleanup interval.
func NewMemory(ttl, cleanup time.Duration) *Memory {
	return &Memory{
		store: cache.New(ttl, cleanup),
		ttl:   ttl,
	}
}

// Get implements messaging.ReplyCache
func (m *Memory) Get(_ context.Context, fingerprint string) ([]byte, bool, error) {
	v, ok := m.store.Get(fingerprint)
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

// Set implements messaging.ReplyCache
func (m *Memory) Set(_ context.Context, fingerprint string, reply []byte) error {
	m.store.Set(fingerprint, append([]byte(nil), reply...), m.ttl)
	return nil
}

// Len returns the number of cached replies, including expired ones not yet purged
func (m *Memory) Len() int {
	return m.store.ItemCount()
}

// Flush drops all entries
func (m *Memory) Flush() {
	m.store.Flush()
}
