package idempotency

import (
	"sync"
	"time"

	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
)

// Store maps a client-supplied idempotency key to the exact response bytes
// previously returned for it. Entries expire after a bounded TTL. The store is
// volatile process state: after a restart a retried create will simply create
// a second request. That is a documented limitation of volatile-cache
// idempotency, not something this layer tries to paper over with durability.
type Store interface {
	Get(key string) ([]byte, bool)
	Put(key string, response []byte)
}

// MemoryStore backs Store with a TTL map. The mutex serializes Get/Put pairs
// against each other, but the create running between a caller's Get and Put is
// not under the lock: two concurrent creates racing on the same novel key can
// still both execute. Closing that window would need a durable uniqueness
// constraint on the key.
type MemoryStore struct {
	mu      sync.Mutex
	entries *expiremap.ExpireMap[string, []byte]
}

func NewMemoryStore(cullInterval, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: expiremap.NewEx[string, []byte](cullInterval, ttl),
	}
}

func (s *MemoryStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries.Load(key)
	if !ok || v == nil {
		return nil, false
	}
	out := make([]byte, len(*v))
	copy(out, *v)
	return out, true
}

func (s *MemoryStore) Put(key string, response []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(response))
	copy(stored, response)
	s.entries.Set(key, stored)
}
