package store

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryStore keeps sessions in process. The bloom filter short-circuits lookups
// of ids that were never issued; the LRU evicts the least recently used session
// once capacity is reached.
type MemoryStore struct {
	sessions               map[string]*Session
	bloom                  *bloom.BloomFilter
	lru                    *lru.Cache[string, struct{}]
	mutex                  sync.RWMutex
	capacity               int
	bloomFalsePositiveRate float64
}

// NewMemoryStore creates a store holding at most capacity sessions.
func NewMemoryStore(capacity int, bloomFalsePositiveRate float64) *MemoryStore {
	if capacity <= 0 {
		capacity = 1
	}
	ms := &MemoryStore{
		sessions:               make(map[string]*Session),
		bloom:                  bloom.NewWithEstimates(uint(capacity), bloomFalsePositiveRate),
		capacity:               capacity,
		bloomFalsePositiveRate: bloomFalsePositiveRate,
	}

	// Evictions run while ms.mutex is held by the caller of Add/Remove/Purge.
	ms.lru, _ = lru.NewWithEvict(capacity, func(id string, _ struct{}) {
		delete(ms.sessions, id)
	})

	return ms
}

func (ms *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	ms.mutex.RLock()
	if !ms.bloom.TestString(id) {
		ms.mutex.RUnlock()
		return nil, ErrSessionNotFound
	}
	session, exists := ms.sessions[id]
	ms.mutex.RUnlock()

	if !exists || session.Expired(time.Now()) {
		return nil, ErrSessionNotFound
	}

	// Get touches recency, which mutates the LRU list.
	ms.mutex.Lock()
	ms.lru.Get(id)
	ms.mutex.Unlock()

	copied := *session
	return &copied, nil
}

func (ms *MemoryStore) Save(_ context.Context, session *Session) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	copied := *session
	ms.sessions[session.ID] = &copied
	ms.bloom.AddString(session.ID)
	ms.lru.Add(session.ID, struct{}{})
	return nil
}

func (ms *MemoryStore) Delete(_ context.Context, id string) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	delete(ms.sessions, id)
	ms.lru.Remove(id)
	// The bloom filter cannot forget the id; a later Get falls through to the map.
	return nil
}

func (ms *MemoryStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	purged := 0
	for id, session := range ms.sessions {
		if session.Expired(now) {
			delete(ms.sessions, id)
			ms.lru.Remove(id)
			purged++
		}
	}

	if purged > 0 && len(ms.sessions) == 0 {
		ms.resetBloom()
	}
	return purged, nil
}

func (ms *MemoryStore) Size(_ context.Context) (int, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	return len(ms.sessions), nil
}

// Close drops every session.
func (ms *MemoryStore) Close() error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	ms.sessions = make(map[string]*Session)
	ms.resetBloom()
	ms.lru.Purge()
	return nil
}

func (ms *MemoryStore) resetBloom() {
	ms.bloom = bloom.NewWithEstimates(uint(ms.capacity), ms.bloomFalsePositiveRate)
}
