package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process store with FIFO eviction once maxEntries is
// reached.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
	ttl        time.Duration
	hits       int64
	misses     int64
	now        func() time.Time
}

type memoryItem struct {
	key   string
	entry Entry
}

// NewMemoryStore returns a MemoryStore. maxEntries <= 0 means 10000.
func NewMemoryStore(maxEntries int, ttl time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryStore{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		m.misses++
		return nil, false, nil
	}
	item := el.Value.(*memoryItem)
	if expired(&item.entry, m.ttl, m.now()) {
		m.order.Remove(el)
		delete(m.entries, key)
		m.misses++
		return nil, false, nil
	}
	m.hits++
	e := item.entry
	return &e, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := *entry
	e.CachedAt = m.now()
	if el, ok := m.entries[key]; ok {
		el.Value.(*memoryItem).entry = e
		return nil
	}

	for m.order.Len() >= m.maxEntries {
		oldest := m.order.Front()
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*memoryItem).key)
	}
	m.entries[key] = m.order.PushBack(&memoryItem{key: key, entry: e})
	return nil
}

func (m *MemoryStore) Stats(context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &Stats{
		Hits:      m.hits,
		Misses:    m.misses,
		HitRate:   hitRate(m.hits, m.misses),
		TotalKeys: int64(m.order.Len()),
	}, nil
}

func (m *MemoryStore) Close() error { return nil }
