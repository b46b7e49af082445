package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"
)

type memEntry struct {
	key     string
	data    []byte
	expires time.Time // zero means no expiry
}

// MemoryCache is a process-local LRU. It is the whole cache when Redis is
// disabled and the L1 of LayeredCache otherwise.
type MemoryCache struct {
	mu    sync.Mutex
	max   int
	ll    *list.List
	items map[string]*list.Element
	now   func() time.Time
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{MaxSize: 10000, now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	return &MemoryCache{
		max:   cfg.MaxSize,
		ll:    list.New(),
		items: make(map[string]*list.Element),
		now:   cfg.now,
	}
}

func (m *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(key, data, expiration)
	return nil
}

func (m *MemoryCache) putLocked(key string, data []byte, expiration time.Duration) {
	var expires time.Time
	if expiration > 0 {
		expires = m.now().Add(expiration)
	}
	if el, ok := m.items[key]; ok {
		e := el.Value.(*memEntry)
		e.data, e.expires = data, expires
		m.ll.MoveToFront(el)
		return
	}
	m.items[key] = m.ll.PushFront(&memEntry{key: key, data: data, expires: expires})
	for m.max > 0 && m.ll.Len() > m.max {
		m.removeLocked(m.ll.Back())
	}
}

func (m *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	e := m.liveLocked(key)
	var data []byte
	if e != nil {
		data = e.data
	}
	m.mu.Unlock()

	if data == nil {
		return ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

// liveLocked returns the entry for key, evicting it if expired.
func (m *MemoryCache) liveLocked(key string) *memEntry {
	el, ok := m.items[key]
	if !ok {
		return nil
	}
	e := el.Value.(*memEntry)
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		m.removeLocked(el)
		return nil
	}
	m.ll.MoveToFront(el)
	return e
}

func (m *MemoryCache) removeLocked(el *list.Element) {
	m.ll.Remove(el)
	delete(m.items, el.Value.(*memEntry).key)
}

func (m *MemoryCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if el, ok := m.items[k]; ok {
			m.removeLocked(el)
		}
	}
	return nil
}

func (m *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLocked(key) != nil, nil
}

func (m *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.liveLocked(key) != nil {
		return false, nil
	}
	m.putLocked(key, []byte(`"locked"`), ttl)
	return true, nil
}

func (m *MemoryCache) Unlock(ctx context.Context, key string) error {
	return m.Delete(ctx, key)
}

func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}
