// Package tracker remembers which instruments clients asked about lately,
// so background work can serve them first.
package tracker

import (
	"sort"
	"sync"
	"time"
)

type entry struct {
	seen time.Time
	exp  time.Time
}

// RecentInstruments is a TTL set of instrument tokens.
type RecentInstruments struct {
	mu  sync.RWMutex
	m   map[int64]entry
	ttl time.Duration
	now func() time.Time
}

func NewRecentInstruments(ttl time.Duration) *RecentInstruments {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RecentInstruments{m: make(map[int64]entry), ttl: ttl, now: time.Now}
}

// Touch marks token as requested now.
func (r *RecentInstruments) Touch(token int64) {
	now := r.now()
	r.mu.Lock()
	r.m[token] = entry{seen: now, exp: now.Add(r.ttl)}
	r.mu.Unlock()
}

// Recent returns live tokens, most recently touched first, and evicts
// expired ones.
func (r *RecentInstruments) Recent() []int64 {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	type kv struct {
		token int64
		seen  time.Time
	}
	live := make([]kv, 0, len(r.m))
	for tok, e := range r.m {
		if now.After(e.exp) {
			delete(r.m, tok)
			continue
		}
		live = append(live, kv{tok, e.seen})
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].seen.Equal(live[j].seen) {
			return live[i].token < live[j].token
		}
		return live[i].seen.After(live[j].seen)
	})
	out := make([]int64, len(live))
	for i, e := range live {
		out[i] = e.token
	}
	return out
}

func (r *RecentInstruments) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}
