package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
	"TickVault/pkg/cache"
	applogger "TickVault/pkg/logger"
)

// InstrumentService fronts instrument metadata and manual subscriptions.
type InstrumentService struct {
	store  drepo.InstrumentStore
	subs   drepo.SubscriptionStore
	source drepo.InstrumentSource
	cache  cache.Service
	ttl    time.Duration
	l      *applogger.Logger
}

func NewInstrumentService(store drepo.InstrumentStore, subs drepo.SubscriptionStore, source drepo.InstrumentSource,
	c cache.Service, ttl time.Duration, l *applogger.Logger) *InstrumentService {
	return &InstrumentService{store: store, subs: subs, source: source, cache: c, ttl: ttl, l: l.Component("instruments")}
}

func (s *InstrumentService) List(ctx context.Context, limit, offset int) ([]models.Instrument, error) {
	return s.store.List(ctx, limit, offset)
}

func (s *InstrumentService) Search(ctx context.Context, q string, limit int) ([]models.Instrument, error) {
	return s.store.Search(ctx, q, limit)
}

// Get reads through the cache. Misses in the store are not cached.
func (s *InstrumentService) Get(ctx context.Context, token int64) (*models.Instrument, error) {
	key := cache.Key("instrument", token)
	var inst models.Instrument
	err := s.cache.Get(ctx, key, &inst)
	if err == nil {
		return &inst, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.l.Warn("instrument cache read", applogger.String("key", key), applogger.Error(err))
	}

	got, err := s.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, got, s.ttl); err != nil {
		s.l.Warn("instrument cache write", applogger.String("key", key), applogger.Error(err))
	}
	return got, nil
}

// Sync pulls the broker's instrument dump into the store and returns how
// many rows were written.
func (s *InstrumentService) Sync(ctx context.Context) (int, error) {
	start := time.Now()
	list, err := s.source.FetchInstruments(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch instruments: %w", err)
	}
	if len(list) == 0 {
		s.l.Warn("broker returned no instruments")
		return 0, nil
	}
	n, err := s.store.Upsert(ctx, list)
	if err != nil {
		return 0, fmt.Errorf("upsert instruments: %w", err)
	}
	keys := make([]string, len(list))
	for i, inst := range list {
		keys[i] = cache.Key("instrument", inst.Token)
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.l.Warn("instrument cache invalidate", applogger.Error(err))
	}
	s.l.Info("instruments synced", applogger.Int("count", n), applogger.Duration("took", time.Since(start)))
	return n, nil
}

func (s *InstrumentService) Subscribe(ctx context.Context, tokens []int64) error {
	return s.subs.Subscribe(ctx, dedupTokens(tokens))
}

func (s *InstrumentService) Unsubscribe(ctx context.Context, tokens []int64) error {
	return s.subs.Unsubscribe(ctx, dedupTokens(tokens))
}

func (s *InstrumentService) Subscriptions(ctx context.Context) ([]int64, error) {
	return s.subs.ActiveSubscriptions(ctx)
}

func dedupTokens(tokens []int64) []int64 {
	seen := make(map[int64]struct{}, len(tokens))
	out := make([]int64, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok || t <= 0 {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
