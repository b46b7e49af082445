package repository

import (
	"context"
	"errors"
	"time"

	"TickVault/internal/domain/models"
	domrepo "TickVault/internal/domain/repository"
	"TickVault/pkg/cache"
	applogger "TickVault/pkg/logger"
)

// CachedStatusStore reads backfill status through the cache. Misses (no
// row yet) are not cached, so the first backfill is seen immediately.
type CachedStatusStore struct {
	next  domrepo.BackfillStatusStore
	cache cache.Service
	ttl   time.Duration
	l     *applogger.Logger
}

func NewCachedStatusStore(next domrepo.BackfillStatusStore, c cache.Service, ttl time.Duration, l *applogger.Logger) *CachedStatusStore {
	return &CachedStatusStore{next: next, cache: c, ttl: ttl, l: l.Component("status_cache")}
}

func statusKey(token int64) string { return cache.Key("backfill_status", token) }

func (s *CachedStatusStore) GetStatus(ctx context.Context, token int64) (*models.BackfillStatus, error) {
	var st models.BackfillStatus
	err := s.cache.Get(ctx, statusKey(token), &st)
	if err == nil {
		return &st, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.l.Warn("status cache read failed", applogger.Int64("instrument_token", token), applogger.Error(err))
	}

	fresh, err := s.next.GetStatus(ctx, token)
	if err != nil || fresh == nil {
		return fresh, err
	}
	if err := s.cache.Set(ctx, statusKey(token), fresh, s.ttl); err != nil {
		s.l.Warn("status cache write failed", applogger.Int64("instrument_token", token), applogger.Error(err))
	}
	return fresh, nil
}

func (s *CachedStatusStore) UpsertStatus(ctx context.Context, token int64, from, to time.Time, count int) error {
	if err := s.next.UpsertStatus(ctx, token, from, to, count); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, statusKey(token)); err != nil {
		s.l.Warn("status cache invalidate failed", applogger.Int64("instrument_token", token), applogger.Error(err))
	}
	return nil
}
