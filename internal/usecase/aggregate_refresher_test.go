package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	drepo "TickVault/internal/domain/repository"
	"TickVault/pkg/logger"
	"TickVault/pkg/metrics"
)

func TestRefreshOnceCoversEveryGranularity(t *testing.T) {
	store := newMemStore()
	r := NewAggregateRefresher(store, time.Minute, 2*time.Hour, metrics.Nop{}, logger.Nop())
	r.now = func() time.Time { return at(12, 0) }

	r.RefreshOnce(context.Background())

	want := map[drepo.Interval]time.Duration{
		drepo.Interval1m:  2 * time.Hour,
		drepo.Interval5m:  2 * time.Hour,
		drepo.Interval15m: 2 * time.Hour,
		drepo.Interval1h:  2 * time.Hour,
		drepo.Interval1d:  48 * time.Hour,
	}
	assert.Len(t, store.recomputes, len(want))
	for _, c := range store.recomputes {
		assert.Equal(t, at(12, 0), c.to)
		assert.Equal(t, want[c.iv], c.to.Sub(c.from), c.iv)
	}
}

func TestRefreshOnceBuildsCandlesFromLiveTicks(t *testing.T) {
	store := newMemStore()
	store.ticks[tickKey{5, at(11, 30)}] = liveTick(0)
	r := NewAggregateRefresher(store, time.Minute, time.Hour, metrics.Nop{}, logger.Nop())
	r.now = func() time.Time { return at(12, 0) }
	r.RefreshOnce(context.Background())

	c, _ := store.QueryCandles(context.Background(), 5, drepo.Interval5m, at(11, 0), at(12, 0))
	assert.Len(t, c, 1)
}
