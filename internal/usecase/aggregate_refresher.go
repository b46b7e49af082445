package usecase

import (
	"context"
	"errors"
	"time"

	drepo "TickVault/internal/domain/repository"
	applogger "TickVault/pkg/logger"
)

// AggregateRefresher is the store's scheduled maintenance: it rebuilds the
// trailing window of every aggregate so live ticks turn into candles.
// Backfills older than the window rebuild their own buckets.
type AggregateRefresher struct {
	store    drepo.CandleStore
	interval time.Duration
	lookback time.Duration
	metrics  drepo.Metrics
	l        *applogger.Logger
	now      func() time.Time
}

func NewAggregateRefresher(store drepo.CandleStore, interval, lookback time.Duration, metrics drepo.Metrics, l *applogger.Logger) *AggregateRefresher {
	if interval <= 0 {
		interval = time.Minute
	}
	if lookback <= 0 {
		lookback = 2 * time.Hour
	}
	return &AggregateRefresher{
		store:    store,
		interval: interval,
		lookback: lookback,
		metrics:  metrics,
		l:        l.Component("aggregate_refresher"),
		now:      time.Now,
	}
}

func (r *AggregateRefresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RefreshOnce(ctx)
		}
	}
}

// RefreshOnce recomputes each granularity over max(lookback, 2 buckets)
// ending now. Failures are logged per granularity.
func (r *AggregateRefresher) RefreshOnce(ctx context.Context) {
	now := r.now().UTC()
	for _, iv := range drepo.Cascade {
		window := r.lookback
		if floor := 2 * iv.Duration(); window < floor {
			window = floor
		}
		start := time.Now()
		err := r.store.RecomputeAggregate(ctx, iv, now.Add(-window), now)
		switch {
		case errors.Is(err, drepo.ErrWindowTooSmall):
			r.l.Debug("refresh skipped, window too small", applogger.String("interval", iv.String()))
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			r.metrics.RecordError("aggregate_refresh")
			r.l.Warn("aggregate refresh failed", applogger.String("interval", iv.String()), applogger.Error(err))
		default:
			r.metrics.RecordLatency("aggregate_refresh_"+iv.String(), time.Since(start).Seconds())
		}
	}
}
