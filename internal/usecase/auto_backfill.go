package usecase

import (
	"context"
	"errors"
	"time"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
	applogger "TickVault/pkg/logger"
)

type CandleGetter interface {
	GetCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error)
}

type RecentSource interface {
	Recent() []int64
}

type AutoBackfillConfig struct {
	SweepInterval   time.Duration
	StartDelay      time.Duration
	Window          time.Duration
	Interval        drepo.Interval
	InstrumentDelay time.Duration
	MaxAge          time.Duration
	Freshness       time.Duration
}

type SweepStats struct {
	Considered int
	Eligible   int
	Backfilled int
	Failed     int
}

// AutoBackfiller periodically walks the tradable instruments and backfills
// the stale ones through the CandleReader, one at a time.
type AutoBackfiller struct {
	cfg         AutoBackfillConfig
	reader      CandleGetter
	instruments drepo.InstrumentStore
	status      drepo.BackfillStatusStore
	recent      RecentSource
	l           *applogger.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewAutoBackfiller(cfg AutoBackfillConfig, reader CandleGetter, instruments drepo.InstrumentStore,
	status drepo.BackfillStatusStore, recent RecentSource, l *applogger.Logger) *AutoBackfiller {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = 7 * 24 * time.Hour
	}
	if !cfg.Interval.Valid() {
		cfg.Interval = drepo.Interval1m
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 6 * time.Hour
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = time.Hour
	}
	return &AutoBackfiller{
		cfg:         cfg,
		reader:      reader,
		instruments: instruments,
		status:      status,
		recent:      recent,
		l:           l.Component("auto_backfill"),
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// NeedsBackfill is the staleness policy: never backfilled, last run older
// than maxAge, or covered endpoint older than freshness.
func NeedsBackfill(st *models.BackfillStatus, now time.Time, maxAge, freshness time.Duration) bool {
	if st == nil {
		return true
	}
	if now.Sub(st.LastBackfilledDate) > maxAge {
		return true
	}
	return now.Sub(st.LastBackfilledTo) > freshness
}

// Run sweeps after StartDelay and then every SweepInterval until ctx ends.
func (a *AutoBackfiller) Run(ctx context.Context) {
	if err := a.sleep(ctx, a.cfg.StartDelay); err != nil {
		return
	}
	for {
		stats, err := a.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			a.l.Warn("sweep aborted", applogger.Error(err))
		} else if err == nil {
			a.l.Info("sweep finished",
				applogger.Int("considered", stats.Considered),
				applogger.Int("eligible", stats.Eligible),
				applogger.Int("backfilled", stats.Backfilled),
				applogger.Int("failed", stats.Failed))
		}
		if err := a.sleep(ctx, a.cfg.SweepInterval); err != nil {
			return
		}
	}
}

// Sweep makes one pass. It returns an error only when the whole pass had to
// stop: the store went away or ctx ended.
func (a *AutoBackfiller) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	tradable, err := a.instruments.ListTradable(ctx)
	if err != nil {
		return stats, err
	}
	tokens := a.order(tradable)

	for i, token := range tokens {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Considered++

		st, err := a.status.GetStatus(ctx, token)
		if err != nil {
			if errors.Is(err, drepo.ErrStoreUnavailable) {
				return stats, err
			}
			a.l.Error("read backfill status", applogger.Int64("instrument_token", token), applogger.Error(err))
			stats.Failed++
			continue
		}
		now := a.now().UTC()
		if !NeedsBackfill(st, now, a.cfg.MaxAge, a.cfg.Freshness) {
			continue
		}
		stats.Eligible++

		from := now.Add(-a.cfg.Window)
		res, err := a.reader.GetCandles(ctx, GetCandlesParams{InstrumentToken: token, From: from, To: now, Interval: a.cfg.Interval})
		if err != nil {
			if errors.Is(err, drepo.ErrStoreUnavailable) || ctx.Err() != nil {
				return stats, err
			}
			a.l.Error("backfill instrument", applogger.Int64("instrument_token", token), applogger.Error(err))
			stats.Failed++
		} else {
			if err := a.status.UpsertStatus(ctx, token, from, now, res.Count); err != nil {
				if errors.Is(err, drepo.ErrStoreUnavailable) {
					return stats, err
				}
				a.l.Error("write backfill status", applogger.Int64("instrument_token", token), applogger.Error(err))
			}
			stats.Backfilled++
		}

		if i < len(tokens)-1 && a.cfg.InstrumentDelay > 0 {
			if err := a.sleep(ctx, a.cfg.InstrumentDelay); err != nil {
				return stats, err
			}
		}
	}
	return stats, nil
}

// order puts recently requested tradable instruments first, keeping the
// store's order for the rest.
func (a *AutoBackfiller) order(tradable []int64) []int64 {
	if a.recent == nil {
		return tradable
	}
	inSet := make(map[int64]struct{}, len(tradable))
	for _, t := range tradable {
		inSet[t] = struct{}{}
	}
	out := make([]int64, 0, len(tradable))
	seen := make(map[int64]struct{}, len(tradable))
	for _, t := range a.recent.Recent() {
		if _, ok := inSet[t]; ok {
			out = append(out, t)
			seen[t] = struct{}{}
		}
	}
	for _, t := range tradable {
		if _, ok := seen[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
