package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
	applogger "TickVault/pkg/logger"
)

// Backfiller fetches historical bars for a span and writes them back as
// ticks, then asks the store to rebuild the affected aggregates.
type Backfiller struct {
	provider drepo.HistoricalProvider
	ticks    drepo.TickStore
	candles  drepo.CandleStore
	metrics  drepo.Metrics
	l        *applogger.Logger
}

func NewBackfiller(provider drepo.HistoricalProvider, ticks drepo.TickStore, candles drepo.CandleStore, metrics drepo.Metrics, l *applogger.Logger) *Backfiller {
	return &Backfiller{provider: provider, ticks: ticks, candles: candles, metrics: metrics, l: l.Component("backfiller")}
}

// BackfillGap fills [from, to] at iv and returns how many bars were
// written. A provider with no data for the span is not an error.
func (b *Backfiller) BackfillGap(ctx context.Context, token int64, from, to time.Time, iv drepo.Interval) (int, error) {
	if !iv.Valid() {
		return 0, fmt.Errorf("%w: %q", drepo.ErrUnknownInterval, iv)
	}
	start := time.Now()
	bars, err := b.provider.FetchHistoricalBars(ctx, token, from.UTC(), to.UTC(), iv)
	if err != nil {
		b.metrics.RecordError("provider_fetch")
		return 0, fmt.Errorf("fetch bars %d %s [%s, %s]: %w", token, iv, from.Format(time.RFC3339), to.Format(time.RFC3339), err)
	}
	if len(bars) == 0 {
		b.l.Warn("provider returned no bars",
			applogger.Int64("instrument_token", token),
			applogger.String("interval", iv.String()),
			applogger.Time("from", from),
			applogger.Time("to", to))
		return 0, nil
	}

	d := iv.Duration()
	ticks := SynthesizeTicks(token, bars, d)
	if err := b.ticks.BulkWriteTicks(ctx, ticks); err != nil {
		return 0, fmt.Errorf("write synthetic ticks: %w", err)
	}

	lo, hi := barSpan(bars)
	if err := b.recompute(ctx, iv, lo, hi.Add(d)); err != nil {
		return len(bars), err
	}

	b.metrics.RecordBackfill(iv.String(), len(bars))
	b.metrics.RecordLatency("backfill_gap", time.Since(start).Seconds())
	b.l.Info("gap backfilled",
		applogger.Int64("instrument_token", token),
		applogger.String("interval", iv.String()),
		applogger.Int("bars", len(bars)),
		applogger.Int("ticks", len(ticks)))
	return len(bars), nil
}

// recompute rebuilds iv and every coarser aggregate over [from, to).
func (b *Backfiller) recompute(ctx context.Context, iv drepo.Interval, from, to time.Time) error {
	for _, agg := range iv.CoarserOrEqual() {
		err := b.candles.RecomputeAggregate(ctx, agg, from, to)
		if errors.Is(err, drepo.ErrWindowTooSmall) {
			b.l.Debug("recompute skipped, window too small",
				applogger.String("interval", agg.String()),
				applogger.Duration("window", to.Sub(from)))
			continue
		}
		if err != nil {
			return fmt.Errorf("recompute %s: %w", agg, err)
		}
	}
	return nil
}

// SynthesizeTicks turns each bar into four ticks that aggregate back to the
// same OHLC: open (carrying all the volume) at the bar start, high at d/3,
// low at 2d/3 and close one second before the bar ends.
func SynthesizeTicks(token int64, bars []models.Bar, d time.Duration) []models.Tick {
	closeAt := d - time.Second
	out := make([]models.Tick, 0, 4*len(bars))
	for _, bar := range bars {
		t0 := bar.Time.UTC()
		out = append(out,
			models.Tick{Time: t0, InstrumentToken: token, LTP: bar.Open, Volume: bar.Volume, OpenInterest: bar.OpenInterest},
			models.Tick{Time: t0.Add(d / 3), InstrumentToken: token, LTP: bar.High, OpenInterest: bar.OpenInterest},
			models.Tick{Time: t0.Add(2 * d / 3), InstrumentToken: token, LTP: bar.Low, OpenInterest: bar.OpenInterest},
			models.Tick{Time: t0.Add(closeAt), InstrumentToken: token, LTP: bar.Close, OpenInterest: bar.OpenInterest},
		)
	}
	return out
}

func barSpan(bars []models.Bar) (lo, hi time.Time) {
	lo, hi = bars[0].Time.UTC(), bars[0].Time.UTC()
	for _, b := range bars[1:] {
		t := b.Time.UTC()
		if t.Before(lo) {
			lo = t
		}
		if t.After(hi) {
			hi = t
		}
	}
	return lo, hi
}
