package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
	applogger "TickVault/pkg/logger"
)

// GapFiller is the part of Backfiller the reader needs.
type GapFiller interface {
	BackfillGap(ctx context.Context, token int64, from, to time.Time, iv drepo.Interval) (int, error)
}

// sharedReadTimeout bounds a read that outlives the caller who started it.
const sharedReadTimeout = 5 * time.Minute

type GetCandlesParams struct {
	InstrumentToken int64
	From            time.Time
	To              time.Time
	Interval        drepo.Interval
}

type GetCandlesResult struct {
	InstrumentToken int64           `json:"instrument_token"`
	Interval        string          `json:"interval"`
	From            time.Time       `json:"from"`
	To              time.Time       `json:"to"`
	Count           int             `json:"count"`
	GapsFound       int             `json:"gaps_found"`
	BarsBackfilled  int             `json:"bars_backfilled"`
	Candles         []models.Candle `json:"candles"`
}

// CandleReader serves candle reads that heal their own gaps: read, detect,
// backfill, re-read. Identical concurrent reads share one execution and
// backfills for one (instrument, interval) never overlap. A shared read runs
// detached from whichever caller started it, so one caller going away does
// not fail the others.
type CandleReader struct {
	store   drepo.CandleStore
	filler  GapFiller
	metrics drepo.Metrics
	l       *applogger.Logger
	timeout time.Duration

	group singleflight.Group
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewCandleReader(store drepo.CandleStore, filler GapFiller, metrics drepo.Metrics, l *applogger.Logger) *CandleReader {
	return &CandleReader{
		store:   store,
		filler:  filler,
		metrics: metrics,
		l:       l.Component("candle_reader"),
		timeout: sharedReadTimeout,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (r *CandleReader) GetCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	if !p.Interval.Valid() {
		return nil, fmt.Errorf("%w: %q", drepo.ErrUnknownInterval, p.Interval)
	}
	if p.InstrumentToken <= 0 {
		return nil, fmt.Errorf("instrument token required")
	}
	if p.From.After(p.To) {
		return nil, fmt.Errorf("from must be <= to")
	}
	p.From, p.To = p.From.UTC(), p.To.UTC()

	key := fmt.Sprintf("%d:%s:%d:%d", p.InstrumentToken, p.Interval, p.From.Unix(), p.To.Unix())
	ch := r.group.DoChan(key, func() (interface{}, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.getCandles(sctx, p)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*GetCandlesResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *CandleReader) getCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	start := time.Now()
	candles, err := r.store.QueryCandles(ctx, p.InstrumentToken, p.Interval, p.From, p.To)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	res := &GetCandlesResult{
		InstrumentToken: p.InstrumentToken,
		Interval:        p.Interval.String(),
		From:            p.From,
		To:              p.To,
	}

	if gaps := DetectGaps(candles, p.From, p.To, p.Interval); len(gaps) > 0 {
		res.GapsFound, res.BarsBackfilled, err = r.fill(ctx, p)
		if err != nil {
			return nil, err
		}
		if res.BarsBackfilled > 0 {
			candles, err = r.store.QueryCandles(ctx, p.InstrumentToken, p.Interval, p.From, p.To)
			if err != nil {
				return nil, fmt.Errorf("re-query candles: %w", err)
			}
		}
	}

	res.Candles = candles
	res.Count = len(candles)
	r.metrics.RecordLatency("get_candles", time.Since(start).Seconds())
	return res, nil
}

// fill re-detects under the per-(instrument, interval) lock, since a
// concurrent reader may have filled the range while we waited, then
// backfills the gaps one after another.
func (r *CandleReader) fill(ctx context.Context, p GetCandlesParams) (gapsFound, bars int, err error) {
	mu := r.lockFor(p.InstrumentToken, p.Interval)
	mu.Lock()
	defer mu.Unlock()

	candles, err := r.store.QueryCandles(ctx, p.InstrumentToken, p.Interval, p.From, p.To)
	if err != nil {
		return 0, 0, fmt.Errorf("query candles: %w", err)
	}
	gaps := DetectGaps(candles, p.From, p.To, p.Interval)
	r.metrics.RecordGaps(p.Interval.String(), len(gaps))
	for _, g := range gaps {
		if err := ctx.Err(); err != nil {
			return len(gaps), bars, err
		}
		n, err := r.filler.BackfillGap(ctx, p.InstrumentToken, g.Start, g.End, p.Interval)
		if err != nil {
			return len(gaps), bars, err
		}
		bars += n
	}
	if len(gaps) > 0 {
		r.l.Debug("gaps processed",
			applogger.Int64("instrument_token", p.InstrumentToken),
			applogger.String("interval", p.Interval.String()),
			applogger.Int("gaps", len(gaps)),
			applogger.Int("bars", bars))
	}
	return len(gaps), bars, nil
}

func (r *CandleReader) lockFor(token int64, iv drepo.Interval) *sync.Mutex {
	key := fmt.Sprintf("%d:%s", token, iv)
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[key]
	if !ok {
		m = &sync.Mutex{}
		r.locks[key] = m
	}
	return m
}
