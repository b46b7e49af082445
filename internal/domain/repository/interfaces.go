package repository

import (
	"context"
	"time"

	"TickVault/internal/domain/models"
)

// HistoricalProvider fetches OHLC bars from an authoritative upstream.
type HistoricalProvider interface {
	FetchHistoricalBars(ctx context.Context, token int64, from, to time.Time, iv Interval) ([]models.Bar, error)
}

// Subscription is one live push connection. Ticks is closed when the
// subscription ends; Err then reports why (nil after Close).
type Subscription interface {
	Ticks() <-chan models.Tick
	Err() error
	Close() error
}

type MarketStream interface {
	Subscribe(ctx context.Context, tokens []int64) (Subscription, error)
}

type InstrumentSource interface {
	FetchInstruments(ctx context.Context) ([]models.Instrument, error)
}

// Broker is the capability set a market data vendor adapter provides.
type Broker interface {
	Name() string
	HistoricalProvider
	MarketStream
	InstrumentSource
}

type TickStore interface {
	BulkWriteTicks(ctx context.Context, ticks []models.Tick) error
	QueryTicks(ctx context.Context, token int64, from, to time.Time, limit int) ([]models.Tick, error)
}

// CandleStore reads bucketed aggregates and asks the engine to rebuild them.
// RecomputeAggregate rebuilds every bucket of iv that [from, to) touches and
// returns ErrWindowTooSmall when the window is empty.
type CandleStore interface {
	QueryCandles(ctx context.Context, token int64, iv Interval, from, to time.Time) ([]models.Candle, error)
	RecomputeAggregate(ctx context.Context, iv Interval, from, to time.Time) error
}

type TickPublisher interface {
	PublishTicks(ctx context.Context, ticks []models.Tick) error
	Close() error
}

type InstrumentStore interface {
	ListTradable(ctx context.Context) ([]int64, error)
	List(ctx context.Context, limit, offset int) ([]models.Instrument, error)
	Search(ctx context.Context, q string, limit int) ([]models.Instrument, error)
	Get(ctx context.Context, token int64) (*models.Instrument, error)
	Upsert(ctx context.Context, instruments []models.Instrument) (int, error)
}

// BackfillStatusStore returns (nil, nil) from GetStatus when an instrument
// was never backfilled.
type BackfillStatusStore interface {
	GetStatus(ctx context.Context, token int64) (*models.BackfillStatus, error)
	UpsertStatus(ctx context.Context, token int64, from, to time.Time, count int) error
}

type SubscriptionStore interface {
	StreamableInstruments(ctx context.Context, limit int) ([]int64, error)
	ActiveSubscriptions(ctx context.Context) ([]int64, error)
	Subscribe(ctx context.Context, tokens []int64) error
	Unsubscribe(ctx context.Context, tokens []int64) error
}

type Metrics interface {
	RecordTicksFlushed(backend string, n int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordBackfill(iv string, bars int)
	RecordGaps(iv string, n int)
	SetBufferDepth(n int)
	SetStreamState(state string)
	SetSubscribed(n int)
}
