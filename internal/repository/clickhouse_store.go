package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"TickVault/internal/domain/models"
	domrepo "TickVault/internal/domain/repository"
	pkgch "TickVault/pkg/clickhouse"
	applogger "TickVault/pkg/logger"
)

const insertChunkSize = 2000

// ClickHouseStore keeps raw ticks in ticks_raw and one ReplacingMergeTree
// table per candle interval. Both dedupe on their sort key, so rewriting the
// same (instrument, ts) or (instrument, bucket) converges to one row.
type ClickHouseStore struct {
	db       *sql.DB
	database string
	dayLoc   *time.Location
	l        *applogger.Logger
}

var (
	_ domrepo.TickStore   = (*ClickHouseStore)(nil)
	_ domrepo.CandleStore = (*ClickHouseStore)(nil)
)

// NewClickHouseStore buckets daily candles at midnight in dayLoc.
func NewClickHouseStore(ch *pkgch.Client, dayLoc *time.Location, l *applogger.Logger) *ClickHouseStore {
	if dayLoc == nil {
		dayLoc = time.UTC
	}
	return &ClickHouseStore{db: ch.DB(), database: ch.Database(), dayLoc: dayLoc, l: l.Component("clickhouse_store")}
}

// Schema returns the DDL for the database, the tick table and every candle table.
func (s *ClickHouseStore) Schema() []string {
	stmts := []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    ts DateTime64(3, 'UTC'),
    instrument_token Int64,
    ltp Float64,
    volume Int64,
    open_interest Int64,
    bid_price Nullable(Float64),
    ask_price Nullable(Float64),
    bid_qty Nullable(Int64),
    ask_qty Nullable(Int64),
    inserted_at DateTime64(3, 'UTC') DEFAULT now64(3)
) ENGINE = ReplacingMergeTree(inserted_at)
PARTITION BY toYYYYMM(ts)
ORDER BY (instrument_token, ts)`, s.ticksTable()),
	}
	for _, iv := range domrepo.Cascade {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    bucket DateTime('UTC'),
    instrument_token Int64,
    open Float64,
    high Float64,
    low Float64,
    close Float64,
    volume Int64,
    open_interest Int64,
    updated_at DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(updated_at)
PARTITION BY toYYYYMM(bucket)
ORDER BY (instrument_token, bucket)`, s.candlesTable(iv)))
	}
	return stmts
}

func (s *ClickHouseStore) BulkWriteTicks(ctx context.Context, ticks []models.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	for start := 0; start < len(ticks); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(ticks) {
			end = len(ticks)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*9)
		for _, t := range ticks[start:end] {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				t.Time.UTC(),
				t.InstrumentToken,
				t.LTP,
				t.Volume,
				t.OpenInterest,
				t.BidPrice,
				t.AskPrice,
				t.BidQty,
				t.AskQty,
			)
		}
		q := fmt.Sprintf("INSERT INTO %s (ts, instrument_token, ltp, volume, open_interest, bid_price, ask_price, bid_qty, ask_qty) VALUES %s",
			s.ticksTable(), strings.Join(values, ", "))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse insert ticks error", applogger.Int("rows", end-start), applogger.Error(err))
			return mapCHErr("insert ticks", err)
		}
	}
	return nil
}

// QueryTicks returns raw ticks in [from, to] ordered by time.
func (s *ClickHouseStore) QueryTicks(ctx context.Context, token int64, from, to time.Time, limit int) ([]models.Tick, error) {
	q := fmt.Sprintf(`SELECT ts, instrument_token, ltp, volume, open_interest, bid_price, ask_price, bid_qty, ask_qty
FROM %s FINAL
WHERE instrument_token = ? AND ts >= ? AND ts <= ?
ORDER BY ts ASC
LIMIT ?`, s.ticksTable())
	rows, err := s.db.QueryContext(ctx, q, token, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, mapCHErr("query ticks", err)
	}
	defer rows.Close()

	out := make([]models.Tick, 0, 256)
	for rows.Next() {
		var (
			t        models.Tick
			bid, ask sql.NullFloat64
			bq, aq   sql.NullInt64
		)
		if err := rows.Scan(&t.Time, &t.InstrumentToken, &t.LTP, &t.Volume, &t.OpenInterest, &bid, &ask, &bq, &aq); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		t.Time = t.Time.UTC()
		if bid.Valid {
			t.BidPrice = &bid.Float64
		}
		if ask.Valid {
			t.AskPrice = &ask.Float64
		}
		if bq.Valid {
			t.BidQty = &bq.Int64
		}
		if aq.Valid {
			t.AskQty = &aq.Int64
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// QueryCandles returns candles with bucket in [from, to] ordered by bucket.
func (s *ClickHouseStore) QueryCandles(ctx context.Context, token int64, iv domrepo.Interval, from, to time.Time) ([]models.Candle, error) {
	if !iv.Valid() {
		return nil, fmt.Errorf("%w: %q", domrepo.ErrUnknownInterval, iv)
	}
	start := time.Now()
	q := fmt.Sprintf(`SELECT bucket, instrument_token, open, high, low, close, volume, open_interest
FROM %s FINAL
WHERE instrument_token = ? AND bucket >= ? AND bucket <= ?
ORDER BY bucket ASC`, s.candlesTable(iv))
	rows, err := s.db.QueryContext(ctx, q, token, from.UTC(), to.UTC())
	if err != nil {
		s.l.Error("clickhouse get_candles query error",
			applogger.String("interval", iv.String()),
			applogger.Int64("instrument_token", token),
			applogger.Error(err))
		return nil, mapCHErr("query candles", err)
	}
	defer rows.Close()

	out := make([]models.Candle, 0, 512)
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Bucket, &c.InstrumentToken, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.OpenInterest); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Bucket = c.Bucket.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse get_candles ok",
		applogger.String("interval", iv.String()),
		applogger.Int64("instrument_token", token),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)))
	return out, nil
}

// RecomputeAggregate rebuilds iv candles of every instrument from raw ticks.
// The window is widened to whole buckets so edge candles are computed from
// all of their ticks, not just the ones inside [from, to). A window shorter
// than one bucket still rebuilds every bucket it touches; only an empty one
// is rejected.
func (s *ClickHouseStore) RecomputeAggregate(ctx context.Context, iv domrepo.Interval, from, to time.Time) error {
	if iv.Duration() == 0 {
		return fmt.Errorf("%w: %q", domrepo.ErrUnknownInterval, iv)
	}
	if !to.After(from) {
		return domrepo.ErrWindowTooSmall
	}
	lo, hi := s.alignWindow(iv, from, to)

	q := fmt.Sprintf(`INSERT INTO %s (bucket, instrument_token, open, high, low, close, volume, open_interest, updated_at)
SELECT
    %s AS b,
    instrument_token,
    argMin(ltp, ts),
    max(ltp),
    min(ltp),
    argMax(ltp, ts),
    sum(volume),
    argMax(open_interest, ts),
    now64(3)
FROM %s FINAL
WHERE ts >= ? AND ts < ?
GROUP BY instrument_token, b`, s.candlesTable(iv), s.bucketExpr(iv), s.ticksTable())

	start := time.Now()
	if _, err := s.db.ExecContext(ctx, q, lo, hi); err != nil {
		s.l.Error("clickhouse recompute error",
			applogger.String("interval", iv.String()),
			applogger.Time("from", lo),
			applogger.Time("to", hi),
			applogger.Error(err))
		return mapCHErr("recompute "+iv.String(), err)
	}
	s.l.Debug("clickhouse recompute ok",
		applogger.String("interval", iv.String()),
		applogger.Time("from", lo),
		applogger.Time("to", hi),
		applogger.Duration("duration_ms", time.Since(start)))
	return nil
}

func (s *ClickHouseStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseStore) alignWindow(iv domrepo.Interval, from, to time.Time) (time.Time, time.Time) {
	if iv == domrepo.Interval1d {
		lo := startOfDay(from, s.dayLoc)
		hi := startOfDay(to, s.dayLoc)
		if hi.Before(to) {
			hi = hi.AddDate(0, 0, 1)
		}
		return lo.UTC(), hi.UTC()
	}
	d := iv.Duration()
	lo := from.UTC().Truncate(d)
	hi := to.UTC().Truncate(d)
	if hi.Before(to) {
		hi = hi.Add(d)
	}
	return lo, hi
}

func (s *ClickHouseStore) bucketExpr(iv domrepo.Interval) string {
	if iv == domrepo.Interval1d {
		return fmt.Sprintf("toStartOfDay(ts, '%s')", s.dayLoc.String())
	}
	return fmt.Sprintf("toStartOfInterval(ts, INTERVAL %d SECOND)", int(iv.Duration().Seconds()))
}

func (s *ClickHouseStore) ticksTable() string { return s.database + ".ticks_raw" }

func (s *ClickHouseStore) candlesTable(iv domrepo.Interval) string {
	return s.database + ".candles_" + iv.String()
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// mapCHErr marks a closed pool or a lost connection as ErrStoreUnavailable.
func mapCHErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var opErr *net.OpError
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) ||
		errors.As(err, &opErr) || strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("%s: %w: %v", op, domrepo.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
