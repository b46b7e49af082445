package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"TickVault/internal/domain/models"
	domrepo "TickVault/internal/domain/repository"
	"TickVault/pkg/postgres"
)

// PostgresStore holds instrument metadata, backfill status and the manual
// subscription set.
type PostgresStore struct {
	db postgres.DB
}

var (
	_ domrepo.InstrumentStore     = (*PostgresStore)(nil)
	_ domrepo.BackfillStatusStore = (*PostgresStore)(nil)
	_ domrepo.SubscriptionStore   = (*PostgresStore)(nil)
)

func NewPostgresStore(db postgres.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS instruments (
    instrument_token BIGINT PRIMARY KEY,
    exchange_token   BIGINT NOT NULL DEFAULT 0,
    tradingsymbol    TEXT NOT NULL,
    name             TEXT NOT NULL DEFAULT '',
    exchange         TEXT NOT NULL DEFAULT '',
    segment          TEXT NOT NULL DEFAULT '',
    instrument_type  TEXT NOT NULL DEFAULT '',
    expiry           DATE,
    strike           DOUBLE PRECISION NOT NULL DEFAULT 0,
    tick_size        DOUBLE PRECISION NOT NULL DEFAULT 0,
    lot_size         INTEGER NOT NULL DEFAULT 0,
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS idx_instruments_segment ON instruments (segment)`,
	`CREATE INDEX IF NOT EXISTS idx_instruments_symbol ON instruments (tradingsymbol)`,
	`CREATE TABLE IF NOT EXISTS backfill_status (
    instrument_token     BIGINT PRIMARY KEY,
    last_backfilled_date TIMESTAMPTZ NOT NULL,
    last_backfilled_from TIMESTAMPTZ NOT NULL,
    last_backfilled_to   TIMESTAMPTZ NOT NULL,
    candle_count         INTEGER NOT NULL DEFAULT 0,
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS subscribed_instruments (
    instrument_token BIGINT PRIMARY KEY,
    is_active        BOOLEAN NOT NULL DEFAULT TRUE,
    subscribed_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
}

func (s *PostgresStore) Schema() []string { return postgresSchema }

const tradableWhere = `segment IN ('INDICES', 'NSE', 'NFO-FUT')
  AND tradingsymbol NOT LIKE '%-SG'
  AND tradingsymbol NOT LIKE '%-SM'`

const tradableOrder = `CASE segment WHEN 'INDICES' THEN 1 WHEN 'NFO-FUT' THEN 2 WHEN 'NSE' THEN 3 ELSE 4 END, instrument_token`

// ListTradable returns index, future and cash equity tokens, indices first.
func (s *PostgresStore) ListTradable(ctx context.Context) ([]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT instrument_token FROM instruments WHERE `+tradableWhere+` ORDER BY `+tradableOrder)
	if err != nil {
		return nil, mapErr("list tradable", err)
	}
	return collectTokens(rows)
}

// StreamableInstruments prefers active manual subscriptions and tops the
// list up with tradable instruments until limit is reached.
func (s *PostgresStore) StreamableInstruments(ctx context.Context, limit int) ([]int64, error) {
	active, err := s.ActiveSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) >= limit {
		return active[:limit], nil
	}

	rows, err := s.db.Query(ctx, `SELECT instrument_token FROM instruments
WHERE `+tradableWhere+`
  AND instrument_token NOT IN (SELECT instrument_token FROM subscribed_instruments WHERE is_active)
ORDER BY `+tradableOrder+`
LIMIT $1`, limit-len(active))
	if err != nil {
		return nil, mapErr("streamable instruments", err)
	}
	rest, err := collectTokens(rows)
	if err != nil {
		return nil, err
	}
	return append(active, rest...), nil
}

func (s *PostgresStore) ActiveSubscriptions(ctx context.Context) ([]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT instrument_token FROM subscribed_instruments WHERE is_active ORDER BY subscribed_at, instrument_token`)
	if err != nil {
		return nil, mapErr("active subscriptions", err)
	}
	return collectTokens(rows)
}

func (s *PostgresStore) Subscribe(ctx context.Context, tokens []int64) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `INSERT INTO subscribed_instruments (instrument_token, is_active, subscribed_at)
SELECT unnest($1::bigint[]), TRUE, now()
ON CONFLICT (instrument_token) DO UPDATE SET is_active = TRUE, subscribed_at = now()`, tokens)
	return mapErr("subscribe", err)
}

func (s *PostgresStore) Unsubscribe(ctx context.Context, tokens []int64) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `UPDATE subscribed_instruments SET is_active = FALSE WHERE instrument_token = ANY($1)`, tokens)
	return mapErr("unsubscribe", err)
}

const instrumentColumns = `instrument_token, exchange_token, tradingsymbol, name, exchange, segment, instrument_type, expiry, strike, tick_size, lot_size`

func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]models.Instrument, error) {
	rows, err := s.db.Query(ctx, `SELECT `+instrumentColumns+` FROM instruments ORDER BY instrument_token LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, mapErr("list instruments", err)
	}
	return collectInstruments(rows)
}

// Search matches symbol or name case-insensitively, exact symbols first.
func (s *PostgresStore) Search(ctx context.Context, q string, limit int) ([]models.Instrument, error) {
	rows, err := s.db.Query(ctx, `SELECT `+instrumentColumns+` FROM instruments
WHERE tradingsymbol ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%'
ORDER BY (upper(tradingsymbol) = upper($1)) DESC, length(tradingsymbol), instrument_token
LIMIT $2`, q, limit)
	if err != nil {
		return nil, mapErr("search instruments", err)
	}
	return collectInstruments(rows)
}

func (s *PostgresStore) Get(ctx context.Context, token int64) (*models.Instrument, error) {
	rows, err := s.db.Query(ctx, `SELECT `+instrumentColumns+` FROM instruments WHERE instrument_token = $1`, token)
	if err != nil {
		return nil, mapErr("get instrument", err)
	}
	list, err := collectInstruments(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("instrument %d: %w", token, domrepo.ErrNotFound)
	}
	return &list[0], nil
}

// Upsert writes instruments in one transaction using a pipelined batch.
func (s *PostgresStore) Upsert(ctx context.Context, instruments []models.Instrument) (int, error) {
	if len(instruments) == 0 {
		return 0, nil
	}
	const q = `INSERT INTO instruments (` + instrumentColumns + `, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
ON CONFLICT (instrument_token) DO UPDATE SET
    exchange_token = EXCLUDED.exchange_token,
    tradingsymbol = EXCLUDED.tradingsymbol,
    name = EXCLUDED.name,
    exchange = EXCLUDED.exchange,
    segment = EXCLUDED.segment,
    instrument_type = EXCLUDED.instrument_type,
    expiry = EXCLUDED.expiry,
    strike = EXCLUDED.strike,
    tick_size = EXCLUDED.tick_size,
    lot_size = EXCLUDED.lot_size,
    updated_at = now()`

	written := 0
	err := s.db.InTx(ctx, func(ctx context.Context) error {
		batch := &pgx.Batch{}
		for _, in := range instruments {
			batch.Queue(q, in.Token, in.ExchangeToken, in.Symbol, in.Name, in.Exchange, in.Segment,
				in.InstrumentType, in.Expiry, in.Strike, in.TickSize, in.LotSize)
		}
		br := s.db.SendBatch(ctx, batch)
		for range instruments {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return err
			}
			written++
		}
		return br.Close()
	})
	if err != nil {
		return 0, mapErr("upsert instruments", err)
	}
	return written, nil
}

func (s *PostgresStore) GetStatus(ctx context.Context, token int64) (*models.BackfillStatus, error) {
	var st models.BackfillStatus
	err := s.db.QueryRow(ctx, `SELECT instrument_token, last_backfilled_date, last_backfilled_from, last_backfilled_to, candle_count, updated_at
FROM backfill_status WHERE instrument_token = $1`, token).
		Scan(&st.InstrumentToken, &st.LastBackfilledDate, &st.LastBackfilledFrom, &st.LastBackfilledTo, &st.CandleCount, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr("get backfill status", err)
	}
	st.LastBackfilledDate = st.LastBackfilledDate.UTC()
	st.LastBackfilledFrom = st.LastBackfilledFrom.UTC()
	st.LastBackfilledTo = st.LastBackfilledTo.UTC()
	st.UpdatedAt = st.UpdatedAt.UTC()
	return &st, nil
}

// UpsertStatus never moves last_backfilled_to backwards, so a narrow
// on-demand backfill cannot make an instrument look staler than it is.
// ListStatuses returns the most recently backfilled instruments first.
func (s *PostgresStore) ListStatuses(ctx context.Context, limit int) ([]models.BackfillStatus, error) {
	rows, err := s.db.Query(ctx, `SELECT instrument_token, last_backfilled_date, last_backfilled_from, last_backfilled_to, candle_count, updated_at
FROM backfill_status ORDER BY last_backfilled_date DESC LIMIT $1`, limit)
	if err != nil {
		return nil, mapErr("list backfill status", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.BackfillStatus])
	if err != nil {
		return nil, mapErr("scan backfill status", err)
	}
	for i := range out {
		out[i].LastBackfilledDate = out[i].LastBackfilledDate.UTC()
		out[i].LastBackfilledFrom = out[i].LastBackfilledFrom.UTC()
		out[i].LastBackfilledTo = out[i].LastBackfilledTo.UTC()
		out[i].UpdatedAt = out[i].UpdatedAt.UTC()
	}
	return out, nil
}

func (s *PostgresStore) UpsertStatus(ctx context.Context, token int64, from, to time.Time, count int) error {
	_, err := s.db.Exec(ctx, `INSERT INTO backfill_status
    (instrument_token, last_backfilled_date, last_backfilled_from, last_backfilled_to, candle_count, updated_at)
VALUES ($1, now(), $2, $3, $4, now())
ON CONFLICT (instrument_token) DO UPDATE SET
    last_backfilled_date = now(),
    last_backfilled_from = EXCLUDED.last_backfilled_from,
    last_backfilled_to = GREATEST(backfill_status.last_backfilled_to, EXCLUDED.last_backfilled_to),
    candle_count = EXCLUDED.candle_count,
    updated_at = now()`, token, from.UTC(), to.UTC(), count)
	return mapErr("upsert backfill status", err)
}

func collectTokens(rows pgx.Rows) ([]int64, error) {
	tokens, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, mapErr("scan tokens", err)
	}
	return tokens, nil
}

func collectInstruments(rows pgx.Rows) ([]models.Instrument, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Instrument, error) {
		var in models.Instrument
		err := row.Scan(&in.Token, &in.ExchangeToken, &in.Symbol, &in.Name, &in.Exchange, &in.Segment,
			&in.InstrumentType, &in.Expiry, &in.Strike, &in.TickSize, &in.LotSize)
		return in, err
	})
	if err != nil {
		return nil, mapErr("scan instruments", err)
	}
	return out, nil
}

// mapErr translates pool shutdown into ErrStoreUnavailable so callers can
// abort a cycle without inspecting driver errors.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, postgres.ErrPoolClosed) {
		return fmt.Errorf("%s: %w: %v", op, domrepo.ErrStoreUnavailable, err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domrepo.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
