package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrPoolClosed is returned by every call made after Close, and by calls
// the pool itself rejected because it was shutting down.
var ErrPoolClosed = errors.New("postgres pool closed")

// DB is the query surface repositories depend on. *Client implements it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Client struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

var _ DB = (*Client)(nil)

func NewClient(ctx context.Context, opts ...ClientOption) (*Client, error) {
	cfg := &ClientConfig{
		Host:            "localhost",
		Port:            5432,
		SSLMode:         "disable",
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("database is required")
	}

	poolCfg, err := pgxpool.ParseConfig(connString(*cfg))
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Client{pool: pool}, nil
}

func connString(cfg ClientConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:   "/" + cfg.Database,
	}
	q := url.Values{}
	q.Set("sslmode", cfg.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) Pool() *pgxpool.Pool { return c.pool }

// Available reports whether the pool still accepts work.
func (c *Client) Available() bool { return !c.closed.Load() }

func (c *Client) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrPoolClosed
	}
	return c.wrap(c.pool.Ping(ctx))
}

func (c *Client) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.pool.Close()
	}
}

// InitSchema runs idempotent DDL in order.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := c.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (c *Client) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if c.closed.Load() {
		return pgconn.CommandTag{}, ErrPoolClosed
	}
	if tx, ok := txFrom(ctx); ok {
		tag, err := tx.Exec(ctx, sql, args...)
		return tag, c.wrap(err)
	}
	tag, err := c.pool.Exec(ctx, sql, args...)
	return tag, c.wrap(err)
}

func (c *Client) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if c.closed.Load() {
		return nil, ErrPoolClosed
	}
	if tx, ok := txFrom(ctx); ok {
		rows, err := tx.Query(ctx, sql, args...)
		return rows, c.wrap(err)
	}
	rows, err := c.pool.Query(ctx, sql, args...)
	return rows, c.wrap(err)
}

func (c *Client) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if c.closed.Load() {
		return errRow{err: ErrPoolClosed}
	}
	if tx, ok := txFrom(ctx); ok {
		return wrappedRow{row: tx.QueryRow(ctx, sql, args...), c: c}
	}
	return wrappedRow{row: c.pool.QueryRow(ctx, sql, args...), c: c}
}

func (c *Client) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	if tx, ok := txFrom(ctx); ok {
		return tx.SendBatch(ctx, b)
	}
	return c.pool.SendBatch(ctx, b)
}

// wrap tags pool shutdown failures with ErrPoolClosed so callers can tell
// "try again next cycle" apart from query errors.
func (c *Client) wrap(err error) error {
	if err == nil {
		return nil
	}
	if c.closed.Load() || strings.Contains(err.Error(), "closed pool") {
		return fmt.Errorf("%w: %v", ErrPoolClosed, err)
	}
	return err
}

type wrappedRow struct {
	row pgx.Row
	c   *Client
}

func (r wrappedRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	return r.c.wrap(err)
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }
