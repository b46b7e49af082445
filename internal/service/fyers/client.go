// Package fyers adapts the Fyers v3 data API to the broker interfaces.
// Fyers addresses instruments by "EXCHANGE:SYMBOL", so tokens are resolved
// through the instrument store.
package fyers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
	"TickVault/internal/service/ratelimit"
	"TickVault/internal/service/wsfeed"
	pkghttp "TickVault/pkg/http"
	applogger "TickVault/pkg/logger"
)

const Name = "fyers"

type Config struct {
	AppID             string
	AccessToken       string
	BaseURL           string
	SocketURL         string
	RequestsPerSecond float64
	Timeout           time.Duration
	MaxRetries        int
	Feed              wsfeed.Config
}

type instrumentGetter interface {
	Get(ctx context.Context, token int64) (*models.Instrument, error)
}

type Client struct {
	cfg         Config
	http        *pkghttp.Client
	instruments instrumentGetter
	l           *applogger.Logger

	mu      sync.RWMutex
	symbols map[int64]string
}

var _ drepo.Broker = (*Client)(nil)

func New(cfg Config, instruments drepo.InstrumentStore, limiter *ratelimit.Limiter, l *applogger.Logger) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 8
	}
	return &Client{
		cfg: cfg,
		http: pkghttp.NewClient(
			pkghttp.WithTimeout(cfg.Timeout),
			pkghttp.WithRetry(cfg.MaxRetries, time.Second),
			pkghttp.WithLimiter(limiter.For("fyers:rest", rps, rps)),
		),
		instruments: instruments,
		l:           l.Component("fyers"),
		symbols:     make(map[int64]string),
	}
}

func (c *Client) Name() string { return Name }

// FetchInstruments is not offered by the data API; the symbol master has to
// be loaded out of band.
func (c *Client) FetchInstruments(context.Context) ([]models.Instrument, error) {
	c.l.Warn("fyers has no instrument download endpoint; load the symbol master separately")
	return nil, nil
}

func (c *Client) authHeader() string {
	return c.cfg.AppID + ":" + c.cfg.AccessToken
}

// symbol resolves a token to "EXCHANGE:SYMBOL", caching hits.
func (c *Client) symbol(ctx context.Context, token int64) (string, error) {
	c.mu.RLock()
	s, ok := c.symbols[token]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}
	in, err := c.instruments.Get(ctx, token)
	if err != nil {
		return "", fmt.Errorf("resolve fyers symbol for %d: %w", token, err)
	}
	s = fyersSymbol(in)
	c.mu.Lock()
	c.symbols[token] = s
	c.mu.Unlock()
	return s, nil
}

func fyersSymbol(in *models.Instrument) string {
	if strings.Contains(in.Symbol, ":") {
		return in.Symbol
	}
	return in.Exchange + ":" + in.Symbol
}

func epoch(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) }
