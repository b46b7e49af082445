// Package kite adapts the Zerodha Kite Connect REST and ticker APIs to the
// broker interfaces.
package kite

import (
	"fmt"
	"time"

	drepo "TickVault/internal/domain/repository"
	"TickVault/internal/service/ratelimit"
	"TickVault/internal/service/wsfeed"
	pkghttp "TickVault/pkg/http"
	applogger "TickVault/pkg/logger"
)

const Name = "kite"

// ist is the exchange clock Kite expects in query parameters.
var ist = time.FixedZone("IST", 5*3600+1800)

type Config struct {
	APIKey            string
	AccessToken       string
	BaseURL           string
	TickerURL         string
	RequestsPerSecond float64
	Timeout           time.Duration
	MaxRetries        int
	Feed              wsfeed.Config
}

type Client struct {
	cfg  Config
	http *pkghttp.Client
	l    *applogger.Logger
}

var _ drepo.Broker = (*Client)(nil)

func New(cfg Config, limiter *ratelimit.Limiter, l *applogger.Logger) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 3
	}
	return &Client{
		cfg: cfg,
		http: pkghttp.NewClient(
			pkghttp.WithTimeout(cfg.Timeout),
			pkghttp.WithRetry(cfg.MaxRetries, time.Second),
			pkghttp.WithLimiter(limiter.For("kite:rest", rps, rps)),
		),
		l: l.Component("kite"),
	}
}

func (c *Client) Name() string { return Name }

func (c *Client) headers() map[string]string {
	return map[string]string{
		"X-Kite-Version": "3",
		"Authorization":  fmt.Sprintf("token %s:%s", c.cfg.APIKey, c.cfg.AccessToken),
	}
}
