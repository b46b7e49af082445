package postgres

import "time"

type ClientOption func(*ClientConfig)

type ClientConfig struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

func WithHost(host string, port int) ClientOption {
	return func(c *ClientConfig) {
		c.Host = host
		c.Port = port
	}
}

func WithDatabase(database string) ClientOption {
	return func(c *ClientConfig) { c.Database = database }
}

func WithCredentials(user, password string) ClientOption {
	return func(c *ClientConfig) {
		c.User = user
		c.Password = password
	}
}

func WithSSLMode(mode string) ClientOption {
	return func(c *ClientConfig) { c.SSLMode = mode }
}

func WithPoolSize(maxConns, minConns int32) ClientOption {
	return func(c *ClientConfig) {
		c.MaxConns = maxConns
		c.MinConns = minConns
	}
}

func WithConnLifetimes(maxLifetime, maxIdle time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.MaxConnLifetime = maxLifetime
		c.MaxConnIdleTime = maxIdle
	}
}

func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.ConnectTimeout = d }
}
