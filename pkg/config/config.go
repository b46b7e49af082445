package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"TickVault/pkg/logger"
)

type Config struct {
	Environment string        `yaml:"environment" default:"development" env:"ENVIRONMENT" validate:"required"`
	Log         logger.Config `yaml:"log" envPrefix:"LOG_"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0" env:"HOST"`
		Port            int           `yaml:"port" default:"8000" env:"PORT" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"120s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORSOrigins     []string      `yaml:"cors_origins" env:"CORS_ORIGINS"`
	} `yaml:"server" envPrefix:"SERVER_"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true" env:"ENABLED"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics" envPrefix:"METRICS_"`
	Broker struct {
		Name        string        `yaml:"name" default:"kite" env:"NAME" validate:"oneof=kite fyers"`
		HTTPTimeout time.Duration `yaml:"http_timeout" default:"30s"`
		MaxRetries  int           `yaml:"max_retries" default:"3" validate:"gte=0,lte=10"`
		Kite        struct {
			APIKey            string  `yaml:"api_key" env:"API_KEY"`
			AccessToken       string  `yaml:"access_token" env:"ACCESS_TOKEN"`
			BaseURL           string  `yaml:"base_url" default:"https://api.kite.trade" validate:"url"`
			TickerURL         string  `yaml:"ticker_url" default:"wss://ws.kite.trade" validate:"url"`
			RequestsPerSecond float64 `yaml:"requests_per_second" default:"3" validate:"gt=0"`
		} `yaml:"kite" envPrefix:"KITE_"`
		Fyers struct {
			AppID             string  `yaml:"app_id" env:"APP_ID"`
			AccessToken       string  `yaml:"access_token" env:"ACCESS_TOKEN"`
			BaseURL           string  `yaml:"base_url" default:"https://api-t1.fyers.in" validate:"url"`
			SocketURL         string  `yaml:"socket_url" default:"wss://api-t1.fyers.in/socket/v2/dataSock" validate:"url"`
			RequestsPerSecond float64 `yaml:"requests_per_second" default:"8" validate:"gt=0"`
		} `yaml:"fyers" envPrefix:"FYERS_"`
	} `yaml:"broker" envPrefix:"BROKER_"`
	Ingest struct {
		Backend       string        `yaml:"backend" default:"clickhouse" env:"BACKEND" validate:"oneof=clickhouse kafka"`
		BufferSize    int           `yaml:"buffer_size" default:"1000" env:"BUFFER_SIZE" validate:"gte=1"`
		FlushInterval time.Duration `yaml:"flush_interval" default:"1s" env:"FLUSH_INTERVAL"`
		MaxBuffered   int           `yaml:"max_buffered" default:"100000" validate:"gte=0"`
	} `yaml:"ingest" envPrefix:"INGEST_"`
	Backfill struct {
		Enabled         bool          `yaml:"enabled" default:"true" env:"ENABLED"`
		SweepInterval   time.Duration `yaml:"sweep_interval" default:"5m"`
		StartDelay      time.Duration `yaml:"start_delay" default:"5s"`
		Window          time.Duration `yaml:"window" default:"168h"`
		Interval        string        `yaml:"interval" default:"1m" validate:"oneof=1m 5m 15m 1h 1d"`
		InstrumentDelay time.Duration `yaml:"instrument_delay" default:"2s"`
		MaxAge          time.Duration `yaml:"max_age" default:"6h"`
		Freshness       time.Duration `yaml:"freshness" default:"1h"`
		JobTimeout      time.Duration `yaml:"job_timeout" default:"10m"`
		RecentTTL       time.Duration `yaml:"recent_ttl" default:"24h"`
	} `yaml:"backfill" envPrefix:"BACKFILL_"`
	Streaming struct {
		AutoStart       bool          `yaml:"auto_start" default:"true" env:"AUTO_START"`
		InitialBackoff  time.Duration `yaml:"initial_backoff" default:"60s"`
		MaxBackoff      time.Duration `yaml:"max_backoff" default:"600s"`
		StableAfter     time.Duration `yaml:"stable_after" default:"2m"`
		RefreshInterval time.Duration `yaml:"refresh_interval" default:"1h"`
		ChangeThreshold float64       `yaml:"change_threshold" default:"0.1" validate:"gt=0,lte=1"`
		MaxInstruments  int           `yaml:"max_instruments" default:"500" validate:"gte=1,lte=3000"`
		QueueSize       int           `yaml:"queue_size" default:"4096" validate:"gte=1"`
		PingInterval    time.Duration `yaml:"ping_interval" default:"30s"`
		MaxTicksPerSec  int           `yaml:"max_ticks_per_sec" default:"0" validate:"gte=0"`
	} `yaml:"streaming" envPrefix:"STREAMING_"`
	Aggregate struct {
		Enabled         bool          `yaml:"enabled" default:"true"`
		RefreshInterval time.Duration `yaml:"refresh_interval" default:"1m"`
		Lookback        time.Duration `yaml:"lookback" default:"2h"`
		DayTimezone     string        `yaml:"day_timezone" default:"Asia/Kolkata"`
	} `yaml:"aggregate" envPrefix:"AGGREGATE_"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost" env:"HOST"`
		Port             int           `yaml:"port" default:"9000" env:"PORT"`
		Database         string        `yaml:"database" default:"tickvault" env:"DATABASE" validate:"required"`
		User             string        `yaml:"user" default:"default" env:"USER"`
		Password         string        `yaml:"password" env:"PASSWORD"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert" default:"true"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse" envPrefix:"CLICKHOUSE_"`
	Postgres struct {
		Host            string        `yaml:"host" default:"localhost" env:"HOST"`
		Port            int           `yaml:"port" default:"5432" env:"PORT"`
		Database        string        `yaml:"database" default:"tickvault" env:"DATABASE" validate:"required"`
		User            string        `yaml:"user" default:"postgres" env:"USER"`
		Password        string        `yaml:"password" env:"PASSWORD"`
		SSLMode         string        `yaml:"ssl_mode" default:"disable" env:"SSL_MODE"`
		MaxConns        int32         `yaml:"max_conns" default:"10"`
		MinConns        int32         `yaml:"min_conns" default:"2"`
		MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" default:"1h"`
		MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" default:"30m"`
		ConnectTimeout  time.Duration `yaml:"connect_timeout" default:"10s"`
	} `yaml:"postgres" envPrefix:"POSTGRES_"`
	Redis struct {
		Enabled         bool          `yaml:"enabled" env:"ENABLED"`
		Addr            string        `yaml:"addr" default:"localhost:6379" env:"ADDR"`
		Password        string        `yaml:"password" env:"PASSWORD"`
		DB              int           `yaml:"db" env:"DB"`
		KeyPrefix       string        `yaml:"key_prefix" default:"tickvault"`
		MemoryCacheSize int           `yaml:"memory_cache_size" default:"10000"`
		StatusTTL       time.Duration `yaml:"status_ttl" default:"5m"`
		InstrumentTTL   time.Duration `yaml:"instrument_ttl" default:"1h"`
	} `yaml:"redis" envPrefix:"REDIS_"`
	Queue struct {
		Name       string        `yaml:"name" default:"backfill"`
		Workers    int           `yaml:"workers" default:"2" validate:"gte=1"`
		MaxRetries int           `yaml:"max_retries" default:"3"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
	} `yaml:"queue" envPrefix:"QUEUE_"`
	Kafka struct {
		Brokers      []string `yaml:"brokers" env:"BROKERS"`
		TicksTopic   string   `yaml:"ticks_topic" default:"tickvault.ticks" env:"TICKS_TOPIC"`
		LogTopic     string   `yaml:"log_topic" default:"tickvault.logs"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"1000"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"tickvault-writer"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"1024"`
			RetryMax   int           `yaml:"retry_max" default:"5"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"10s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"tickvault.ticks.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
		CollectLogs bool `yaml:"collect_logs"`
	} `yaml:"kafka" envPrefix:"KAFKA_"`
}

// Load builds the configuration in layers: struct defaults, the YAML file,
// then environment variables (a .env file in the working directory is read
// first when present).
func Load(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := env.ParseWithOptions(&c, env.Options{Prefix: "TICKVAULT_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

var validate = validator.New()

// Validate runs tag validation and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	switch c.Broker.Name {
	case "kite":
		if c.Broker.Kite.APIKey == "" || c.Broker.Kite.AccessToken == "" {
			return fmt.Errorf("broker.kite.api_key and broker.kite.access_token are required")
		}
	case "fyers":
		if c.Broker.Fyers.AppID == "" || c.Broker.Fyers.AccessToken == "" {
			return fmt.Errorf("broker.fyers.app_id and broker.fyers.access_token are required")
		}
	}
	if c.Ingest.Backend == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when ingest.backend is 'kafka'")
	}
	if c.Kafka.CollectLogs && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka.collect_logs is set")
	}
	if c.Ingest.MaxBuffered > 0 && c.Ingest.MaxBuffered < c.Ingest.BufferSize {
		return fmt.Errorf("ingest.max_buffered (%d) must be >= ingest.buffer_size (%d)", c.Ingest.MaxBuffered, c.Ingest.BufferSize)
	}
	if c.Streaming.MaxBackoff < c.Streaming.InitialBackoff {
		return fmt.Errorf("streaming.max_backoff must be >= streaming.initial_backoff")
	}
	if c.Ingest.FlushInterval <= 0 {
		return fmt.Errorf("ingest.flush_interval must be positive")
	}
	if _, err := time.LoadLocation(c.Aggregate.DayTimezone); err != nil {
		return fmt.Errorf("aggregate.day_timezone: %w", err)
	}
	return nil
}
