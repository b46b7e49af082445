package di

import (
	"context"
	"fmt"
	"time"

	drepo "TickVault/internal/domain/repository"
	"TickVault/internal/handler/api"
	mid "TickVault/internal/middleware"
	internalrepo "TickVault/internal/repository"
	"TickVault/internal/service/fyers"
	"TickVault/internal/service/kite"
	"TickVault/internal/service/ratelimit"
	"TickVault/internal/service/tracker"
	"TickVault/internal/service/wsfeed"
	"TickVault/internal/usecase"
	"TickVault/pkg/cache"
	pkgch "TickVault/pkg/clickhouse"
	"TickVault/pkg/config"
	xhttp "TickVault/pkg/http"
	pkgkafka "TickVault/pkg/kafka"
	applogger "TickVault/pkg/logger"
	"TickVault/pkg/metrics"
	"TickVault/pkg/postgres"
	"TickVault/pkg/queue"
)

const schemaTimeout = 30 * time.Second

func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(cfg *config.Config) drepo.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideClickHouseStore creates the tick and candle store and makes sure its
// tables exist.
func ProvideClickHouseStore(cfg *config.Config, client *pkgch.Client, l *applogger.Logger) (*internalrepo.ClickHouseStore, error) {
	loc, err := time.LoadLocation(cfg.Aggregate.DayTimezone)
	if err != nil {
		return nil, fmt.Errorf("day timezone: %w", err)
	}
	store := internalrepo.NewClickHouseStore(client, loc, l)

	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	if err := client.InitSchema(ctx, store.Schema()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Postgres.ConnectTimeout+5*time.Second)
	defer cancel()
	client, err := postgres.NewClient(ctx,
		postgres.WithHost(cfg.Postgres.Host, cfg.Postgres.Port),
		postgres.WithDatabase(cfg.Postgres.Database),
		postgres.WithCredentials(cfg.Postgres.User, cfg.Postgres.Password),
		postgres.WithSSLMode(cfg.Postgres.SSLMode),
		postgres.WithPoolSize(cfg.Postgres.MaxConns, cfg.Postgres.MinConns),
		postgres.WithConnLifetimes(cfg.Postgres.MaxConnLifetime, cfg.Postgres.MaxConnIdleTime),
		postgres.WithConnectTimeout(cfg.Postgres.ConnectTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres client: %w", err)
	}
	return client, nil
}

func ProvidePostgresStore(client *postgres.Client) (*internalrepo.PostgresStore, error) {
	store := internalrepo.NewPostgresStore(client)

	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	if err := client.InitSchema(ctx, store.Schema()); err != nil {
		client.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return store, nil
}

// ProvideRedisCache returns nil when Redis is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(20, 5, 5*time.Second),
		cache.WithRedisPrefix(cfg.Redis.KeyPrefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache layers an in-process LRU over Redis, or uses the LRU alone.
func ProvideCache(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Redis.MemoryCacheSize))
	}
	return cache.NewLayeredCache(rc, cache.WithLayeredMemory(cfg.Redis.MemoryCacheSize, time.Minute))
}

func ProvideStatusStore(cfg *config.Config, pg *internalrepo.PostgresStore, c cache.Service, l *applogger.Logger) drepo.BackfillStatusStore {
	return internalrepo.NewCachedStatusStore(pg, c, cfg.Redis.StatusTTL, l)
}

// ProvideKafkaProducer returns nil when nothing in the configuration
// publishes to Kafka.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if cfg.Ingest.Backend != usecase.BackendKafka && !cfg.Kafka.CollectLogs {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

func ProvideTickPublisher(cfg *config.Config, producer *pkgkafka.Producer) drepo.TickPublisher {
	if cfg.Ingest.Backend != usecase.BackendKafka || producer == nil {
		return nil
	}
	return internalrepo.NewKafkaTickPublisher(producer, cfg.Kafka.TicksTopic)
}

// ProvideKafkaConsumer creates the ticks-topic consumer for the kafka
// backend and returns nil otherwise.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Ingest.Backend != usecase.BackendKafka {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

func ProvideKafkaTicksHandler(cfg *config.Config, store *internalrepo.ClickHouseStore, m drepo.Metrics) *usecase.KafkaTicksHandler {
	if cfg.Ingest.Backend != usecase.BackendKafka {
		return nil
	}
	return usecase.NewKafkaTicksHandler(cfg.Kafka.TicksTopic, store, m)
}

func ProvideRateLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvideBroker selects the market data vendor adapter.
func ProvideBroker(cfg *config.Config, pg *internalrepo.PostgresStore, limiter *ratelimit.Limiter, l *applogger.Logger) (drepo.Broker, error) {
	feed := wsfeed.Config{
		QueueSize:    cfg.Streaming.QueueSize,
		PingInterval: cfg.Streaming.PingInterval,
		WriteTimeout: 10 * time.Second,
	}
	switch cfg.Broker.Name {
	case kite.Name:
		k := cfg.Broker.Kite
		return kite.New(kite.Config{
			APIKey:            k.APIKey,
			AccessToken:       k.AccessToken,
			BaseURL:           k.BaseURL,
			TickerURL:         k.TickerURL,
			RequestsPerSecond: k.RequestsPerSecond,
			Timeout:           cfg.Broker.HTTPTimeout,
			MaxRetries:        cfg.Broker.MaxRetries,
			Feed:              feed,
		}, limiter, l), nil
	case fyers.Name:
		f := cfg.Broker.Fyers
		return fyers.New(fyers.Config{
			AppID:             f.AppID,
			AccessToken:       f.AccessToken,
			BaseURL:           f.BaseURL,
			SocketURL:         f.SocketURL,
			RequestsPerSecond: f.RequestsPerSecond,
			Timeout:           cfg.Broker.HTTPTimeout,
			MaxRetries:        cfg.Broker.MaxRetries,
			Feed:              feed,
		}, pg, limiter, l), nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker.Name)
	}
}

func ProvideRecentInstruments(cfg *config.Config) *tracker.RecentInstruments {
	return tracker.NewRecentInstruments(cfg.Backfill.RecentTTL)
}

func ProvideTickSink(cfg *config.Config, store *internalrepo.ClickHouseStore, pub drepo.TickPublisher, m drepo.Metrics) (*usecase.TickSink, error) {
	return usecase.NewTickSink(cfg.Ingest.Backend, store, pub, m)
}

func ProvideTickBuffer(cfg *config.Config, sink *usecase.TickSink, m drepo.Metrics, l *applogger.Logger) *usecase.TickBuffer {
	return usecase.NewTickBuffer(usecase.TickBufferConfig{
		Threshold:     cfg.Ingest.BufferSize,
		FlushInterval: cfg.Ingest.FlushInterval,
		MaxBuffered:   cfg.Ingest.MaxBuffered,
	}, sink, m, l)
}

func ProvideTickPipeline(cfg *config.Config, buf *usecase.TickBuffer, limiter *ratelimit.Limiter, m drepo.Metrics) *mid.TickPipeline {
	return mid.NewTickPipeline(buf, m,
		mid.WithLimiter(limiter),
		mid.WithMaxRPS(cfg.Streaming.MaxTicksPerSec),
	)
}

func ProvideBackfiller(broker drepo.Broker, store *internalrepo.ClickHouseStore, m drepo.Metrics, l *applogger.Logger) *usecase.Backfiller {
	return usecase.NewBackfiller(broker, store, store, m, l)
}

func ProvideCandleReader(store *internalrepo.ClickHouseStore, filler *usecase.Backfiller,
	m drepo.Metrics, l *applogger.Logger) *usecase.CandleReader {
	return usecase.NewCandleReader(store, filler, m, l)
}

func ProvideAutoBackfiller(cfg *config.Config, reader *usecase.CandleReader, pg *internalrepo.PostgresStore,
	status drepo.BackfillStatusStore, recent *tracker.RecentInstruments, l *applogger.Logger) (*usecase.AutoBackfiller, error) {
	iv, err := drepo.ParseInterval(cfg.Backfill.Interval)
	if err != nil {
		return nil, err
	}
	return usecase.NewAutoBackfiller(usecase.AutoBackfillConfig{
		SweepInterval:   cfg.Backfill.SweepInterval,
		StartDelay:      cfg.Backfill.StartDelay,
		Window:          cfg.Backfill.Window,
		Interval:        iv,
		InstrumentDelay: cfg.Backfill.InstrumentDelay,
		MaxAge:          cfg.Backfill.MaxAge,
		Freshness:       cfg.Backfill.Freshness,
	}, reader, pg, status, recent, l), nil
}

func ProvideSupervisor(cfg *config.Config, broker drepo.Broker, pg *internalrepo.PostgresStore, pipeline *mid.TickPipeline,
	m drepo.Metrics, l *applogger.Logger) *usecase.Supervisor {
	return usecase.NewSupervisor(usecase.SupervisorConfig{
		InitialBackoff:  cfg.Streaming.InitialBackoff,
		MaxBackoff:      cfg.Streaming.MaxBackoff,
		StableAfter:     cfg.Streaming.StableAfter,
		RefreshInterval: cfg.Streaming.RefreshInterval,
		ChangeThreshold: cfg.Streaming.ChangeThreshold,
		MaxInstruments:  cfg.Streaming.MaxInstruments,
	}, broker.Name(), broker, pg, pipeline, m, l)
}

func ProvideAggregateRefresher(cfg *config.Config, store *internalrepo.ClickHouseStore, m drepo.Metrics, l *applogger.Logger) *usecase.AggregateRefresher {
	return usecase.NewAggregateRefresher(store, cfg.Aggregate.RefreshInterval, cfg.Aggregate.Lookback, m, l)
}

func ProvideInstrumentService(cfg *config.Config, pg *internalrepo.PostgresStore, broker drepo.Broker, c cache.Service,
	l *applogger.Logger) *usecase.InstrumentService {
	return usecase.NewInstrumentService(pg, pg, broker, c, cfg.Redis.InstrumentTTL, l)
}

// ProvideQueue returns nil when Redis is disabled; backfills then run inline.
func ProvideQueue(cfg *config.Config, rc *cache.RedisCache, l *applogger.Logger) *queue.RedisQueue {
	if rc == nil {
		return nil
	}
	return queue.NewRedisQueue(l, rc.Client(), queue.Config{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.MaxRetries,
		RetryDelay: cfg.Queue.RetryDelay,
		JobTimeout: cfg.Backfill.JobTimeout,
	}, queue.WithKeyPrefix(cfg.Redis.KeyPrefix+":queue:"+cfg.Queue.Name))
}

func ProvideBackfillDispatcher(cfg *config.Config, reader *usecase.CandleReader, status drepo.BackfillStatusStore,
	c cache.Service, q *queue.RedisQueue, l *applogger.Logger) *usecase.BackfillDispatcher {
	var pub queue.Publisher
	if q != nil {
		pub = q
	}
	return usecase.NewBackfillDispatcher(reader, status, c, pub, cfg.Backfill.JobTimeout, l)
}

func ProvideBackfillJob(d *usecase.BackfillDispatcher) *usecase.BackfillJob {
	return usecase.NewBackfillJob(d)
}

// ProvideHealthChecks lists the dependencies GET /health pings.
func ProvideHealthChecks(store *internalrepo.ClickHouseStore, pg *postgres.Client, rc *cache.RedisCache) map[string]api.Pinger {
	checks := map[string]api.Pinger{
		"clickhouse": store.Health,
		"postgres":   pg.Ping,
	}
	if rc != nil {
		checks["redis"] = rc.Ping
	}
	return checks
}

func ProvideHTTPHandlers(
	l *applogger.Logger,
	reader *usecase.CandleReader,
	recent *tracker.RecentInstruments,
	dispatcher *usecase.BackfillDispatcher,
	status drepo.BackfillStatusStore,
	pg *internalrepo.PostgresStore,
	store *internalrepo.ClickHouseStore,
	supervisor *usecase.Supervisor,
	instruments *usecase.InstrumentService,
	checks map[string]api.Pinger,
) []xhttp.Handler {
	return []xhttp.Handler{
		api.NewHealthHandler(checks),
		api.NewCandlesHandler(l, reader, recent),
		api.NewBackfillHandler(l, dispatcher, status, pg),
		api.NewTicksHandler(l, store),
		api.NewStreamingHandler(l, supervisor),
		api.NewInstrumentsHandler(l, instruments),
	}
}

func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, handlers []xhttp.Handler) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithAddr(cfg.Server.Host, cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(cfg.Metrics.Path))
	}
	return xhttp.NewServer(l, handlers, opts...)
}
