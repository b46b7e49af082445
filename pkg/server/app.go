package server

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	drepo "TickVault/internal/domain/repository"
	"TickVault/internal/usecase"
	"TickVault/pkg/cache"
	pkgch "TickVault/pkg/clickhouse"
	"TickVault/pkg/config"
	xhttp "TickVault/pkg/http"
	pkgkafka "TickVault/pkg/kafka"
	applogger "TickVault/pkg/logger"
	"TickVault/pkg/postgres"
	"TickVault/pkg/queue"
)

// Components is everything App drives. Optional parts are nil when the
// configuration turns them off: Publisher, Consumer and TicksHandler outside
// the kafka backend, Redis and Queue when Redis is disabled.
type Components struct {
	Buffer       *usecase.TickBuffer
	Supervisor   *usecase.Supervisor
	AutoBackfill *usecase.AutoBackfiller
	Refresher    *usecase.AggregateRefresher
	Dispatcher   *usecase.BackfillDispatcher
	BackfillJob  *usecase.BackfillJob
	TicksHandler *usecase.KafkaTicksHandler

	Consumer  *pkgkafka.Consumer
	Producer  *pkgkafka.Producer
	Publisher drepo.TickPublisher
	Queue     *queue.RedisQueue
	HTTP      *xhttp.Server

	ClickHouse *pkgch.Client
	Postgres   *postgres.Client
	Redis      *cache.RedisCache
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg *config.Config
	l   *applogger.Logger
	c   Components

	flushCancel context.CancelFunc
	loops       sync.WaitGroup
	flushDone   chan struct{}
}

func New(cfg *config.Config, l *applogger.Logger, c Components) *App {
	return &App{cfg: cfg, l: l.Component("app"), c: c}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.start(ctx); err != nil {
		a.shutdown(cancel)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	a.l.Info("shutdown signal received", applogger.String("signal", sig.String()))

	a.shutdown(cancel)
	return nil
}

func (a *App) start(ctx context.Context) error {
	if a.cfg.Kafka.CollectLogs && a.c.Producer != nil {
		a.l.AddCollector(&applogger.CollectionConfig{
			Interval:       time.Minute,
			CountThreshold: 100,
			Topic:          a.cfg.Kafka.LogTopic,
			Publisher:      a.c.Producer,
		})
	}

	// The flush loop outlives ctx so the supervisor can drain into it first.
	flushCtx, flushCancel := context.WithCancel(context.Background())
	a.flushCancel = flushCancel
	a.flushDone = make(chan struct{})
	go func() {
		defer close(a.flushDone)
		a.c.Buffer.Run(flushCtx)
	}()
	a.l.Info("tick buffer started",
		applogger.String("backend", a.cfg.Ingest.Backend),
		applogger.Int("buffer_size", a.cfg.Ingest.BufferSize),
		applogger.Duration("flush_interval", a.cfg.Ingest.FlushInterval))

	if a.c.Consumer != nil && a.c.TicksHandler != nil {
		a.c.Consumer.RegisterHandler(a.c.TicksHandler)
		a.c.Consumer.SetHook(pkgkafka.NewHookChain(pkgkafka.StartTimeHook()))
		if err := a.c.Consumer.Start(); err != nil {
			return err
		}
		a.l.Info("kafka consumer started", applogger.String("topic", a.c.TicksHandler.Topic()))
	}

	if a.c.Queue != nil {
		a.c.Queue.Register(a.c.BackfillJob)
		if err := a.c.Queue.Start(ctx); err != nil {
			return err
		}
	}

	if a.cfg.Streaming.AutoStart {
		if err := a.c.Supervisor.Start(ctx); err != nil {
			a.l.Warn("streaming auto-start failed", applogger.Error(err))
		}
	}

	if a.cfg.Backfill.Enabled {
		a.goLoop(func() { a.c.AutoBackfill.Run(ctx) })
		a.l.Info("auto backfill scheduled",
			applogger.Duration("sweep_interval", a.cfg.Backfill.SweepInterval),
			applogger.String("interval", a.cfg.Backfill.Interval))
	}

	if a.cfg.Aggregate.Enabled {
		a.goLoop(func() { a.c.Refresher.Run(ctx) })
	}

	return a.c.HTTP.Start()
}

func (a *App) goLoop(fn func()) {
	a.loops.Add(1)
	go func() {
		defer a.loops.Done()
		fn()
	}()
}

// shutdown stops the supervisor first so no tick is lost between the last
// frame and the final flush, then producers of work, then clients.
func (a *App) shutdown(cancel context.CancelFunc) {
	a.l.Info("shutting down...")
	ctx, done := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer done()

	if err := a.c.Supervisor.Stop(ctx); err != nil {
		a.l.Warn("stream supervisor stop error", applogger.Error(err))
	}

	cancel()
	a.loops.Wait()

	if a.flushCancel != nil {
		a.flushCancel()
		select {
		case <-a.flushDone:
		case <-ctx.Done():
			a.l.Error("final flush did not complete", applogger.Int("buffered", a.c.Buffer.Len()))
		}
	}

	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.c.Queue != nil {
		if err := a.c.Queue.Stop(ctx); err != nil {
			a.l.Warn("queue stop error", applogger.Error(err))
		}
	}
	if err := a.c.HTTP.Stop(ctx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
	}
	if err := a.c.Dispatcher.Wait(ctx); err != nil {
		a.l.Warn("backfill jobs still running", applogger.Error(err))
	}

	a.l.RemoveCollector()
	if a.c.Publisher != nil {
		if err := a.c.Publisher.Close(); err != nil {
			a.l.Warn("tick publisher close error", applogger.Error(err))
		}
	} else if a.c.Producer != nil {
		if err := a.c.Producer.Close(); err != nil {
			a.l.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	if a.c.ClickHouse != nil {
		if err := a.c.ClickHouse.Close(); err != nil {
			a.l.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.c.Postgres != nil {
		a.c.Postgres.Close()
	}
	if a.c.Redis != nil {
		if err := a.c.Redis.Close(); err != nil {
			a.l.Warn("redis close error", applogger.Error(err))
		}
	}

	a.l.Info("shutdown complete")
}
