//go:build wireinject
// +build wireinject

package di

import (
	"TickVault/pkg/config"
	"TickVault/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvidePostgresClient,
		ProvideRedisCache,
		ProvideCache,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideRateLimiter,

		// Repositories
		ProvideClickHouseStore,
		ProvidePostgresStore,
		ProvideStatusStore,
		ProvideTickPublisher,
		ProvideBroker,
		ProvideRecentInstruments,

		// Use cases
		ProvideTickSink,
		ProvideTickBuffer,
		ProvideTickPipeline,
		ProvideKafkaTicksHandler,
		ProvideBackfiller,
		ProvideCandleReader,
		ProvideAutoBackfiller,
		ProvideSupervisor,
		ProvideAggregateRefresher,
		ProvideInstrumentService,
		ProvideQueue,
		ProvideBackfillDispatcher,
		ProvideBackfillJob,

		// HTTP
		ProvideHealthChecks,
		ProvideHTTPHandlers,
		ProvideHTTPServer,

		wire.Struct(new(server.Components), "*"),
		server.New,
	)
	return nil, nil
}
