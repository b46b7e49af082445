package usecase

import (
	"context"
	"fmt"
	"time"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
)

const (
	BackendClickHouse = "clickhouse"
	BackendKafka      = "kafka"
)

// TickSink routes flushed batches to the configured backend: straight into
// ClickHouse, or onto Kafka for the consumer to write.
type TickSink struct {
	backend string
	store   drepo.TickStore
	pub     drepo.TickPublisher
	metrics drepo.Metrics
}

func NewTickSink(backend string, store drepo.TickStore, pub drepo.TickPublisher, metrics drepo.Metrics) (*TickSink, error) {
	switch backend {
	case BackendClickHouse:
		if store == nil {
			return nil, fmt.Errorf("clickhouse backend needs a tick store")
		}
	case BackendKafka:
		if pub == nil {
			return nil, fmt.Errorf("kafka backend needs a publisher")
		}
	default:
		return nil, fmt.Errorf("unknown backend: %s", backend)
	}
	return &TickSink{backend: backend, store: store, pub: pub, metrics: metrics}, nil
}

func (s *TickSink) Backend() string { return s.backend }

func (s *TickSink) WriteBatch(ctx context.Context, ticks []models.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	start := time.Now()
	var err error
	if s.backend == BackendKafka {
		err = s.pub.PublishTicks(ctx, ticks)
	} else {
		err = s.store.BulkWriteTicks(ctx, ticks)
	}
	if err != nil {
		s.metrics.RecordError("sink_" + s.backend)
		return fmt.Errorf("write batch to %s: %w", s.backend, err)
	}
	s.metrics.RecordTicksFlushed(s.backend, len(ticks))
	s.metrics.RecordLatency("sink_write", time.Since(start).Seconds())
	return nil
}
