package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
	pkgkafka "TickVault/pkg/kafka"
)

// KafkaTicksHandler consumes tick batches published by the kafka backend
// and writes them into the tick store.
type KafkaTicksHandler struct {
	topic   string
	store   drepo.TickStore
	metrics drepo.Metrics
}

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)

func NewKafkaTicksHandler(topic string, store drepo.TickStore, metrics drepo.Metrics) *KafkaTicksHandler {
	return &KafkaTicksHandler{topic: topic, store: store, metrics: metrics}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

// Handle accepts one tick per message, as published by KafkaTickPublisher.
func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	var t models.Tick
	if err := json.Unmarshal(b, &t); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode tick: %w", err)
	}
	if t.InstrumentToken == 0 || t.Time.IsZero() {
		h.metrics.RecordError("consumer_invalid")
		return fmt.Errorf("invalid tick: token=%d time=%s", t.InstrumentToken, t.Time)
	}
	t.Time = t.Time.UTC()
	h.metrics.RecordLatency("ingest_e2e", time.Since(t.Time).Seconds())

	start := time.Now()
	if err := h.store.BulkWriteTicks(ctx, []models.Tick{t}); err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordLatency("consumer_store", time.Since(start).Seconds())
	if began, ok := pkgkafka.StartTime(ctx); ok {
		h.metrics.RecordLatency("consumer_handle", time.Since(began).Seconds())
	}
	h.metrics.RecordTicksFlushed(BackendClickHouse, 1)
	return nil
}
