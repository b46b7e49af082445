package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
	applogger "TickVault/pkg/logger"
)

// BatchWriter persists a batch of ticks atomically from the buffer's view:
// on error nothing is assumed written.
type BatchWriter interface {
	WriteBatch(ctx context.Context, ticks []models.Tick) error
}

type TickBufferConfig struct {
	Threshold     int
	FlushInterval time.Duration
	// MaxBuffered bounds memory while the backend is down; 0 is unbounded.
	MaxBuffered int
}

// TickBuffer batches ticks and flushes when Threshold is reached or on the
// Run ticker. A failed flush keeps the ticks for the next attempt.
type TickBuffer struct {
	cfg     TickBufferConfig
	w       BatchWriter
	metrics drepo.Metrics
	l       *applogger.Logger

	mu      sync.Mutex
	pending []models.Tick

	// flushMu serializes flushes so batches leave in arrival order.
	flushMu sync.Mutex
}

func NewTickBuffer(cfg TickBufferConfig, w BatchWriter, metrics drepo.Metrics, l *applogger.Logger) *TickBuffer {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	return &TickBuffer{
		cfg:     cfg,
		w:       w,
		metrics: metrics,
		l:       l.Component("tick_buffer"),
		pending: make([]models.Tick, 0, cfg.Threshold),
	}
}

// Ingest appends t and flushes synchronously when the threshold is hit. A
// failed flush is logged and the ticks wait for the next attempt, so only
// ErrBufferFull means t was dropped.
func (b *TickBuffer) Ingest(ctx context.Context, t models.Tick) error {
	t.Time = t.Time.UTC()

	b.mu.Lock()
	if b.cfg.MaxBuffered > 0 && len(b.pending) >= b.cfg.MaxBuffered {
		b.mu.Unlock()
		b.metrics.RecordError("buffer_full")
		return drepo.ErrBufferFull
	}
	b.pending = append(b.pending, t)
	n := len(b.pending)
	b.mu.Unlock()
	b.metrics.SetBufferDepth(n)

	if n >= b.cfg.Threshold {
		if err := b.Flush(ctx); err != nil {
			b.metrics.RecordError("flush")
			b.l.Warn("threshold flush failed, ticks kept", applogger.Int("pending", b.Len()), applogger.Error(err))
		}
	}
	return nil
}

// Flush writes everything currently buffered. Ticks that arrive during the
// write stay queued behind the batch.
func (b *TickBuffer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := make([]models.Tick, len(b.pending))
	copy(batch, b.pending)
	b.mu.Unlock()

	if err := b.w.WriteBatch(ctx, batch); err != nil {
		return fmt.Errorf("flush %d ticks: %w", len(batch), err)
	}

	b.mu.Lock()
	b.pending = append(b.pending[:0], b.pending[len(batch):]...)
	n := len(b.pending)
	b.mu.Unlock()
	b.metrics.SetBufferDepth(n)
	return nil
}

func (b *TickBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Run flushes every FlushInterval until ctx ends, then flushes once more
// with a fresh deadline.
func (b *TickBuffer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := b.Flush(fctx); err != nil {
				b.l.Error("final flush failed", applogger.Int("pending", b.Len()), applogger.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := b.Flush(ctx); err != nil {
				b.l.Warn("periodic flush failed", applogger.Int("pending", b.Len()), applogger.Error(err))
			}
		}
	}
}
