package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
	"TickVault/pkg/logger"
	"TickVault/pkg/metrics"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]models.Tick
	err     error
}

func (b *batchRecorder) WriteBatch(_ context.Context, ticks []models.Tick) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.batches = append(b.batches, ticks)
	return nil
}

func (b *batchRecorder) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

func liveTick(i int) models.Tick {
	return models.Tick{Time: at(10, 0).Add(time.Duration(i) * time.Millisecond), InstrumentToken: 1, LTP: float64(100 + i), Volume: 1}
}

func TestTickBufferFlushesOnThreshold(t *testing.T) {
	w := &batchRecorder{}
	b := NewTickBuffer(TickBufferConfig{Threshold: 3}, w, metrics.Nop{}, logger.Nop())
	ctx := context.Background()

	require.NoError(t, b.Ingest(ctx, liveTick(0)))
	require.NoError(t, b.Ingest(ctx, liveTick(1)))
	assert.Zero(t, w.count())

	require.NoError(t, b.Ingest(ctx, liveTick(2)))
	require.Equal(t, 1, w.count())
	assert.Len(t, w.batches[0], 3)
	assert.Zero(t, b.Len())
}

func TestTickBufferKeepsTicksOnFailedFlush(t *testing.T) {
	w := &batchRecorder{err: errBoom}
	b := NewTickBuffer(TickBufferConfig{Threshold: 3}, w, metrics.Nop{}, logger.Nop())
	ctx := context.Background()

	require.NoError(t, b.Ingest(ctx, liveTick(0)))
	require.NoError(t, b.Ingest(ctx, liveTick(1)))
	require.NoError(t, b.Ingest(ctx, liveTick(2)))
	assert.Equal(t, 3, b.Len())
	assert.ErrorIs(t, b.Flush(ctx), errBoom)
	assert.Equal(t, 3, b.Len())

	w.mu.Lock()
	w.err = nil
	w.mu.Unlock()
	require.NoError(t, b.Flush(ctx))
	require.Equal(t, 1, w.count())
	assert.Equal(t, []models.Tick{liveTick(0), liveTick(1), liveTick(2)}, w.batches[0])
	assert.Zero(t, b.Len())
}

func TestTickBufferFlushEmptyIsNoop(t *testing.T) {
	w := &batchRecorder{}
	b := NewTickBuffer(TickBufferConfig{}, w, metrics.Nop{}, logger.Nop())
	require.NoError(t, b.Flush(context.Background()))
	assert.Zero(t, w.count())
}

func TestTickBufferRejectsPastCap(t *testing.T) {
	w := &batchRecorder{err: errBoom}
	b := NewTickBuffer(TickBufferConfig{Threshold: 10, MaxBuffered: 2}, w, metrics.Nop{}, logger.Nop())
	ctx := context.Background()

	require.NoError(t, b.Ingest(ctx, liveTick(0)))
	require.NoError(t, b.Ingest(ctx, liveTick(1)))
	assert.ErrorIs(t, b.Ingest(ctx, liveTick(2)), drepo.ErrBufferFull)
	assert.Equal(t, 2, b.Len())
}

func TestTickBufferNormalizesToUTC(t *testing.T) {
	w := &batchRecorder{}
	b := NewTickBuffer(TickBufferConfig{Threshold: 1}, w, metrics.Nop{}, logger.Nop())
	ist := time.FixedZone("IST", 19800)
	tk := liveTick(0)
	tk.Time = tk.Time.In(ist)

	require.NoError(t, b.Ingest(context.Background(), tk))
	require.Equal(t, 1, w.count())
	assert.Equal(t, time.UTC, w.batches[0][0].Time.Location())
}

func TestTickBufferRunFlushesPeriodicallyAndOnShutdown(t *testing.T) {
	w := &batchRecorder{}
	b := NewTickBuffer(TickBufferConfig{Threshold: 1000, FlushInterval: 10 * time.Millisecond}, w, metrics.Nop{}, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	require.NoError(t, b.Ingest(ctx, liveTick(0)))
	assert.Eventually(t, func() bool { return w.count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Ingest(ctx, liveTick(1)))
	cancel()
	<-done
	assert.Zero(t, b.Len())
	assert.GreaterOrEqual(t, w.count(), 2)
}
