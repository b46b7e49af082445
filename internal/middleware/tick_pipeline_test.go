package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TickVault/internal/domain/models"
	"TickVault/internal/usecase"
	"TickVault/pkg/logger"
	"TickVault/pkg/metrics"
)

type captureIngester struct {
	got []models.Tick
	err error
}

func (c *captureIngester) Ingest(_ context.Context, t models.Tick) error {
	if c.err != nil {
		return c.err
	}
	c.got = append(c.got, t)
	return nil
}

func tick(token int64, ltp float64) models.Tick {
	return models.Tick{Time: time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC), InstrumentToken: token, LTP: ltp, Volume: 10}
}

type failingWriter struct{}

func (failingWriter) WriteBatch(context.Context, []models.Tick) error {
	return errors.New("clickhouse down")
}

func TestTickPipelineCountsBufferedTickAsAccepted(t *testing.T) {
	buf := usecase.NewTickBuffer(usecase.TickBufferConfig{Threshold: 1}, failingWriter{}, metrics.Nop{}, logger.Nop())
	p := NewTickPipeline(buf, metrics.Nop{})

	require.NoError(t, p.Process(context.Background(), tick(256265, 100)))
	assert.Equal(t, 1, buf.Len())
	a, r, _ := p.Stats()
	assert.Equal(t, int64(1), a)
	assert.Zero(t, r)
}

func TestTickPipelineForwardsValidTicks(t *testing.T) {
	down := &captureIngester{}
	p := NewTickPipeline(down, metrics.Nop{})

	require.NoError(t, p.Process(context.Background(), tick(256265, 100)))
	require.Len(t, down.got, 1)
	assert.Equal(t, int64(256265), down.got[0].InstrumentToken)

	a, r, th := p.Stats()
	assert.Equal(t, int64(1), a)
	assert.Zero(t, r)
	assert.Zero(t, th)
}

func TestTickPipelineRejectsInvalid(t *testing.T) {
	down := &captureIngester{}
	p := NewTickPipeline(down, metrics.Nop{})

	cases := []models.Tick{
		tick(0, 100),
		tick(1, -1),
		{InstrumentToken: 1, LTP: 1},
	}
	for _, c := range cases {
		assert.Error(t, p.Process(context.Background(), c))
	}
	assert.Empty(t, down.got)
	_, r, _ := p.Stats()
	assert.Equal(t, int64(3), r)
}

func TestTickPipelineThrottlesPerInstrument(t *testing.T) {
	down := &captureIngester{}
	p := NewTickPipeline(down, metrics.Nop{}, WithMaxRPS(2))

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Process(context.Background(), tick(1, 100)))
	}
	require.NoError(t, p.Process(context.Background(), tick(2, 100)))

	// burst of 2 for token 1, token 2 has its own bucket
	assert.Len(t, down.got, 3)
	_, _, th := p.Stats()
	assert.Equal(t, int64(3), th)
}

func TestTickPipelineTransformIsRevalidated(t *testing.T) {
	down := &captureIngester{}
	p := NewTickPipeline(down, metrics.Nop{}, WithTransform(func(t models.Tick) models.Tick {
		t.LTP = t.LTP / 100
		return t
	}))
	require.NoError(t, p.Process(context.Background(), tick(1, 2500)))
	require.Len(t, down.got, 1)
	assert.InDelta(t, 25.0, down.got[0].LTP, 1e-9)

	bad := NewTickPipeline(down, metrics.Nop{}, WithTransform(func(t models.Tick) models.Tick {
		t.InstrumentToken = 0
		return t
	}))
	assert.Error(t, bad.Process(context.Background(), tick(1, 1)))
}

func TestTickPipelineWrapsDownstreamError(t *testing.T) {
	boom := errors.New("boom")
	p := NewTickPipeline(&captureIngester{err: boom}, metrics.Nop{})
	err := p.Process(context.Background(), tick(1, 1))
	assert.ErrorIs(t, err, boom)
}
