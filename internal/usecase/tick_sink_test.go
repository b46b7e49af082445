package usecase

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
	"TickVault/pkg/metrics"
)

type recordingPublisher struct {
	published []models.Tick
	err       error
}

func (p *recordingPublisher) PublishTicks(_ context.Context, ticks []models.Tick) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, ticks...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestNewTickSinkValidatesBackend(t *testing.T) {
	_, err := NewTickSink("parquet", newMemStore(), nil, metrics.Nop{})
	assert.Error(t, err)
	_, err = NewTickSink(BackendKafka, newMemStore(), nil, metrics.Nop{})
	assert.Error(t, err)
	_, err = NewTickSink(BackendClickHouse, nil, nil, metrics.Nop{})
	assert.Error(t, err)
}

func TestTickSinkRoutesByBackend(t *testing.T) {
	ctx := context.Background()
	batch := []models.Tick{liveTick(0), liveTick(1)}

	store := newMemStore()
	ch, err := NewTickSink(BackendClickHouse, store, nil, metrics.Nop{})
	require.NoError(t, err)
	require.NoError(t, ch.WriteBatch(ctx, batch))
	assert.Len(t, store.ticks, 2)

	pub := &recordingPublisher{}
	kf, err := NewTickSink(BackendKafka, store, pub, metrics.Nop{})
	require.NoError(t, err)
	require.NoError(t, kf.WriteBatch(ctx, batch))
	assert.Equal(t, batch, pub.published)
	assert.Equal(t, 1, store.writes)
}

func TestTickSinkWrapsErrors(t *testing.T) {
	store := newMemStore()
	store.writeErr = drepo.ErrStoreUnavailable
	s, err := NewTickSink(BackendClickHouse, store, nil, metrics.Nop{})
	require.NoError(t, err)
	assert.ErrorIs(t, s.WriteBatch(context.Background(), []models.Tick{liveTick(0)}), drepo.ErrStoreUnavailable)
	assert.NoError(t, s.WriteBatch(context.Background(), nil))
}

func TestKafkaTicksHandler(t *testing.T) {
	store := newMemStore()
	h := NewKafkaTicksHandler("tickvault.ticks", store, metrics.Nop{})
	assert.Equal(t, "tickvault.ticks", h.Topic())

	b, err := json.Marshal(liveTick(3))
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), b))
	require.Len(t, store.ticks, 1)

	assert.Error(t, h.Handle(context.Background(), []byte("{")))
	assert.Error(t, h.Handle(context.Background(), []byte(`{"ltp": 1}`)))

	store.writeErr = drepo.ErrStoreUnavailable
	assert.ErrorIs(t, h.Handle(context.Background(), b), drepo.ErrStoreUnavailable)
}
