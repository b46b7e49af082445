package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TickVault/internal/domain/models"
	pkgkafka "TickVault/pkg/kafka"
)

type recordingProducer struct {
	topic string
	msgs  []pkgkafka.Message
}

func (r *recordingProducer) PublishBatch(_ context.Context, topic string, messages []pkgkafka.Message) error {
	r.topic = topic
	r.msgs = append(r.msgs, messages...)
	return nil
}

func (r *recordingProducer) Close() error { return nil }

func TestKafkaTickPublisherKeysByToken(t *testing.T) {
	prod := &recordingProducer{}
	pub := &KafkaTickPublisher{producer: prod, topic: "tickvault.ticks"}
	ts := time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC)

	err := pub.PublishTicks(context.Background(), []models.Tick{
		{Time: ts, InstrumentToken: 256265, LTP: 1},
		{Time: ts, InstrumentToken: 738561, LTP: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "tickvault.ticks", prod.topic)
	require.Len(t, prod.msgs, 2)
	assert.Equal(t, "256265", string(prod.msgs[0].Key))
	assert.Equal(t, "738561", string(prod.msgs[1].Key))
	assert.Equal(t, int64(738561), prod.msgs[1].Value.(models.Tick).InstrumentToken)
}

func TestKafkaTickPublisherEmptyBatch(t *testing.T) {
	prod := &recordingProducer{}
	pub := &KafkaTickPublisher{producer: prod, topic: "t"}
	require.NoError(t, pub.PublishTicks(context.Background(), nil))
	assert.Empty(t, prod.msgs)
}
