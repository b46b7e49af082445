package repository

import (
	"context"
	"strconv"

	"TickVault/internal/domain/models"
	domrepo "TickVault/internal/domain/repository"
	pkgkafka "TickVault/pkg/kafka"
)

type batchProducer interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaTickPublisher sends ticks keyed by instrument token, so one
// instrument always lands on one partition in time order.
type KafkaTickPublisher struct {
	producer batchProducer
	topic    string
}

var _ domrepo.TickPublisher = (*KafkaTickPublisher)(nil)

func NewKafkaTickPublisher(producer *pkgkafka.Producer, topic string) *KafkaTickPublisher {
	return &KafkaTickPublisher{producer: producer, topic: topic}
}

func (p *KafkaTickPublisher) PublishTicks(ctx context.Context, ticks []models.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(ticks))
	for i, t := range ticks {
		msgs[i] = pkgkafka.Message{
			Key:   []byte(strconv.FormatInt(t.InstrumentToken, 10)),
			Value: t,
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaTickPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
