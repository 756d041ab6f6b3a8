package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-coordinator/internal/models"
)

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes driver location reports keyed by driver id, so one
// driver's updates land on one partition in order. The writer runs in async
// mode; delivery errors surface through the completion callback.
type KafkaProducer struct {
	writer messageWriter
	logger *slog.Logger
}

func NewKafkaProducer(brokers []string, topic string, logger *slog.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka publish failed", "messages", len(msgs), "error", err)
			}
		},
	}
	return &KafkaProducer{writer: w, logger: logger}
}

// LocationReported implements coordinator.LocationObserver. Rider positions
// stay local.
func (k *KafkaProducer) LocationReported(rec models.LocationRecord) {
	if rec.Role != models.RoleDriver {
		return
	}
	b, err := EncodeLocation(rec)
	if err != nil {
		k.logger.Error("encode location", "actor_id", rec.ActorID, "error", err)
		return
	}
	if err := k.writer.WriteMessages(context.Background(), kafka.Message{Key: []byte(rec.ActorID), Value: b}); err != nil {
		k.logger.Warn("kafka enqueue failed", "actor_id", rec.ActorID, "error", err)
	}
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
