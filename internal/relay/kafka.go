package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	kafka "github.com/segmentio/kafka-go"
)

// KafkaBroker fans frames out through a single topic. Every node reads with
// its own consumer group so each one sees every frame. Frames are keyed by
// channel, which keeps a room's events on one partition.
type KafkaBroker struct {
	reader *kafka.Reader
	writer *kafka.Writer
	log    *slog.Logger
}

func NewKafkaBroker(brokers []string, topic string) *KafkaBroker {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     "relay-" + uuid.NewString(),
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		StartOffset: kafka.LastOffset,
	})
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              1,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaBroker{reader: reader, writer: writer, log: slog.Default().With("broker", "kafka")}
}

func (b *KafkaBroker) Publish(ctx context.Context, f *Frame) error {
	value, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	if err := b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(f.Channel),
		Value: value,
	}); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

func (b *KafkaBroker) Consume(ctx context.Context, fn func(*Frame)) error {
	for {
		msg, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read kafka message: %w", err)
		}
		f, err := DecodeFrame(msg.Value)
		if err != nil {
			b.log.Warn("skipping malformed frame", "offset", msg.Offset, "error", err)
			continue
		}
		fn(f)
	}
}

func (b *KafkaBroker) Close() error {
	return errors.Join(b.reader.Close(), b.writer.Close())
}
