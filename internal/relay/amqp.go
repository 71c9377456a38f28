package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"
)

// AMQPBroker fans frames out through a fanout exchange. Each node consumes
// from its own exclusive queue bound to the exchange.
type AMQPBroker struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string
	log      *slog.Logger

	mu sync.Mutex
}

// DialAMQP connects to url and declares the exchange and this node's queue.
func DialAMQP(url, exchange string) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange, // name
		"fanout", // kind
		false,    // durable
		true,     // delete when unused
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bind queue %s: %w", q.Name, err)
	}

	return &AMQPBroker{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		queue:    q.Name,
		log:      slog.Default().With("broker", "amqp", "queue", q.Name),
	}, nil
}

func (b *AMQPBroker) Publish(_ context.Context, f *Frame) error {
	body, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch.Publish(
		b.exchange, // exchange name
		"",         // routing key, ignored by fanout
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType: "application/msgpack",
			MessageId:   f.ID,
			Body:        body,
		},
	)
}

func (b *AMQPBroker) Consume(ctx context.Context, fn func(*Frame)) error {
	msgs, err := b.ch.Consume(
		b.queue, // queue
		"",      // consumer
		true,    // auto-ack
		true,    // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", b.queue, err)
	}
	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				return ErrClosed
			}
			f, err := DecodeFrame(d.Body)
			if err != nil {
				b.log.Warn("skipping malformed frame", "message", d.MessageId, "error", err)
				continue
			}
			fn(f)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *AMQPBroker) Close() error {
	return errors.Join(b.ch.Close(), b.conn.Close())
}
