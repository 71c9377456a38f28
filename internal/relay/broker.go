package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/AsafMeizner/reels-battle/internal/config"
)

// Broker carries published events to every relay node, this one included.
type Broker interface {
	Publish(ctx context.Context, f *Frame) error
	// Consume calls fn for every frame until ctx is done or the broker closes.
	Consume(ctx context.Context, fn func(*Frame)) error
	Close() error
}

// NewBroker builds the broker selected by cfg.
func NewBroker(cfg *config.Config) (Broker, error) {
	switch cfg.Broker {
	case config.BrokerMemory, "":
		return NewLocalBroker(), nil
	case config.BrokerAMQP:
		return DialAMQP(cfg.BrokerURL, cfg.BrokerTopic)
	case config.BrokerKafka:
		return NewKafkaBroker(strings.Split(cfg.BrokerURL, ","), cfg.BrokerTopic), nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}
}

// LocalBroker loops frames back to the same process. It serves a single node.
type LocalBroker struct {
	frames    chan *Frame
	closed    chan struct{}
	closeOnce sync.Once
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{
		frames: make(chan *Frame, 256),
		closed: make(chan struct{}),
	}
}

func (b *LocalBroker) Publish(ctx context.Context, f *Frame) error {
	select {
	case b.frames <- f:
		return nil
	case <-b.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *LocalBroker) Consume(ctx context.Context, fn func(*Frame)) error {
	for {
		select {
		case f := <-b.frames:
			fn(f)
		case <-b.closed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *LocalBroker) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}
