package relay

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
)

type subscription struct {
	conn    *Conn
	channel string
	events  []string
}

type notice struct {
	conn  *Conn
	frame *Frame
}

// Hub fans events out to the connections subscribed to their channel.
// All subscription state is owned by the goroutine running Run.
type Hub struct {
	// channels maps a channel to its subscribers and their event filters.
	// An empty filter receives every event.
	channels map[string]map[*Conn][]string
	conns    map[*Conn]bool

	register   chan *Conn
	unregister chan *Conn
	subscribe  chan subscription
	notify     chan notice
	deliver    chan *Frame
	done       chan struct{}

	broker  Broker
	metrics *Metrics
	log     *slog.Logger
}

// NewHub creates a hub publishing through broker.
func NewHub(broker Broker, metrics *Metrics) *Hub {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Hub{
		channels:   make(map[string]map[*Conn][]string),
		conns:      make(map[*Conn]bool),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		subscribe:  make(chan subscription),
		notify:     make(chan notice),
		deliver:    make(chan *Frame, 256),
		done:       make(chan struct{}),
		broker:     broker,
		metrics:    metrics,
		log:        slog.Default().With("component", "hub"),
	}
}

// Publish hands an event to the broker. Every hub consuming from the same
// broker delivers it to its local subscribers, the publisher's own included.
func (h *Hub) Publish(ctx context.Context, channel, event string, data []byte) error {
	if channel == "" || event == "" {
		return ErrBadRequest
	}
	f := &Frame{
		Kind:    KindEvent,
		Channel: channel,
		Event:   event,
		Data:    data,
		ID:      uuid.NewString(),
	}
	if err := h.broker.Publish(ctx, f); err != nil {
		return fmt.Errorf("publish %s on %s: %w", event, channel, err)
	}
	h.metrics.Published.WithLabelValues(event).Inc()
	return nil
}

// Run consumes the broker and serves hub requests until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	go func() {
		err := h.broker.Consume(ctx, func(f *Frame) {
			select {
			case h.deliver <- f:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			h.log.Error("broker consume stopped", "error", err)
		}
	}()

	for {
		select {
		case c := <-h.register:
			h.conns[c] = true
			h.metrics.Connections.Inc()
			h.log.Info("client registered", "socket", c.id, "remote", c.remoteAddr())

		case c := <-h.unregister:
			if h.conns[c] {
				h.drop(c)
				h.log.Info("client unregistered", "socket", c.id)
			}

		case s := <-h.subscribe:
			if !h.conns[s.conn] {
				continue
			}
			subs, ok := h.channels[s.channel]
			if !ok {
				subs = make(map[*Conn][]string)
				h.channels[s.channel] = subs
			}
			if _, already := subs[s.conn]; !already {
				h.metrics.Subscriptions.Inc()
			}
			subs[s.conn] = s.events
			h.log.Debug("subscribed", "socket", s.conn.id, "channel", s.channel, "events", s.events)
			h.queue(s.conn, &Frame{Kind: KindSubscribed, Channel: s.channel, SocketID: s.conn.id})

		case n := <-h.notify:
			if h.conns[n.conn] {
				h.queue(n.conn, n.frame)
			}

		case f := <-h.deliver:
			h.fanOut(f)

		case <-ctx.Done():
			for c := range h.conns {
				h.drop(c)
			}
			return
		}
	}
}

func (h *Hub) fanOut(f *Frame) {
	subs := h.channels[f.Channel]
	if len(subs) == 0 {
		return
	}
	b, err := EncodeFrame(f)
	if err != nil {
		h.log.Error("encode event", "channel", f.Channel, "event", f.Event, "error", err)
		return
	}
	for c, events := range subs {
		if len(events) > 0 && !slices.Contains(events, f.Event) {
			continue
		}
		select {
		case c.send <- b:
			h.metrics.Delivered.Inc()
		default:
			h.log.Warn("send buffer full, dropping client", "socket", c.id)
			h.metrics.Dropped.Inc()
			h.drop(c)
		}
	}
}

// queue sends a control frame without blocking the loop.
func (h *Hub) queue(c *Conn, f *Frame) {
	b, err := EncodeFrame(f)
	if err != nil {
		h.log.Error("encode frame", "kind", f.Kind, "error", err)
		return
	}
	select {
	case c.send <- b:
	default:
		h.log.Warn("send buffer full, dropping client", "socket", c.id)
		h.metrics.Dropped.Inc()
		h.drop(c)
	}
}

func (h *Hub) drop(c *Conn) {
	for name, subs := range h.channels {
		if _, ok := subs[c]; ok {
			delete(subs, c)
			h.metrics.Subscriptions.Dec()
		}
		if len(subs) == 0 {
			delete(h.channels, name)
		}
	}
	delete(h.conns, c)
	h.metrics.Connections.Dec()
	close(c.send)
}
