package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AsafMeizner/reels-battle/internal/dns"
)

// Client is a websocket connection to a relay server.
type Client struct {
	ws       *websocket.Conn
	outgoing chan []byte
	done     chan struct{}
	log      *slog.Logger

	closeOnce sync.Once

	mu   sync.Mutex
	subs map[string]*clientSub
}

// Dial connects to the relay at rawURL.
func Dial(ctx context.Context, rawURL string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}

	// Resolve through our DNS fallback
	resolver := &dns.Resolver{}
	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = resolver.DialContext

	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		ws:       ws,
		outgoing: make(chan []byte, 64),
		done:     make(chan struct{}),
		log:      slog.Default().With("relay", u.Host),
		subs:     make(map[string]*clientSub),
	}

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

// Subscribe joins channel for the given events. Only one subscription per
// channel is kept; subscribing again replaces it.
func (c *Client) Subscribe(ctx context.Context, channel string, events []string) (Subscription, error) {
	if channel == "" {
		return nil, ErrBadRequest
	}
	sub := &clientSub{
		client:     c,
		channel:    channel,
		ready:      make(chan string, 1),
		deliveries: make(chan Delivery, 64),
		closed:     make(chan struct{}),
	}

	c.mu.Lock()
	if old, ok := c.subs[channel]; ok {
		old.stop()
	}
	c.subs[channel] = sub
	c.mu.Unlock()

	if err := c.send(ctx, &Frame{Kind: KindSubscribe, Channel: channel, Events: events}); err != nil {
		c.mu.Lock()
		if c.subs[channel] == sub {
			delete(c.subs, channel)
		}
		c.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

// Publish sends an event to every subscriber of channel.
func (c *Client) Publish(ctx context.Context, channel, event string, data []byte) error {
	if channel == "" || event == "" {
		return ErrBadRequest
	}
	return c.send(ctx, &Frame{
		Kind:    KindPublish,
		Channel: channel,
		Event:   event,
		Data:    data,
		ID:      uuid.NewString(),
	})
}

func (c *Client) send(ctx context.Context, f *Frame) error {
	b, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- b:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection and ends every subscription.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		c.ws.Close()
		c.mu.Lock()
		for ch, sub := range c.subs {
			close(sub.deliveries)
			delete(c.subs, ch)
		}
		c.mu.Unlock()
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warn("relay connection lost", "error", err)
			}
			return
		}
		f, err := DecodeFrame(b)
		if err != nil {
			c.log.Warn("dropping malformed frame", "error", err)
			continue
		}

		c.mu.Lock()
		sub := c.subs[f.Channel]
		c.mu.Unlock()

		switch f.Kind {
		case KindSubscribed:
			if sub != nil {
				sub.confirm(f.SocketID)
			}
		case KindEvent:
			if sub != nil {
				sub.push(Delivery{Channel: f.Channel, Event: f.Event, Data: f.Data})
			}
		case KindError:
			c.log.Warn("relay error", "channel", f.Channel, "event", f.Event, "error", f.Error)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case b := <-c.outgoing:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

type clientSub struct {
	client     *Client
	channel    string
	ready      chan string
	deliveries chan Delivery
	closed     chan struct{}

	confirmOnce sync.Once
	stopOnce    sync.Once
}

func (s *clientSub) Ready() <-chan string        { return s.ready }
func (s *clientSub) Deliveries() <-chan Delivery { return s.deliveries }

func (s *clientSub) confirm(id string) {
	s.confirmOnce.Do(func() { s.ready <- id })
}

func (s *clientSub) push(d Delivery) {
	select {
	case s.deliveries <- d:
	case <-s.closed:
	case <-s.client.done:
	}
}

func (s *clientSub) stop() {
	s.stopOnce.Do(func() { close(s.closed) })
}

// Close stops receiving. The connection itself stays open.
func (s *clientSub) Close() error {
	s.stop()
	s.client.mu.Lock()
	if s.client.subs[s.channel] == s {
		delete(s.client.subs, s.channel)
	}
	s.client.mu.Unlock()
	return nil
}
