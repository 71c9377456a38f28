package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP with gathered candidates fits.
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// Conn is the hub's side of one websocket connection.
type Conn struct {
	hub  *Hub
	ws   *websocket.Conn
	id   string
	send chan []byte
	log  *slog.Logger
}

func newConn(hub *Hub, ws *websocket.Conn) *Conn {
	id := uuid.NewString()
	return &Conn{
		hub:  hub,
		ws:   ws,
		id:   id,
		send: make(chan []byte, sendBuffer),
		log:  hub.log.With("socket", id),
	}
}

// ID is the socket id handed to the client in the subscribed frame.
func (c *Conn) ID() string { return c.id }

func (c *Conn) remoteAddr() string {
	if c.ws == nil {
		return ""
	}
	return c.ws.RemoteAddr().String()
}

// ReadPump pumps frames from the websocket connection to the hub. There is
// at most one reader per connection.
func (c *Conn) ReadPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("read failed", "error", err)
			}
			return
		}

		f, err := DecodeFrame(b)
		if err != nil {
			c.reply(&Frame{Kind: KindError, Error: err.Error()})
			continue
		}

		switch f.Kind {
		case KindSubscribe:
			if f.Channel == "" {
				c.reply(&Frame{Kind: KindError, Error: "channel is required"})
				continue
			}
			select {
			case c.hub.subscribe <- subscription{conn: c, channel: f.Channel, events: f.Events}:
			case <-c.hub.done:
				return
			}

		case KindPublish:
			if err := c.hub.Publish(ctx, f.Channel, f.Event, f.Data); err != nil {
				c.log.Warn("publish failed", "channel", f.Channel, "event", f.Event, "error", err)
				c.reply(&Frame{Kind: KindError, Channel: f.Channel, Event: f.Event, ID: f.ID, Error: err.Error()})
			}

		default:
			c.reply(&Frame{Kind: KindError, Error: "unexpected frame kind " + f.Kind})
		}
	}
}

func (c *Conn) reply(f *Frame) {
	select {
	case c.hub.notify <- notice{conn: c, frame: f}:
	case <-c.hub.done:
	}
}

// WritePump pumps frames from the hub to the websocket connection and
// keeps it alive with pings. There is at most one writer per connection.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case b, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
				c.log.Warn("write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
