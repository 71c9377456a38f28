package relay

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame kinds.
const (
	KindSubscribe  = "subscribe"
	KindSubscribed = "subscribed"
	KindPublish    = "publish"
	KindEvent      = "event"
	KindError      = "error"
)

// Frame is the unit exchanged on the relay websocket and through brokers.
type Frame struct {
	Kind     string   `msgpack:"kind"`
	Channel  string   `msgpack:"channel,omitempty"`
	Event    string   `msgpack:"event,omitempty"`
	Events   []string `msgpack:"events,omitempty"`
	Data     []byte   `msgpack:"data,omitempty"`
	SocketID string   `msgpack:"socketId,omitempty"`
	ID       string   `msgpack:"id,omitempty"`
	Error    string   `msgpack:"error,omitempty"`
}

// EncodeFrame serializes f with msgpack.
func EncodeFrame(f *Frame) ([]byte, error) {
	b, err := msgpack.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Kind, err)
	}
	return b, nil
}

// DecodeFrame parses a msgpack frame.
func DecodeFrame(b []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Kind == "" {
		return nil, fmt.Errorf("decode frame: missing kind")
	}
	return &f, nil
}
