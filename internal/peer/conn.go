// Package peer manages one media link per remote participant and drives the
// offer/answer/candidate handshake for each of them.
package peer

import (
	"context"

	"github.com/AsafMeizner/reels-battle/internal/protocol"
)

// Track is a local media track that can be attached to a connection.
type Track interface {
	ID() string
	StreamID() string
}

// Stream is the first inbound media track of a link.
type Stream interface {
	ID() string
	StreamID() string
}

// ConnState is the transport state reported by a connection.
type ConnState int

const (
	ConnStateNew ConnState = iota
	ConnStateConnecting
	ConnStateConnected
	ConnStateDisconnected
	ConnStateFailed
	ConnStateClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnStateNew:
		return "new"
	case ConnStateConnecting:
		return "connecting"
	case ConnStateConnected:
		return "connected"
	case ConnStateDisconnected:
		return "disconnected"
	case ConnStateFailed:
		return "failed"
	case ConnStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is a single peer media connection.
//
// Callbacks registered with the On* methods may fire on any goroutine.
type Conn interface {
	AddTrack(t Track) error
	CreateOffer(ctx context.Context) (protocol.SessionDescription, error)
	CreateAnswer(ctx context.Context) (protocol.SessionDescription, error)
	// SetLocalDescription commits desc and starts candidate gathering.
	// Candidates trickle out through OnICECandidate.
	SetLocalDescription(ctx context.Context, desc protocol.SessionDescription) error
	LocalDescription() protocol.SessionDescription
	SetRemoteDescription(desc protocol.SessionDescription) error
	AddICECandidate(c protocol.ICECandidate) error
	OnICECandidate(fn func(protocol.ICECandidate))
	OnTrack(fn func(Stream))
	OnConnectionStateChange(fn func(ConnState))
	Close() error
}

// Dialer creates connections toward a remote participant.
type Dialer interface {
	Dial(ctx context.Context, remoteID string) (Conn, error)
}
