// Package peertest provides in-memory peer connections for tests.
package peertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AsafMeizner/reels-battle/internal/peer"
	"github.com/AsafMeizner/reels-battle/internal/protocol"
)

var ErrNoRemoteDescription = errors.New("remote description not set")

// Track is a fake local or remote media track.
type Track struct {
	TrackID string
	Stream  string
}

func (t Track) ID() string       { return t.TrackID }
func (t Track) StreamID() string { return t.Stream }

// Dialer hands out fake connections and remembers them by remote id.
type Dialer struct {
	// AutoTrack makes a connection emit a track as soon as it receives an offer.
	AutoTrack bool
	// Err is returned by Dial when set.
	Err error
	// Hold, when set, keeps SetLocalDescription waiting until it is closed
	// or the call's context ends.
	Hold chan struct{}

	mu    sync.Mutex
	conns map[string][]*Conn
}

func NewDialer() *Dialer {
	return &Dialer{conns: make(map[string][]*Conn)}
}

func (d *Dialer) Dial(_ context.Context, remoteID string) (peer.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	c := &Conn{RemoteID: remoteID, autoTrack: d.AutoTrack, hold: d.Hold, Fail: make(map[string]error)}
	d.conns[remoteID] = append(d.conns[remoteID], c)
	return c, nil
}

// Conn returns the latest connection dialed toward remoteID.
func (d *Dialer) Conn(remoteID string) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	cs := d.conns[remoteID]
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

// Conns returns every connection dialed toward remoteID.
func (d *Dialer) Conns(remoteID string) []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns[remoteID]...)
}

// Dialed returns how many connections were dialed in total.
func (d *Dialer) Dialed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, cs := range d.conns {
		n += len(cs)
	}
	return n
}

// Conn is a fake peer.Conn that records every call.
type Conn struct {
	RemoteID string
	// Fail maps a method name such as "CreateOffer" to the error it returns.
	Fail map[string]error

	mu          sync.Mutex
	autoTrack   bool
	hold        chan struct{}
	tracks      []peer.Track
	local       protocol.SessionDescription
	remote      protocol.SessionDescription
	candidates  []protocol.ICECandidate
	closed      bool
	onCandidate func(protocol.ICECandidate)
	onTrack     func(peer.Stream)
	onState     func(peer.ConnState)
}

func (c *Conn) fail(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Fail[method]
}

// SetFail makes method return err from now on.
func (c *Conn) SetFail(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Fail[method] = err
}

func (c *Conn) AddTrack(t peer.Track) error {
	if err := c.fail("AddTrack"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, t)
	return nil
}

func (c *Conn) CreateOffer(context.Context) (protocol.SessionDescription, error) {
	if err := c.fail("CreateOffer"); err != nil {
		return protocol.SessionDescription{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.SessionDescription{
		Type: protocol.SDPTypeOffer,
		SDP:  fmt.Sprintf("v=0 offer to %s with %d tracks", c.RemoteID, len(c.tracks)),
	}, nil
}

func (c *Conn) CreateAnswer(context.Context) (protocol.SessionDescription, error) {
	if err := c.fail("CreateAnswer"); err != nil {
		return protocol.SessionDescription{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote.Type != protocol.SDPTypeOffer {
		return protocol.SessionDescription{}, ErrNoRemoteDescription
	}
	return protocol.SessionDescription{
		Type: protocol.SDPTypeAnswer,
		SDP:  "v=0 answer to " + c.RemoteID,
	}, nil
}

func (c *Conn) SetLocalDescription(ctx context.Context, desc protocol.SessionDescription) error {
	if c.hold != nil {
		select {
		case <-c.hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := c.fail("SetLocalDescription"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = desc
	return nil
}

func (c *Conn) LocalDescription() protocol.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Conn) SetRemoteDescription(desc protocol.SessionDescription) error {
	if err := c.fail("SetRemoteDescription"); err != nil {
		return err
	}
	c.mu.Lock()
	c.remote = desc
	emit := c.autoTrack && desc.Type == protocol.SDPTypeOffer
	onTrack := c.onTrack
	c.mu.Unlock()

	if emit && onTrack != nil {
		onTrack(Track{TrackID: "video", Stream: "stream-" + c.RemoteID})
	}
	return nil
}

// RemoteDescription returns the last remote description applied.
func (c *Conn) RemoteDescription() protocol.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Conn) AddICECandidate(ic protocol.ICECandidate) error {
	if err := c.fail("AddICECandidate"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote.Type == "" {
		return ErrNoRemoteDescription
	}
	c.candidates = append(c.candidates, ic)
	return nil
}

// Candidates returns the remote candidates added so far.
func (c *Conn) Candidates() []protocol.ICECandidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.ICECandidate(nil), c.candidates...)
}

// Tracks returns the local tracks attached so far.
func (c *Conn) Tracks() []peer.Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]peer.Track(nil), c.tracks...)
}

func (c *Conn) OnICECandidate(fn func(protocol.ICECandidate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCandidate = fn
}

func (c *Conn) OnTrack(fn func(peer.Stream)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *Conn) OnConnectionStateChange(fn func(peer.ConnState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// EmitCandidate fires the candidate callback as if gathering found ic.
func (c *Conn) EmitCandidate(ic protocol.ICECandidate) {
	c.mu.Lock()
	fn := c.onCandidate
	c.mu.Unlock()
	if fn != nil {
		fn(ic)
	}
}

// EmitTrack fires the track callback.
func (c *Conn) EmitTrack(s peer.Stream) {
	c.mu.Lock()
	fn := c.onTrack
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// EmitState fires the connection state callback.
func (c *Conn) EmitState(st peer.ConnState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}
