package peer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/AsafMeizner/reels-battle/internal/config"
	"github.com/AsafMeizner/reels-battle/internal/protocol"
)

// RTCPWriter sends RTCP feedback on a connection.
type RTCPWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// TrackHandler consumes an inbound track. It runs on its own goroutine and
// may block until the track ends.
type TrackHandler func(remoteID string, track *webrtc.TrackRemote, w RTCPWriter)

// PionDialer opens pion peer connections with the configured ICE servers.
type PionDialer struct {
	cfg     *config.Config
	onTrack TrackHandler
	log     *slog.Logger
}

// NewPionDialer returns a dialer. onTrack may be nil.
func NewPionDialer(cfg *config.Config, onTrack TrackHandler) *PionDialer {
	return &PionDialer{cfg: cfg, onTrack: onTrack, log: slog.Default()}
}

// Configuration builds the ICE configuration from cfg.
func Configuration(cfg *config.Config) webrtc.Configuration {
	iceServers := []webrtc.ICEServer{{URLs: cfg.GetSTUNServers()}}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if turnServers != nil && cfg.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

func (d *PionDialer) Dial(_ context.Context, remoteID string) (Conn, error) {
	pc, err := webrtc.NewPeerConnection(Configuration(d.cfg))
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return &pionConn{pc: pc, remoteID: remoteID, handler: d.onTrack, log: d.log.With("peer", remoteID)}, nil
}

type pionConn struct {
	pc       *webrtc.PeerConnection
	remoteID string
	handler  TrackHandler
	log      *slog.Logger
}

func (c *pionConn) AddTrack(t Track) error {
	local, ok := t.(webrtc.TrackLocal)
	if !ok {
		return fmt.Errorf("track %s is not a pion local track", t.ID())
	}
	sender, err := c.pc.AddTrack(local)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}

	// Read incoming RTCP so interceptors like NACK keep working.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *pionConn) CreateOffer(context.Context) (protocol.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	return fromPion(offer), nil
}

func (c *pionConn) CreateAnswer(context.Context) (protocol.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	return fromPion(answer), nil
}

// SetLocalDescription returns as soon as the description is applied.
// Gathered candidates trickle through OnICECandidate.
func (c *pionConn) SetLocalDescription(_ context.Context, desc protocol.SessionDescription) error {
	sd, err := toPion(desc)
	if err != nil {
		return err
	}
	if err := c.pc.SetLocalDescription(sd); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return nil
}

func (c *pionConn) LocalDescription() protocol.SessionDescription {
	if ld := c.pc.LocalDescription(); ld != nil {
		return fromPion(*ld)
	}
	return protocol.SessionDescription{}
}

func (c *pionConn) SetRemoteDescription(desc protocol.SessionDescription) error {
	sd, err := toPion(desc)
	if err != nil {
		return err
	}
	if err := c.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (c *pionConn) AddICECandidate(ic protocol.ICECandidate) error {
	if err := c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        ic.Candidate,
		SDPMid:           ic.SDPMid,
		SDPMLineIndex:    ic.SDPMLineIndex,
		UsernameFragment: ic.UsernameFragment,
	}); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

func (c *pionConn) OnICECandidate(fn func(protocol.ICECandidate)) {
	c.pc.OnICECandidate(func(ic *webrtc.ICECandidate) {
		if ic == nil {
			return
		}
		init := ic.ToJSON()
		fn(protocol.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

func (c *pionConn) OnTrack(fn func(Stream)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.log.Info("inbound track", "kind", track.Kind(), "codec", track.Codec().MimeType)
		fn(track)
		if c.handler != nil {
			c.handler(c.remoteID, track, c.pc)
		}
	})
}

func (c *pionConn) OnConnectionStateChange(fn func(ConnState)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(connState(s))
	})
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}

func connState(s webrtc.PeerConnectionState) ConnState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return ConnStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnStateFailed
	case webrtc.PeerConnectionStateClosed:
		return ConnStateClosed
	default:
		return ConnStateNew
	}
}

func toPion(desc protocol.SessionDescription) (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(desc.Type)
	if t != webrtc.SDPTypeOffer && t != webrtc.SDPTypeAnswer {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %q", ErrUnsupportedSDP, desc.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: desc.SDP}, nil
}

func fromPion(sd webrtc.SessionDescription) protocol.SessionDescription {
	return protocol.SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}
