package peer

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/AsafMeizner/reels-battle/internal/protocol"
)

const negotiateTimeout = 15 * time.Second

// State is the negotiation state of a link.
type State int

const (
	StateIdle State = iota
	StateOffering
	StateOfferedLocal
	StateOfferedRemote
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateOfferedLocal:
		return "offered-local"
	case StateOfferedRemote:
		return "offered-remote"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Link is the connection to one remote participant.
type Link struct {
	RemoteID string
	LocalID  string
	Round    string

	state     State
	transport ConnState
	conn      Conn
	stream    Stream
	pending   []protocol.ICECandidate

	// Local candidates wait in outbox until the description they belong
	// to has been handed out.
	described bool
	outbox    []protocol.ICECandidate
}

// State returns the negotiation state.
func (l *Link) State() State { return l.state }

// Stream returns the first inbound stream, or nil.
func (l *Link) Stream() Stream { return l.stream }

// LinkInfo is a read-only copy of a link for display.
type LinkInfo struct {
	RemoteID  string
	Round     string
	State     State
	Transport ConnState
	HasStream bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithPost routes connection callbacks through post, which must run the
// function on the goroutine that owns the Manager. Offers and answers are
// then negotiated on their own goroutine and their results posted back.
// Without it, negotiation runs inline.
func WithPost(post func(func())) Option {
	return func(m *Manager) {
		m.post = post
		m.spawn = func(fn func()) { go fn() }
	}
}

// WithDescriptionSink receives every committed offer and answer, ready to publish.
func WithDescriptionSink(fn func(protocol.Event)) Option {
	return func(m *Manager) { m.onDescription = fn }
}

// WithCandidateSink receives every locally gathered candidate, ready to publish.
func WithCandidateSink(fn func(protocol.Candidate)) Option {
	return func(m *Manager) { m.onCandidate = fn }
}

// WithStreamSink is told when a remote participant's first stream arrives.
func WithStreamSink(fn func(remoteID string, s Stream)) Option {
	return func(m *Manager) { m.onStream = fn }
}

// WithFailureSink is told when a link's transport fails.
func WithFailureSink(fn func(remoteID string, err error)) Option {
	return func(m *Manager) { m.onFailure = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// Manager owns the table of links, keyed by remote participant id.
//
// A Manager is not safe for concurrent use. Callbacks from connections are
// handed to the post function so they run on the owning goroutine.
type Manager struct {
	dialer Dialer
	links  map[string]*Link

	post          func(func())
	spawn         func(func())
	onDescription func(protocol.Event)
	onCandidate   func(protocol.Candidate)
	onStream      func(string, Stream)
	onFailure     func(string, error)
	log           *slog.Logger
}

func NewManager(d Dialer, opts ...Option) *Manager {
	m := &Manager{
		dialer:        d,
		links:         make(map[string]*Link),
		post:          func(fn func()) { fn() },
		spawn:         func(fn func()) { fn() },
		onDescription: func(protocol.Event) {},
		onCandidate:   func(protocol.Candidate) {},
		onStream:      func(string, Stream) {},
		onFailure:     func(string, error) {},
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Offer opens a link to remote and attaches tracks. The offer itself is
// created in the background and handed to the description sink.
func (m *Manager) Offer(ctx context.Context, round, local, remote string, tracks []Track) error {
	const op = "offer"
	if err := m.replace(op, round, remote); err != nil {
		return err
	}

	link, err := m.open(ctx, op, round, local, remote)
	if err != nil {
		return err
	}
	link.state = StateOffering

	for _, t := range tracks {
		if err := link.conn.AddTrack(t); err != nil {
			m.discard(link)
			return newError("add track", remote, err)
		}
	}

	m.negotiate(ctx, link, StateOffering, func(ctx context.Context) (protocol.SessionDescription, error) {
		desc, err := link.conn.CreateOffer(ctx)
		if err != nil {
			return desc, newError("create offer", remote, err)
		}
		return desc, nil
	}, func(desc protocol.SessionDescription) {
		link.state = StateOfferedLocal
		m.log.Debug("offer created", "peer", remote, "round", round, "tracks", len(tracks))
		m.onDescription(protocol.Offer{To: remote, From: local, SDP: desc, Round: round})
	})
	return nil
}

// Accept applies an offer addressed to the local participant. The answer is
// created in the background and handed to the description sink.
func (m *Manager) Accept(ctx context.Context, offer protocol.Offer) error {
	const op = "accept offer"
	remote := offer.From
	if err := m.replace(op, offer.Round, remote); err != nil {
		return err
	}

	link, err := m.open(ctx, op, offer.Round, offer.To, remote)
	if err != nil {
		return err
	}
	link.state = StateOfferedRemote

	if err := link.conn.SetRemoteDescription(offer.SDP); err != nil {
		m.discard(link)
		return newError("set remote description", remote, err)
	}

	m.negotiate(ctx, link, StateOfferedRemote, func(ctx context.Context) (protocol.SessionDescription, error) {
		desc, err := link.conn.CreateAnswer(ctx)
		if err != nil {
			return desc, newError("create answer", remote, err)
		}
		return desc, nil
	}, func(desc protocol.SessionDescription) {
		link.state = StateConnected
		m.log.Debug("offer accepted", "peer", remote, "round", offer.Round)
		m.onDescription(protocol.Answer{To: remote, From: offer.To, SDP: desc})
	})
	return nil
}

// negotiate creates and commits the local description off the owning
// goroutine, then applies done on it. The result is dropped if the link was
// replaced or closed in the meantime.
func (m *Manager) negotiate(ctx context.Context, link *Link, from State,
	create func(context.Context) (protocol.SessionDescription, error),
	done func(protocol.SessionDescription),
) {
	remote := link.RemoteID
	m.spawn(func() {
		ctx, cancel := context.WithTimeout(ctx, negotiateTimeout)
		defer cancel()

		desc, err := create(ctx)
		if err == nil {
			if e := link.conn.SetLocalDescription(ctx, desc); e != nil {
				err = newError("set local description", remote, e)
			} else {
				desc = link.conn.LocalDescription()
			}
		}

		m.post(func() {
			if m.links[remote] != link || link.state != from {
				return
			}
			if err != nil {
				m.discard(link)
				m.log.Error("negotiation failed", "peer", remote, "error", err)
				m.onFailure(remote, err)
				return
			}
			done(desc)
			link.described = true
			for _, c := range link.outbox {
				m.onCandidate(protocol.Candidate{To: remote, From: link.LocalID, Candidate: c})
			}
			link.outbox = nil
		})
	})
}

// ApplyAnswer completes a link this side offered.
func (m *Manager) ApplyAnswer(answer protocol.Answer) error {
	const op = "apply answer"
	link, ok := m.links[answer.From]
	if !ok {
		return newError(op, answer.From, ErrNoLink)
	}
	if link.state != StateOfferedLocal {
		return newError(op, answer.From, fmt.Errorf("%w: %s", ErrUnexpectedState, link.state))
	}
	if err := link.conn.SetRemoteDescription(answer.SDP); err != nil {
		return newError("set remote description", answer.From, err)
	}
	link.state = StateConnected

	for _, c := range link.pending {
		if err := link.conn.AddICECandidate(c); err != nil {
			m.log.Warn("buffered candidate rejected", "peer", answer.From, "error", err)
		}
	}
	link.pending = nil
	return nil
}

// AddCandidate adds a remote candidate to the link it was sent on.
func (m *Manager) AddCandidate(c protocol.Candidate) error {
	const op = "add candidate"
	link, ok := m.links[c.From]
	if !ok {
		return newError(op, c.From, ErrNoLink)
	}
	// The remote side may trickle before its answer reaches us.
	if link.state == StateOffering || link.state == StateOfferedLocal {
		link.pending = append(link.pending, c.Candidate)
		return nil
	}
	if err := link.conn.AddICECandidate(c.Candidate); err != nil {
		return newError(op, c.From, err)
	}
	return nil
}

// Close closes and forgets the link to remote. Closing an unknown id is a no-op.
func (m *Manager) Close(remote string) error {
	link, ok := m.links[remote]
	if !ok {
		return nil
	}
	return m.discard(link)
}

// CloseAll closes every link.
func (m *Manager) CloseAll() {
	for _, link := range m.links {
		if err := m.discard(link); err != nil {
			m.log.Warn("close link", "peer", link.RemoteID, "error", err)
		}
	}
}

// CloseRound closes every link that does not belong to round keep.
func (m *Manager) CloseRound(keep string) {
	for _, link := range m.links {
		if link.Round == keep {
			continue
		}
		if err := m.discard(link); err != nil {
			m.log.Warn("close link", "peer", link.RemoteID, "error", err)
		}
	}
}

// Link returns the live link to remote.
func (m *Manager) Link(remote string) (*Link, bool) {
	l, ok := m.links[remote]
	return l, ok
}

// Links returns the live links ordered by remote id.
func (m *Manager) Links() []LinkInfo {
	out := make([]LinkInfo, 0, len(m.links))
	for _, id := range slices.Sorted(maps.Keys(m.links)) {
		l := m.links[id]
		out = append(out, LinkInfo{
			RemoteID:  l.RemoteID,
			Round:     l.Round,
			State:     l.state,
			Transport: l.transport,
			HasStream: l.stream != nil,
		})
	}
	return out
}

// Streams returns the inbound stream of every link that has one.
func (m *Manager) Streams() map[string]Stream {
	out := make(map[string]Stream)
	for id, l := range m.links {
		if l.stream != nil {
			out[id] = l.stream
		}
	}
	return out
}

// replace enforces one link per remote: a link left from another round is
// closed, a link of the same round is an error.
func (m *Manager) replace(op, round, remote string) error {
	if remote == "" {
		return newError(op, remote, fmt.Errorf("%w: empty remote id", ErrPrecondition))
	}
	old, ok := m.links[remote]
	if !ok {
		return nil
	}
	if old.Round == round {
		return newError(op, remote, ErrLinkExists)
	}
	m.log.Debug("replacing link from previous round", "peer", remote, "old_round", old.Round, "round", round)
	return m.discard(old)
}

func (m *Manager) open(ctx context.Context, op, round, local, remote string) (*Link, error) {
	conn, err := m.dialer.Dial(ctx, remote)
	if err != nil {
		return nil, newError(op, remote, err)
	}
	link := &Link{
		RemoteID: remote,
		LocalID:  local,
		Round:    round,
		state:    StateIdle,
		conn:     conn,
	}
	m.links[remote] = link
	m.watch(link)
	return link, nil
}

// watch wires connection callbacks. Every callback re-checks that the link
// is still the current one, since a replaced link may keep firing.
func (m *Manager) watch(link *Link) {
	remote := link.RemoteID

	link.conn.OnICECandidate(func(c protocol.ICECandidate) {
		m.post(func() {
			if m.links[remote] != link {
				return
			}
			if !link.described {
				link.outbox = append(link.outbox, c)
				return
			}
			m.onCandidate(protocol.Candidate{To: remote, From: link.LocalID, Candidate: c})
		})
	})

	link.conn.OnTrack(func(s Stream) {
		m.post(func() {
			if m.links[remote] != link || link.stream != nil {
				return
			}
			link.stream = s
			m.log.Info("stream received", "peer", remote, "stream", s.StreamID())
			m.onStream(remote, s)
		})
	})

	link.conn.OnConnectionStateChange(func(st ConnState) {
		m.post(func() {
			if m.links[remote] != link {
				return
			}
			link.transport = st
			m.log.Debug("transport state", "peer", remote, "state", st)
			if st == ConnStateFailed {
				m.log.Error("peer transport failed", "peer", remote)
				m.onFailure(remote, newError("transport", remote, ErrTransportFailed))
			}
		})
	})
}

func (m *Manager) discard(link *Link) error {
	if m.links[link.RemoteID] == link {
		delete(m.links, link.RemoteID)
	}
	link.state = StateClosed
	link.pending = nil
	link.outbox = nil
	if err := link.conn.Close(); err != nil {
		return newError("close", link.RemoteID, err)
	}
	return nil
}
