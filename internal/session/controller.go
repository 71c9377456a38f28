// Package session holds the room state of one participant and turns user
// intents and relay events into relay publishes and peer link directives.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/pion/randutil"

	"github.com/AsafMeizner/reels-battle/internal/peer"
	"github.com/AsafMeizner/reels-battle/internal/protocol"
)

const sinkTimeout = 5 * time.Second

// Publisher sends an event to every subscriber of a room channel.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, data []byte) error
}

// Capturer acquires the local media to share.
type Capturer interface {
	Capture(ctx context.Context) ([]peer.Track, error)
}

// Rand drives the sharer shuffle. randutil.MathRandomGenerator and
// *math/rand.Rand both satisfy it.
type Rand interface {
	Intn(n int) int
}

type noCapture struct{}

func (noCapture) Capture(context.Context) ([]peer.Track, error) {
	return nil, fmt.Errorf("%w: no capture source", ErrCaptureDenied)
}

// Option configures a Controller.
type Option func(*Controller)

// WithPost is handed to the link manager; see peer.WithPost.
func WithPost(post func(func())) Option {
	return func(c *Controller) { c.post = post }
}

// WithCapturer sets the source of local media for StartShare.
func WithCapturer(cap Capturer) Option {
	return func(c *Controller) { c.capture = cap }
}

// WithRand replaces the random source of the sharer shuffle.
func WithRand(r Rand) Option {
	return func(c *Controller) { c.rand = r }
}

// WithRoundIDs replaces the round id generator.
func WithRoundIDs(next func() string) Option {
	return func(c *Controller) { c.newRoundID = next }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

type entry struct {
	role protocol.Role
	seq  uint64
}

// Controller is the room state machine of the local participant. It is the
// only component that publishes to the relay.
//
// A Controller is not safe for concurrent use; Session confines it to one
// goroutine.
type Controller struct {
	pub        Publisher
	links      *peer.Manager
	capture    Capturer
	rand       Rand
	newRoundID func() string
	post       func(func())
	baseLog    *slog.Logger
	log        *slog.Logger

	step     Step
	room     string
	localID  string
	role     protocol.Role
	deferred bool
	players  map[string]entry

	// seq survives Leave so a rejoin under the same id still wins the merge.
	seq uint64

	roundID     string
	sharers     []string
	tracks      []peer.Track
	sharedRound string
	sharing     bool
	tally       Tally

	lastErr error
}

// NewController builds a controller publishing through pub and opening
// links with dialer.
func NewController(pub Publisher, dialer peer.Dialer, opts ...Option) *Controller {
	c := &Controller{
		pub:        pub,
		capture:    noCapture{},
		rand:       randutil.NewMathRandomGenerator(),
		newRoundID: uuid.NewString,
		post:       func(fn func()) { fn() },
		log:        slog.Default(),
		players:    make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseLog = c.log.With("component", "session")
	c.log = c.baseLog
	c.links = peer.NewManager(dialer,
		peer.WithPost(c.post),
		peer.WithDescriptionSink(c.publishSignal),
		peer.WithCandidateSink(c.publishCandidate),
		peer.WithStreamSink(c.streamArrived),
		peer.WithFailureSink(c.linkFailed),
		peer.WithLogger(c.log),
	)
	return c
}

// Join enters the room with the given code and announces the local
// participant. The announcement waits for Ready if the id is not known yet.
func (c *Controller) Join(ctx context.Context, code string) error {
	const op = "join"
	if c.step != StepJoin {
		return c.fail(newError(op, ErrAlreadyJoined))
	}
	room, err := protocol.NormalizeRoomCode(code)
	if err != nil {
		return c.fail(wrapError(op, ErrInvalidRoomCode, err.Error()))
	}

	c.room = room
	c.step = StepRole
	c.role = protocol.RoleUnassigned
	c.log = c.log.With("room", room)

	if c.localID == "" {
		c.deferred = true
		c.log.Debug("announcement deferred until the relay confirms")
		return c.ok()
	}
	return c.result(c.announce(ctx, op))
}

// Ready records the id the relay assigned to this participant and flushes
// a deferred announcement.
func (c *Controller) Ready(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	switch c.localID {
	case id:
		return nil
	case "":
		c.localID = id
		c.log.Info("subscription confirmed", "id", id)
	default:
		c.log.Warn("ignoring second participant id", "id", c.localID, "new_id", id)
		return nil
	}

	if !c.deferred {
		return nil
	}
	c.deferred = false
	return c.result(c.announce(ctx, "join"))
}

// ChooseRole sets and announces the local role.
func (c *Controller) ChooseRole(ctx context.Context, role protocol.Role) error {
	const op = "choose role"
	if c.room == "" {
		return c.fail(newError(op, ErrNotJoined))
	}
	if c.localID == "" {
		return c.fail(newError(op, ErrIdentityUnknown))
	}
	if role != protocol.RoleSharer && role != protocol.RoleWatcher {
		return c.fail(wrapError(op, ErrInvalidRole, role.String()))
	}
	if c.step != StepRole && c.step != StepLobby {
		return c.fail(wrapError(op, ErrWrongStep, c.step.String()))
	}

	c.role = role
	c.step = StepLobby
	return c.result(c.announce(ctx, op))
}

// StartRound picks two sharers at random and announces the round.
func (c *Controller) StartRound(ctx context.Context) error {
	const op = "start round"
	if c.room == "" {
		return c.fail(newError(op, ErrNotJoined))
	}
	pool := c.idsWith(protocol.RoleSharer)
	watchers := len(c.idsWith(protocol.RoleWatcher))
	if len(pool) < 2 || watchers < 1 {
		return c.fail(wrapError(op, ErrNotReady, fmt.Sprintf("%d sharers, %d watchers", len(pool), watchers)))
	}

	ev := protocol.RoundStarted{
		SharerIDs: pickSharers(pool, c.rand),
		RoundID:   c.newRoundID(),
	}
	c.log.Info("starting round", "round", ev.RoundID, "sharers", ev.SharerIDs)
	return c.result(c.publish(ctx, op, ev))
}

// StartShare captures local media and offers it to every watcher.
func (c *Controller) StartShare(ctx context.Context) error {
	const op = "start share"
	if c.step != StepShare {
		return c.fail(wrapError(op, ErrWrongStep, c.step.String()))
	}
	// A sharer left over from an earlier round stays on this step.
	if !slices.Contains(c.sharers, c.localID) {
		return c.fail(wrapError(op, ErrNotSelected, c.roundID))
	}
	if c.sharing && c.sharedRound == c.roundID {
		return c.fail(newError(op, ErrAlreadySharing))
	}

	tracks, err := c.capture.Capture(ctx)
	if err != nil {
		return c.fail(newError(op, err))
	}
	c.tracks = tracks
	c.sharing = true
	c.sharedRound = c.roundID

	var errs []error
	for _, id := range c.idsWith(protocol.RoleWatcher) {
		if id == c.localID {
			continue
		}
		if err := c.offer(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return c.result(errors.Join(errs...))
}

// CastVote publishes one vote. The local tally moves when the vote comes back.
func (c *Controller) CastVote(ctx context.Context, which protocol.Side) error {
	const op = "vote"
	if !which.Valid() {
		return c.fail(wrapError(op, ErrInvalidVote, string(which)))
	}
	if c.room == "" {
		return c.fail(newError(op, ErrNotJoined))
	}
	return c.result(c.publish(ctx, op, protocol.Vote{Which: which}))
}

// Leave closes every link and returns to the join step.
func (c *Controller) Leave(context.Context) error {
	c.links.CloseAll()
	if c.room != "" {
		c.log.Info("left room")
	}
	c.step = StepJoin
	c.room = ""
	c.localID = ""
	c.role = protocol.RoleUnassigned
	c.deferred = false
	c.players = make(map[string]entry)
	c.roundID = ""
	c.sharers = nil
	c.tracks = nil
	c.sharedRound = ""
	c.sharing = false
	c.tally = Tally{}
	c.lastErr = nil
	c.log = c.baseLog
	return nil
}

// Handle decodes and applies one relay delivery.
func (c *Controller) Handle(ctx context.Context, event string, data []byte) error {
	ev, err := protocol.Decode(event, data)
	if err != nil {
		return c.fail(wrapError("decode", err, event))
	}
	return c.HandleEvent(ctx, ev)
}

// HandleEvent applies one relay event.
func (c *Controller) HandleEvent(ctx context.Context, ev protocol.Event) error {
	if c.room == "" {
		return c.fail(wrapError("handle", ErrNotJoined, ev.EventName()))
	}

	if a, ok := ev.(protocol.Addressed); ok {
		if c.localID == "" || a.Recipient() != c.localID || a.Sender() == c.localID {
			return nil
		}
	}

	var err error
	switch ev := ev.(type) {
	case protocol.Membership:
		err = c.onMembership(ctx, ev)
	case protocol.RoundStarted:
		c.onRoundStart(ev)
	case protocol.Offer:
		err = c.onOffer(ctx, ev)
	case protocol.Answer:
		if e := c.links.ApplyAnswer(ev); e != nil {
			err = peerError("apply answer", ev.From, e)
		}
	case protocol.Candidate:
		if e := c.links.AddCandidate(ev); e != nil {
			err = peerError("add candidate", ev.From, e)
		}
	case protocol.Vote:
		c.onVote(ev)
	default:
		err = wrapError("handle", protocol.ErrUnknownEvent, ev.EventName())
	}
	if err != nil {
		c.log.Warn("event failed", "event", ev.EventName(), "error", err)
		return c.fail(err)
	}
	return nil
}

// onMembership merges an announcement into the role map. An entry replaces
// the stored one when it carries a higher seq, or when neither has one.
// The local entry is owned locally and never overwritten.
func (c *Controller) onMembership(ctx context.Context, m protocol.Membership) error {
	var newWatchers []string
	for id, r := range m.Players {
		if id == c.localID {
			continue
		}
		role := protocol.RoleUnassigned
		if r != nil {
			role = *r
		}
		cur, known := c.players[id]
		if known && !(m.Seq > cur.seq || (m.Seq == 0 && cur.seq == 0)) {
			continue
		}
		c.players[id] = entry{role: role, seq: m.Seq}
		if role == protocol.RoleWatcher && cur.role != protocol.RoleWatcher {
			newWatchers = append(newWatchers, id)
		}
	}

	// Watchers arriving while we share get an offer of their own.
	if !c.sharing || c.step != StepShare {
		return nil
	}
	var errs []error
	slices.Sort(newWatchers)
	for _, id := range newWatchers {
		if _, linked := c.links.Link(id); linked {
			continue
		}
		c.log.Info("offering to late watcher", "peer", id)
		if err := c.offer(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) onRoundStart(ev protocol.RoundStarted) {
	if ev.RoundID != "" && ev.RoundID == c.roundID {
		c.log.Debug("duplicate round start", "round", ev.RoundID)
		return
	}

	c.links.CloseRound(ev.RoundID)
	c.roundID = ev.RoundID
	c.sharers = slices.Clone(ev.SharerIDs)
	c.sharing = false

	switch {
	case ev.Includes(c.localID):
		c.step = StepShare
	case c.role == protocol.RoleWatcher:
		c.step = StepWatch
	}
	c.log.Info("round started", "round", ev.RoundID, "sharers", ev.SharerIDs, "step", c.step)
}

func (c *Controller) onOffer(ctx context.Context, o protocol.Offer) error {
	// Late joiners have not seen the round start and take the offer as is.
	if len(c.sharers) > 0 && !slices.Contains(c.sharers, o.From) {
		return peerError("accept offer", o.From, ErrNotSelected)
	}
	if err := c.links.Accept(ctx, o); err != nil {
		return peerError("accept offer", o.From, err)
	}
	return nil
}

func (c *Controller) onVote(v protocol.Vote) {
	switch v.Which {
	case protocol.SideA:
		c.tally.A++
	case protocol.SideB:
		c.tally.B++
	}
}

func (c *Controller) offer(ctx context.Context, remote string) error {
	if err := c.links.Offer(ctx, c.roundID, c.localID, remote, c.tracks); err != nil {
		return peerError("offer", remote, err)
	}
	return nil
}

func (c *Controller) announce(ctx context.Context, op string) error {
	c.seq++
	c.players[c.localID] = entry{role: c.role, seq: c.seq}
	return c.publish(ctx, op, protocol.NewMembership(c.localID, c.role, c.seq))
}

func (c *Controller) publish(ctx context.Context, op string, ev protocol.Event) error {
	event, data, err := protocol.Encode(ev)
	if err != nil {
		return newError(op, err)
	}
	if err := c.pub.Publish(ctx, c.room, event, data); err != nil {
		return wrapError(op, fmt.Errorf("%w: %v", ErrRelayUnavailable, err), event)
	}
	return nil
}

func (c *Controller) publishCandidate(cand protocol.Candidate) {
	c.publishSignal(cand)
}

// publishSignal publishes an offer, answer or candidate handed out by the
// link manager.
func (c *Controller) publishSignal(ev protocol.Event) {
	if c.room == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := c.publish(ctx, ev.EventName(), ev); err != nil {
		c.log.Warn("publish signal", "event", ev.EventName(), "error", err)
		c.fail(err)
	}
}

func (c *Controller) streamArrived(remote string, s peer.Stream) {
	c.log.Info("watching stream", "peer", remote, "stream", s.StreamID())
}

func (c *Controller) linkFailed(remote string, err error) {
	c.fail(peerError("link", remote, err))
}

func (c *Controller) idsWith(role protocol.Role) []string {
	var ids []string
	for _, id := range slices.Sorted(maps.Keys(c.players)) {
		if c.players[id].role == role {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *Controller) fail(err error) error {
	c.lastErr = err
	return err
}

func (c *Controller) ok() error {
	c.lastErr = nil
	return nil
}

// result records the outcome of a user intent.
func (c *Controller) result(err error) error {
	if err != nil {
		return c.fail(err)
	}
	return c.ok()
}

// View returns a snapshot of the session.
func (c *Controller) View() View {
	v := View{
		Step:      c.step,
		Room:      c.room,
		LocalID:   c.localID,
		Role:      c.role,
		RoundID:   c.roundID,
		SharerIDs: slices.Clone(c.sharers),
		Sharing:   c.sharing,
		Votes:     c.tally,
		Links:     c.links.Links(),
		Err:       c.lastErr,
	}
	for _, id := range slices.Sorted(maps.Keys(c.players)) {
		e := c.players[id]
		v.Players = append(v.Players, Player{ID: id, Role: e.role, Self: id == c.localID})
		switch e.role {
		case protocol.RoleSharer:
			v.Sharers++
		case protocol.RoleWatcher:
			v.Watchers++
		}
	}
	v.Ready = v.Sharers >= 2 && v.Watchers >= 1

	streams := c.links.Streams()
	for i, id := range c.sharers {
		s, ok := streams[id]
		if !ok {
			continue
		}
		side := protocol.SideA
		if i == 1 {
			side = protocol.SideB
		}
		v.Streams = append(v.Streams, StreamView{Side: side, SharerID: id, StreamID: s.StreamID()})
	}
	return v
}

// pickSharers shuffles the sorted pool with Fisher-Yates and takes the first two.
func pickSharers(pool []string, r Rand) []string {
	ids := slices.Clone(pool)
	slices.Sort(ids)
	for i := len(ids) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids[:2]
}
