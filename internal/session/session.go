package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AsafMeizner/reels-battle/internal/peer"
	"github.com/AsafMeizner/reels-battle/internal/protocol"
	"github.com/AsafMeizner/reels-battle/internal/relay"
)

var ErrSessionClosed = errors.New("session closed")

// Relay is what a session needs from the signaling relay.
type Relay interface {
	relay.Publisher
	relay.Subscriber
}

type intent struct {
	fn     func(context.Context) error
	result chan error
}

// Session runs a Controller on a single goroutine. Relay deliveries, user
// intents and connection callbacks are all serialized through Run.
type Session struct {
	ctrl  *Controller
	relay Relay
	log   *slog.Logger

	intents chan intent
	wake    chan struct{}
	views   chan View
	done    chan struct{}

	mu     sync.Mutex
	posted []func()
	latest View

	sub relay.Subscription
}

// New builds a session. Controller options are passed through, except that
// connection callbacks are always routed through the session loop.
func New(r Relay, dialer peer.Dialer, opts ...Option) *Session {
	s := &Session{
		relay:   r,
		log:     slog.Default().With("component", "session-loop"),
		intents: make(chan intent),
		wake:    make(chan struct{}, 1),
		views:   make(chan View, 1),
		done:    make(chan struct{}),
	}
	opts = append(opts, WithPost(s.post))
	s.ctrl = NewController(r, dialer, opts...)
	s.latest = s.ctrl.View()
	return s
}

// post queues fn for the loop. It never blocks.
func (s *Session) post(fn func()) {
	s.mu.Lock()
	s.posted = append(s.posted, fn)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Views yields the latest snapshot after every change. Older snapshots that
// were not read are replaced.
func (s *Session) Views() <-chan View {
	return s.views
}

// Snapshot returns the latest view.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run owns the controller until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	defer func() {
		s.closeSubscription()
		s.ctrl.Leave(context.Background())
		s.emit()
	}()

	s.emit()
	for {
		var ready <-chan string
		var deliveries <-chan relay.Delivery
		if s.sub != nil {
			ready = s.sub.Ready()
			deliveries = s.sub.Deliveries()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case in := <-s.intents:
			err := in.fn(ctx)
			// Callers read Snapshot right after an intent returns.
			s.emit()
			in.result <- err
			continue

		case <-s.wake:
			s.mu.Lock()
			fns := s.posted
			s.posted = nil
			s.mu.Unlock()
			for _, fn := range fns {
				fn()
			}

		case id := <-ready:
			if err := s.ctrl.Ready(ctx, id); err != nil {
				s.log.Warn("announce after ready", "error", err)
			}

		case d, ok := <-deliveries:
			if !ok {
				s.sub = nil
				s.ctrl.fail(newError("subscribe", fmt.Errorf("%w: subscription ended", ErrRelayUnavailable)))
				s.log.Error("relay subscription ended")
				break
			}
			if err := s.ctrl.Handle(ctx, d.Event, d.Data); err != nil {
				s.log.Debug("delivery rejected", "event", d.Event, "error", err)
			}
		}
		s.emit()
	}
}

func (s *Session) emit() {
	v := s.ctrl.View()
	s.mu.Lock()
	s.latest = v
	s.mu.Unlock()

	select {
	case <-s.views:
	default:
	}
	s.views <- v
}

func (s *Session) do(ctx context.Context, fn func(context.Context) error) error {
	in := intent{fn: fn, result: make(chan error, 1)}
	select {
	case s.intents <- in:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-in.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join enters the room and subscribes to its channel.
func (s *Session) Join(ctx context.Context, code string) error {
	return s.do(ctx, func(loopCtx context.Context) error {
		if err := s.ctrl.Join(loopCtx, code); err != nil {
			return err
		}
		room := s.ctrl.View().Room
		sub, err := s.relay.Subscribe(loopCtx, room, protocol.EventNames())
		if err != nil {
			s.ctrl.Leave(loopCtx)
			return s.ctrl.fail(wrapError("subscribe", fmt.Errorf("%w: %v", ErrRelayUnavailable, err), room))
		}
		s.sub = sub
		return nil
	})
}

func (s *Session) ChooseRole(ctx context.Context, role protocol.Role) error {
	return s.do(ctx, func(loopCtx context.Context) error { return s.ctrl.ChooseRole(loopCtx, role) })
}

func (s *Session) StartRound(ctx context.Context) error {
	return s.do(ctx, s.ctrl.StartRound)
}

func (s *Session) StartShare(ctx context.Context) error {
	return s.do(ctx, s.ctrl.StartShare)
}

func (s *Session) CastVote(ctx context.Context, which protocol.Side) error {
	return s.do(ctx, func(loopCtx context.Context) error { return s.ctrl.CastVote(loopCtx, which) })
}

// Leave closes the links and the subscription.
func (s *Session) Leave(ctx context.Context) error {
	return s.do(ctx, func(loopCtx context.Context) error {
		s.closeSubscription()
		return s.ctrl.Leave(loopCtx)
	})
}

func (s *Session) closeSubscription() {
	if s.sub == nil {
		return
	}
	if err := s.sub.Close(); err != nil {
		s.log.Warn("close subscription", "error", err)
	}
	s.sub = nil
}
