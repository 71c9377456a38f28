package peer_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AsafMeizner/reels-battle/internal/peer"
	"github.com/AsafMeizner/reels-battle/internal/peer/peertest"
	"github.com/AsafMeizner/reels-battle/internal/protocol"
)

var camera = []peer.Track{peertest.Track{TrackID: "video", Stream: "camera"}}

// signals collects what a manager hands out for publishing.
type signals struct {
	mu           sync.Mutex
	descriptions []protocol.Event
	candidates   []protocol.Candidate
}

func (s *signals) options() []peer.Option {
	return []peer.Option{
		peer.WithDescriptionSink(func(ev protocol.Event) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.descriptions = append(s.descriptions, ev)
		}),
		peer.WithCandidateSink(func(c protocol.Candidate) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.candidates = append(s.candidates, c)
		}),
	}
}

func (s *signals) offer(t *testing.T) protocol.Offer {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.descriptions)
	o, ok := s.descriptions[len(s.descriptions)-1].(protocol.Offer)
	require.True(t, ok, "last description is not an offer")
	return o
}

func (s *signals) answer(t *testing.T) protocol.Answer {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.descriptions)
	a, ok := s.descriptions[len(s.descriptions)-1].(protocol.Answer)
	require.True(t, ok, "last description is not an answer")
	return a
}

type side struct {
	*peer.Manager
	*signals
	dialer *peertest.Dialer
}

func newSide(opts ...peer.Option) side {
	d := peertest.NewDialer()
	sig := &signals{}
	return side{Manager: peer.NewManager(d, append(sig.options(), opts...)...), signals: sig, dialer: d}
}

func newPair(t *testing.T) (sharer, watcher side) {
	t.Helper()
	sharer, watcher = newSide(), newSide()
	watcher.dialer.AutoTrack = true
	return sharer, watcher
}

func TestOfferAcceptAnswer(t *testing.T) {
	ctx := context.Background()
	sharer, watcher := newPair(t)

	require.NoError(t, sharer.Offer(ctx, "r1", "p1", "p3", camera))
	offer := sharer.offer(t)
	assert.Equal(t, "p3", offer.To)
	assert.Equal(t, "p1", offer.From)
	assert.Equal(t, "r1", offer.Round)
	assert.Equal(t, protocol.SDPTypeOffer, offer.SDP.Type)
	assert.Len(t, sharer.dialer.Conn("p3").Tracks(), 1)

	link, ok := sharer.Link("p3")
	require.True(t, ok)
	assert.Equal(t, peer.StateOfferedLocal, link.State())

	require.NoError(t, watcher.Accept(ctx, offer))
	answer := watcher.answer(t)
	assert.Equal(t, "p1", answer.To)
	assert.Equal(t, "p3", answer.From)

	wl, ok := watcher.Link("p1")
	require.True(t, ok)
	assert.Equal(t, peer.StateConnected, wl.State())
	require.NotNil(t, wl.Stream())
	assert.Contains(t, watcher.Streams(), "p1")

	require.NoError(t, sharer.ApplyAnswer(answer))
	assert.Equal(t, peer.StateConnected, link.State())
}

// negotiate runs a full offer/answer between two managers.
func negotiate(t *testing.T, sharer, watcher side, round string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, sharer.Offer(ctx, round, "p1", "p3", camera))
	require.NoError(t, watcher.Accept(ctx, sharer.offer(t)))
	require.NoError(t, sharer.ApplyAnswer(watcher.answer(t)))
}

func TestApplyAnswerWithoutLink(t *testing.T) {
	m := peer.NewManager(peertest.NewDialer())

	err := m.ApplyAnswer(protocol.Answer{To: "p1", From: "p3", SDP: protocol.SessionDescription{Type: "answer", SDP: "x"}})
	require.ErrorIs(t, err, peer.ErrNoLink)
	require.ErrorIs(t, err, peer.ErrPrecondition)
}

func TestApplyAnswerWrongState(t *testing.T) {
	sharer, watcher := newPair(t)
	negotiate(t, sharer, watcher, "r1")

	err := sharer.ApplyAnswer(watcher.answer(t))
	require.ErrorIs(t, err, peer.ErrUnexpectedState)
}

func TestCandidateBeforeOffer(t *testing.T) {
	m := peer.NewManager(peertest.NewDialer())

	err := m.AddCandidate(protocol.Candidate{To: "p3", From: "p1", Candidate: protocol.ICECandidate{Candidate: "candidate:1"}})
	require.ErrorIs(t, err, peer.ErrNoLink)
	assert.Empty(t, m.Links(), "no link is created speculatively")
}

func TestCandidateBufferedUntilAnswer(t *testing.T) {
	ctx := context.Background()
	sharer, watcher := newPair(t)

	require.NoError(t, sharer.Offer(ctx, "r1", "p1", "p3", camera))

	early := protocol.Candidate{To: "p1", From: "p3", Candidate: protocol.ICECandidate{Candidate: "candidate:early"}}
	require.NoError(t, sharer.AddCandidate(early))
	assert.Empty(t, sharer.dialer.Conn("p3").Candidates())

	require.NoError(t, watcher.Accept(ctx, sharer.offer(t)))
	require.NoError(t, sharer.ApplyAnswer(watcher.answer(t)))
	assert.Equal(t, []protocol.ICECandidate{early.Candidate}, sharer.dialer.Conn("p3").Candidates())
}

func TestLocalCandidatesAreEmitted(t *testing.T) {
	ctx := context.Background()
	m := newSide()

	require.NoError(t, m.Offer(ctx, "r1", "p1", "p3", camera))

	m.dialer.Conn("p3").EmitCandidate(protocol.ICECandidate{Candidate: "candidate:a"})
	m.dialer.Conn("p3").EmitCandidate(protocol.ICECandidate{Candidate: "candidate:b"})

	require.Len(t, m.candidates, 2)
	assert.Equal(t, "p3", m.candidates[0].To)
	assert.Equal(t, "p1", m.candidates[0].From)
	assert.Equal(t, "candidate:b", m.candidates[1].Candidate.Candidate)
}

func TestNegotiationIsPostedBack(t *testing.T) {
	ctx := context.Background()
	posted := make(chan func(), 16)
	m := newSide(peer.WithPost(func(fn func()) { posted <- fn }))
	hold := make(chan struct{})
	m.dialer.Hold = hold

	require.NoError(t, m.Offer(ctx, "r1", "p1", "p3", camera))
	link, ok := m.Link("p3")
	require.True(t, ok)
	assert.Equal(t, peer.StateOffering, link.State())

	// Candidates found before the offer is out wait for it.
	m.dialer.Conn("p3").EmitCandidate(protocol.ICECandidate{Candidate: "candidate:a"})
	(<-posted)()
	assert.Empty(t, m.candidates)
	assert.Empty(t, m.descriptions)

	close(hold)
	(<-posted)()
	assert.Equal(t, peer.StateOfferedLocal, link.State())
	offer := m.offer(t)
	assert.Equal(t, "p3", offer.To)
	require.Len(t, m.candidates, 1)
	assert.Equal(t, "candidate:a", m.candidates[0].Candidate.Candidate)

	m.dialer.Conn("p3").EmitCandidate(protocol.ICECandidate{Candidate: "candidate:b"})
	(<-posted)()
	assert.Len(t, m.candidates, 2)
}

func TestNegotiationResultForClosedLinkIsDropped(t *testing.T) {
	ctx := context.Background()
	posted := make(chan func(), 16)
	m := newSide(peer.WithPost(func(fn func()) { posted <- fn }))
	hold := make(chan struct{})
	m.dialer.Hold = hold

	require.NoError(t, m.Offer(ctx, "r1", "p1", "p3", camera))
	require.NoError(t, m.Close("p3"))

	close(hold)
	(<-posted)()
	assert.Empty(t, m.descriptions)
	assert.Empty(t, m.Links())
}

func TestNegotiationFailureIsSurfaced(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	posted := make(chan func(), 16)
	var failed []string
	m := newSide(
		peer.WithPost(func(fn func()) { posted <- fn }),
		peer.WithFailureSink(func(id string, err error) {
			assert.ErrorIs(t, err, boom)
			failed = append(failed, id)
		}),
	)
	hold := make(chan struct{})
	m.dialer.Hold = hold

	require.NoError(t, m.Offer(ctx, "r1", "p1", "p3", camera))
	conn := m.dialer.Conn("p3")
	conn.SetFail("SetLocalDescription", boom)
	close(hold)
	(<-posted)()

	assert.Equal(t, []string{"p3"}, failed)
	assert.Empty(t, m.descriptions)
	assert.Empty(t, m.Links())
	assert.True(t, conn.Closed())
}

func TestOfferDuplicateRound(t *testing.T) {
	ctx := context.Background()
	m := newSide()

	require.NoError(t, m.Offer(ctx, "r1", "p1", "p3", camera))
	require.ErrorIs(t, m.Offer(ctx, "r1", "p1", "p3", camera), peer.ErrLinkExists)
}

func TestAcceptReplacesStaleRound(t *testing.T) {
	sharer, watcher := newPair(t)

	negotiate(t, sharer, watcher, "r1")
	sharer.CloseAll()
	negotiate(t, sharer, watcher, "r2")

	conns := watcher.dialer.Conns("p1")
	require.Len(t, conns, 2)
	assert.True(t, conns[0].Closed())
	assert.False(t, conns[1].Closed())

	l, ok := watcher.Link("p1")
	require.True(t, ok)
	assert.Equal(t, "r2", l.Round)
}

func TestCloseRound(t *testing.T) {
	ctx := context.Background()
	d := peertest.NewDialer()
	m := peer.NewManager(d)

	require.NoError(t, m.Offer(ctx, "r1", "p1", "p3", camera))
	require.NoError(t, m.Offer(ctx, "r2", "p1", "p4", camera))

	m.CloseRound("r2")

	links := m.Links()
	require.Len(t, links, 1)
	assert.Equal(t, "p4", links[0].RemoteID)
	assert.True(t, d.Conn("p3").Closed())
}

func TestCloseAndCloseAll(t *testing.T) {
	ctx := context.Background()
	d := peertest.NewDialer()
	m := peer.NewManager(d)

	for _, id := range []string{"p3", "p4", "p5"} {
		require.NoError(t, m.Offer(ctx, "r1", "p1", id, camera))
	}

	require.NoError(t, m.Close("p4"))
	require.NoError(t, m.Close("unknown"))
	assert.Len(t, m.Links(), 2)

	m.CloseAll()
	assert.Empty(t, m.Links())
	for _, id := range []string{"p3", "p4", "p5"} {
		assert.True(t, d.Conn(id).Closed(), id)
	}
}

func TestOfferFailureDropsLink(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	d := peertest.NewDialer()
	m := peer.NewManager(d)

	d.Err = boom
	require.ErrorIs(t, m.Offer(ctx, "r1", "p1", "p3", camera), boom)
	assert.Empty(t, m.Links())
}

func TestTransportFailureIsSurfaced(t *testing.T) {
	ctx := context.Background()
	d := peertest.NewDialer()
	var failed []string
	m := peer.NewManager(d, peer.WithFailureSink(func(id string, err error) {
		assert.ErrorIs(t, err, peer.ErrTransportFailed)
		failed = append(failed, id)
	}))

	require.NoError(t, m.Offer(ctx, "r1", "p1", "p3", camera))

	d.Conn("p3").EmitState(peer.ConnStateConnected)
	d.Conn("p3").EmitState(peer.ConnStateFailed)

	assert.Equal(t, []string{"p3"}, failed)
	require.Len(t, m.Links(), 1, "failed links are not retried or dropped")
	assert.Equal(t, peer.ConnStateFailed, m.Links()[0].Transport)
}

func TestCallbacksFromReplacedLinkIgnored(t *testing.T) {
	ctx := context.Background()
	d := peertest.NewDialer()
	var got int
	m := peer.NewManager(d, peer.WithCandidateSink(func(protocol.Candidate) { got++ }))

	require.NoError(t, m.Offer(ctx, "r1", "p1", "p3", camera))
	old := d.Conn("p3")
	require.NoError(t, m.Offer(ctx, "r2", "p1", "p3", camera))

	old.EmitCandidate(protocol.ICECandidate{Candidate: "candidate:stale"})
	assert.Zero(t, got)
}
