package ui

import (
	"context"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AsafMeizner/reels-battle/internal/peer"
	"github.com/AsafMeizner/reels-battle/internal/protocol"
	"github.com/AsafMeizner/reels-battle/internal/session"
)

type fakeSession struct {
	mu    sync.Mutex
	calls []string
	views chan session.View
}

func newFakeSession() *fakeSession {
	return &fakeSession{views: make(chan session.View, 1)}
}

func (f *fakeSession) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeSession) Join(_ context.Context, code string) error { return f.record("join " + code) }
func (f *fakeSession) ChooseRole(_ context.Context, r protocol.Role) error {
	return f.record("role " + string(r))
}
func (f *fakeSession) StartRound(context.Context) error { return f.record("round") }
func (f *fakeSession) StartShare(context.Context) error { return f.record("share") }
func (f *fakeSession) CastVote(_ context.Context, s protocol.Side) error {
	return f.record("vote " + string(s))
}
func (f *fakeSession) Leave(context.Context) error { return f.record("leave") }
func (f *fakeSession) Views() <-chan session.View { return f.views }

func (f *fakeSession) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

var enter = tea.KeyMsg{Type: tea.KeyEnter}

// press sends msg and runs the resulting intent, if any, feeding its result back.
func press(t *testing.T, m *Model, msg tea.Msg) {
	t.Helper()
	_, cmd := m.Update(msg)
	if cmd == nil {
		return
	}
	if res, ok := cmd().(intentMsg); ok {
		m.Update(res)
	}
}

func withView(m *Model, v session.View) {
	m.Update(viewMsg(v))
}

func TestJoinUppercasesCode(t *testing.T) {
	f := newFakeSession()
	m := NewModel(context.Background(), f, "")

	for _, r := range "abc123" {
		m.Update(runes(string(r)))
	}
	assert.Equal(t, "ABC123", m.input.Value())

	press(t, m, enter)
	assert.Equal(t, []string{"join ABC123"}, f.Calls())
	assert.Empty(t, m.pending)
}

func TestJoinCodeIsLimited(t *testing.T) {
	m := NewModel(context.Background(), newFakeSession(), "")
	for _, r := range "ABCDEFGH" {
		m.Update(runes(string(r)))
	}
	assert.Equal(t, "ABCDEF", m.input.Value())
}

func TestAutoJoin(t *testing.T) {
	f := newFakeSession()
	m := NewModel(context.Background(), f, " xyz789 ")
	require.NotNil(t, m.Init())
	assert.Equal(t, "join", m.pending)
	assert.Equal(t, "XYZ789", m.input.Value())
}

func TestRoleKeys(t *testing.T) {
	f := newFakeSession()
	m := NewModel(context.Background(), f, "")
	withView(m, session.View{Step: session.StepRole, Room: "ABC123", LocalID: "p1"})

	press(t, m, runes("s"))
	press(t, m, runes("w"))
	press(t, m, enter)
	assert.Equal(t, []string{"role sharer", "role watcher"}, f.Calls())
}

func TestLobbyStartsRoundOnlyWhenReady(t *testing.T) {
	f := newFakeSession()
	m := NewModel(context.Background(), f, "")

	withView(m, session.View{Step: session.StepLobby, Room: "ABC123", LocalID: "p1", Sharers: 1})
	press(t, m, enter)
	assert.Empty(t, f.Calls())
	assert.Contains(t, m.View(), "Waiting for at least 2 sharers and 1 watcher")

	withView(m, session.View{Step: session.StepLobby, Room: "ABC123", LocalID: "p1", Sharers: 2, Watchers: 1, Ready: true})
	press(t, m, enter)
	assert.Equal(t, []string{"round"}, f.Calls())
}

func TestShareAndVote(t *testing.T) {
	f := newFakeSession()
	m := NewModel(context.Background(), f, "")

	withView(m, session.View{Step: session.StepShare, Room: "ABC123", LocalID: "p1"})
	press(t, m, enter)
	press(t, m, runes("a"))
	press(t, m, runes("b"))
	press(t, m, runes("q"))
	assert.Equal(t, []string{"share", "vote A", "vote B", "leave"}, f.Calls())
}

func TestOneIntentAtATime(t *testing.T) {
	f := newFakeSession()
	m := NewModel(context.Background(), f, "")
	withView(m, session.View{Step: session.StepWatch, Room: "ABC123", LocalID: "p3"})

	_, first := m.Update(runes("a"))
	require.NotNil(t, first)
	_, second := m.Update(runes("b"))
	assert.Nil(t, second)
	assert.Contains(t, m.View(), "vote...")

	m.Update(first())
	assert.Empty(t, m.pending)
}

func TestWatchView(t *testing.T) {
	m := NewModel(context.Background(), newFakeSession(), "")
	withView(m, session.View{
		Step:      session.StepWatch,
		Room:      "ABC123",
		LocalID:   "p3",
		Role:      protocol.RoleWatcher,
		SharerIDs: []string{"p1", "p2"},
		Votes:     session.Tally{A: 3, B: 1},
		Streams:   []session.StreamView{{Side: protocol.SideA, SharerID: "p1", StreamID: "s1"}},
		Links: []peer.LinkInfo{
			{RemoteID: "p1", State: peer.StateConnected, HasStream: true},
			{RemoteID: "p2", State: peer.StateOfferedRemote},
		},
	})

	out := m.View()
	assert.Contains(t, out, "Side A")
	assert.Contains(t, out, "Side B")
	assert.Contains(t, out, "waiting for stream")
	assert.Contains(t, out, "offered-remote")
	assert.Equal(t, 2, strings.Count(out, "live"), "one live box and one live link")
}

func TestLeaveResetsInput(t *testing.T) {
	m := NewModel(context.Background(), newFakeSession(), "")
	m.input.SetValue("ABC123")
	withView(m, session.View{Step: session.StepLobby, Room: "ABC123"})
	withView(m, session.View{Step: session.StepJoin})
	assert.Empty(t, m.input.Value())
}

func TestRosterHighlightsSelf(t *testing.T) {
	out := RosterView([]session.Player{
		{ID: "0123456789", Role: protocol.RoleSharer},
		{ID: "p2", Role: protocol.RoleWatcher, Self: true},
		{ID: "p3"},
	})
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789")
	assert.Contains(t, out, "p2 (you)")
	assert.Contains(t, out, "choosing...")
}

func TestQuit(t *testing.T) {
	m := NewModel(context.Background(), newFakeSession(), "")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, m.View())
}
