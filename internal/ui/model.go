// Package ui is the terminal shell of a battle: it renders session views and
// turns key presses into session intents.
package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AsafMeizner/reels-battle/internal/protocol"
	"github.com/AsafMeizner/reels-battle/internal/session"
)

// Session is what the model drives. *session.Session satisfies it.
type Session interface {
	Join(ctx context.Context, code string) error
	ChooseRole(ctx context.Context, role protocol.Role) error
	StartRound(ctx context.Context) error
	StartShare(ctx context.Context) error
	CastVote(ctx context.Context, which protocol.Side) error
	Leave(ctx context.Context) error
	Views() <-chan session.View
}

type viewMsg session.View

type intentMsg struct {
	op  string
	err error
}

// Model is the bubbletea model of the battle screens.
type Model struct {
	ctx  context.Context
	sess Session

	view    session.View
	input   textinput.Model
	spinner spinner.Model
	help    help.Model
	keys    keyMap

	autoJoin string
	pending  string
	quitting bool
}

// NewModel builds the model. A non-empty code is joined right away.
func NewModel(ctx context.Context, sess Session, code string) *Model {
	in := textinput.New()
	in.Placeholder = "ABC123"
	in.CharLimit = protocol.RoomCodeLength
	in.Width = protocol.RoomCodeLength + 1
	in.Prompt = IconRoom + " "
	in.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	m := &Model{
		ctx:      ctx,
		sess:     sess,
		input:    in,
		spinner:  s,
		help:     help.New(),
		keys:     newKeyMap(),
		autoJoin: strings.ToUpper(strings.TrimSpace(code)),
	}
	m.syncKeys()
	return m
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick, m.waitForView()}
	if m.autoJoin != "" {
		code := m.autoJoin
		m.input.SetValue(code)
		cmds = append(cmds, m.intent("join", func(ctx context.Context) error {
			return m.sess.Join(ctx, code)
		}))
	}
	return tea.Batch(cmds...)
}

func (m *Model) waitForView() tea.Cmd {
	views := m.sess.Views()
	return func() tea.Msg {
		select {
		case v := <-views:
			return viewMsg(v)
		case <-m.ctx.Done():
			return tea.Quit()
		}
	}
}

// intent runs fn off the update loop. One intent is in flight at a time.
func (m *Model) intent(op string, fn func(context.Context) error) tea.Cmd {
	if m.pending != "" {
		return nil
	}
	m.pending = op
	ctx := m.ctx
	return func() tea.Msg {
		return intentMsg{op: op, err: fn(ctx)}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width

	case viewMsg:
		prev := m.view.Step
		m.view = session.View(msg)
		if m.view.Step == session.StepJoin && prev != session.StepJoin {
			m.input.Reset()
			m.input.Focus()
		}
		m.syncKeys()
		return m, m.waitForView()

	case intentMsg:
		if msg.op == m.pending {
			m.pending = ""
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.view.Step == session.StepJoin {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}

	step := m.view.Step
	if step == session.StepJoin {
		if key.Matches(msg, m.keys.Confirm) {
			code := m.input.Value()
			return m, m.intent("join", func(ctx context.Context) error {
				return m.sess.Join(ctx, code)
			})
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		m.input.SetValue(strings.ToUpper(m.input.Value()))
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Leave):
		return m, m.intent("leave", m.sess.Leave)

	case (step == session.StepRole || step == session.StepLobby) && key.Matches(msg, m.keys.Sharer):
		return m, m.chooseRole(protocol.RoleSharer)

	case (step == session.StepRole || step == session.StepLobby) && key.Matches(msg, m.keys.Watcher):
		return m, m.chooseRole(protocol.RoleWatcher)

	case step == session.StepLobby && key.Matches(msg, m.keys.Confirm):
		return m, m.intent("start round", m.sess.StartRound)

	case step == session.StepShare && key.Matches(msg, m.keys.Confirm):
		return m, m.intent("start sharing", m.sess.StartShare)

	case (step == session.StepShare || step == session.StepWatch) && key.Matches(msg, m.keys.VoteA):
		return m, m.vote(protocol.SideA)

	case (step == session.StepShare || step == session.StepWatch) && key.Matches(msg, m.keys.VoteB):
		return m, m.vote(protocol.SideB)
	}
	return m, nil
}

func (m *Model) chooseRole(role protocol.Role) tea.Cmd {
	return m.intent("choose role", func(ctx context.Context) error {
		return m.sess.ChooseRole(ctx, role)
	})
}

func (m *Model) vote(which protocol.Side) tea.Cmd {
	return m.intent("vote", func(ctx context.Context) error {
		return m.sess.CastVote(ctx, which)
	})
}

// syncKeys shows only the bindings that do something on the current step.
func (m *Model) syncKeys() {
	k := &m.keys
	switch m.view.Step {
	case session.StepJoin:
		k.Confirm.SetHelp("enter", "join room")
		k.step = []key.Binding{k.Confirm}
	case session.StepRole:
		k.step = []key.Binding{k.Sharer, k.Watcher, k.Leave}
	case session.StepLobby:
		k.Confirm.SetHelp("enter", "start round")
		k.Confirm.SetEnabled(m.view.Ready)
		k.step = []key.Binding{k.Sharer, k.Watcher, k.Confirm, k.Leave}
	case session.StepShare:
		k.Confirm.SetHelp("enter", "start sharing")
		k.Confirm.SetEnabled(!m.view.Sharing)
		k.step = []key.Binding{k.Confirm, k.VoteA, k.VoteB, k.Leave}
	case session.StepWatch:
		k.step = []key.Binding{k.VoteA, k.VoteB, k.Leave}
	}
	if m.view.Step == session.StepJoin || m.view.Step == session.StepRole {
		k.Confirm.SetEnabled(true)
	}
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(IconSharer+" Reels Battle") + "\n")
	if m.view.Room != "" {
		b.WriteString(m.statusLine() + "\n\n")
	}

	switch m.view.Step {
	case session.StepJoin:
		b.WriteString(TitleStyle.Render("Join a room") + "\n")
		b.WriteString(MutedStyle.Render(fmt.Sprintf("Enter the %d-character room code", protocol.RoomCodeLength)) + "\n\n")
		b.WriteString(m.input.View() + "\n")
	case session.StepRole:
		b.WriteString(TitleStyle.Render("Pick your role") + "\n")
		b.WriteString(fmt.Sprintf("%s share your reels   %s watch and vote\n\n", IconSharer, IconWatcher))
		b.WriteString(RosterView(m.view.Players) + "\n")
	case session.StepLobby:
		b.WriteString(m.lobbyView())
	case session.StepShare:
		b.WriteString(m.shareView())
	case session.StepWatch:
		b.WriteString(m.watchView())
	}

	if m.pending != "" {
		b.WriteString(fmt.Sprintf("\n%s %s...\n", m.spinner.View(), m.pending))
	}
	if m.view.Err != nil {
		b.WriteString("\n" + FormatError(m.view.Err) + "\n")
	}
	b.WriteString(FooterStyle.Render(m.help.View(m.keys)))
	return ContainerStyle.Render(b.String())
}

func (m *Model) statusLine() string {
	id := MutedStyle.Render("connecting...")
	if m.view.LocalID != "" {
		id = shortID(m.view.LocalID)
	}
	return fmt.Sprintf("%s %s  %s %s  %s",
		StatusStyle.Render(m.view.Room),
		IconPeer, id,
		roleLabel(m.view.Role),
		MutedStyle.Render(m.view.Step.String()),
	)
}

func (m *Model) lobbyView() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Lobby") + "\n")
	b.WriteString(RosterView(m.view.Players) + "\n\n")
	b.WriteString(fmt.Sprintf("%s Sharers: %d/2   %s Watchers: %d/1\n",
		IconSharer, m.view.Sharers, IconWatcher, m.view.Watchers))
	if m.view.Ready {
		b.WriteString(SuccessStyle.Render("Ready to battle! Press enter to start a round.") + "\n")
	} else {
		b.WriteString(MutedStyle.Render(IconWaiting+" Waiting for at least 2 sharers and 1 watcher") + "\n")
	}
	return b.String()
}

func (m *Model) shareView() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("You were picked!") + "\n")
	if m.view.Sharing {
		b.WriteString(SuccessStyle.Render(IconLive+" Sharing") + "\n\n")
		b.WriteString(LinksView(m.view.Links) + "\n")
	} else {
		b.WriteString("Press enter to start sharing your reels.\n")
	}
	b.WriteString("\n" + m.tallyLine() + "\n")
	return b.String()
}

func (m *Model) watchView() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Battle") + "\n")

	sides := []protocol.Side{protocol.SideA, protocol.SideB}
	boxes := make([]string, 0, len(sides))
	for i, side := range sides {
		sharer := "?"
		if i < len(m.view.SharerIDs) {
			sharer = shortID(m.view.SharerIDs[i])
		}
		state := MutedStyle.Render(IconWaiting + " waiting for stream")
		for _, s := range m.view.Streams {
			if s.Side == side {
				state = SuccessStyle.Render(IconLive + " live")
			}
		}
		content := fmt.Sprintf("%s\n%s %s\n%s\n%s %d",
			BoldStyle.Render("Side "+string(side)),
			IconSharer, sharer,
			state,
			IconVote, m.view.Votes.Of(side),
		)
		style := SideAStyle
		if side == protocol.SideB {
			style = SideBStyle
		}
		boxes = append(boxes, style.Render(content))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...) + "\n\n")
	b.WriteString(LinksView(m.view.Links) + "\n")
	return b.String()
}

func (m *Model) tallyLine() string {
	return fmt.Sprintf("%s A: %d   B: %d", IconVote, m.view.Votes.A, m.view.Votes.B)
}
