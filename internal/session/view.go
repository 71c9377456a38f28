package session

import (
	"github.com/AsafMeizner/reels-battle/internal/peer"
	"github.com/AsafMeizner/reels-battle/internal/protocol"
)

// Step is the screen the local participant is on.
type Step int

const (
	StepJoin Step = iota
	StepRole
	StepLobby
	StepShare
	StepWatch
)

func (s Step) String() string {
	switch s {
	case StepJoin:
		return "join"
	case StepRole:
		return "role"
	case StepLobby:
		return "lobby"
	case StepShare:
		return "share"
	case StepWatch:
		return "watch"
	default:
		return "unknown"
	}
}

// Tally counts votes per side.
type Tally struct {
	A int
	B int
}

func (t Tally) Of(side protocol.Side) int {
	if side == protocol.SideB {
		return t.B
	}
	return t.A
}

// Player is one entry of the role map.
type Player struct {
	ID   string
	Role protocol.Role
	Self bool
}

// StreamView is an inbound stream shown on the watch step.
type StreamView struct {
	Side     protocol.Side
	SharerID string
	StreamID string
}

// View is an immutable snapshot of the session for presentation.
type View struct {
	Step    Step
	Room    string
	LocalID string
	Role    protocol.Role

	Players  []Player
	Sharers  int
	Watchers int
	// Ready reports whether a round can be started.
	Ready bool

	RoundID   string
	SharerIDs []string
	Sharing   bool
	Votes     Tally
	Streams   []StreamView
	Links     []peer.LinkInfo

	Err error
}
