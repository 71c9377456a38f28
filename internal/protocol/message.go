// Package protocol defines the events exchanged between participants over the relay.
package protocol

import (
	"fmt"
	"slices"
)

// Event names as they travel over the relay.
const (
	EventMembership = "lobbyUpdate"
	EventRoundStart = "roundStart"
	EventOffer      = "offer"
	EventAnswer     = "answer"
	EventCandidate  = "iceCandidate"
	EventVote       = "newVote"
)

// EventNames returns every event a room subscriber listens for.
func EventNames() []string {
	return []string{
		EventMembership,
		EventRoundStart,
		EventOffer,
		EventAnswer,
		EventCandidate,
		EventVote,
	}
}

// Event is one of the closed set of relay messages.
type Event interface {
	EventName() string
	Validate() error
	isEvent()
}

// Addressed is implemented by the events routed to a single participant.
type Addressed interface {
	Event
	Recipient() string
	Sender() string
}

// Role is the part a participant plays in a room.
type Role string

const (
	RoleUnassigned Role = ""
	RoleSharer     Role = "sharer"
	RoleWatcher    Role = "watcher"
)

// ParseRole accepts "sharer" and "watcher".
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleSharer, RoleWatcher:
		return r, nil
	}
	return RoleUnassigned, fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, s)
}

func (r Role) String() string {
	if r == RoleUnassigned {
		return "unassigned"
	}
	return string(r)
}

// Side is one of the two sharers a vote can go to.
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// Valid reports whether s names a side.
func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

// Membership announces the role of one or more participants.
// A nil role is an unassigned participant (JSON null on the wire).
type Membership struct {
	Players map[string]*Role `json:"players"`

	// Seq is the announcer's own counter, incremented on every announcement.
	Seq uint64 `json:"seq,omitempty"`
}

// NewMembership builds the announcement a participant makes about itself.
func NewMembership(id string, role Role, seq uint64) Membership {
	var r *Role
	if role != RoleUnassigned {
		r = &role
	}
	return Membership{Players: map[string]*Role{id: r}, Seq: seq}
}

// RoleOf returns the announced role for id.
func (m Membership) RoleOf(id string) Role {
	if r := m.Players[id]; r != nil {
		return *r
	}
	return RoleUnassigned
}

func (Membership) EventName() string { return EventMembership }
func (Membership) isEvent()          {}

func (m Membership) Validate() error {
	if len(m.Players) == 0 {
		return fmt.Errorf("%w: membership without players", ErrInvalidMessage)
	}
	for id, r := range m.Players {
		if id == "" {
			return fmt.Errorf("%w: membership with empty participant id", ErrInvalidMessage)
		}
		if r != nil && *r != RoleSharer && *r != RoleWatcher {
			return fmt.Errorf("%w: unknown role %q for %s", ErrInvalidMessage, string(*r), id)
		}
	}
	return nil
}

// RoundStarted names the two sharers of a new round.
type RoundStarted struct {
	SharerIDs []string `json:"sharerIds"`
	RoundID   string   `json:"roundId,omitempty"`
}

func (RoundStarted) EventName() string { return EventRoundStart }
func (RoundStarted) isEvent()          {}

func (r RoundStarted) Validate() error {
	if len(r.SharerIDs) != 2 {
		return fmt.Errorf("%w: round needs exactly 2 sharers, got %d", ErrInvalidMessage, len(r.SharerIDs))
	}
	if r.SharerIDs[0] == "" || r.SharerIDs[1] == "" {
		return fmt.Errorf("%w: round with empty sharer id", ErrInvalidMessage)
	}
	if r.SharerIDs[0] == r.SharerIDs[1] {
		return fmt.Errorf("%w: round sharers must be distinct", ErrInvalidMessage)
	}
	return nil
}

// Includes reports whether id is one of the round's sharers.
func (r RoundStarted) Includes(id string) bool {
	return id != "" && slices.Contains(r.SharerIDs, id)
}

// SessionDescription is an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// SDP types.
const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"
)

// ICECandidate mirrors the browser's RTCIceCandidateInit.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Offer carries a sharer's session description to one watcher.
type Offer struct {
	To    string             `json:"to"`
	From  string             `json:"from"`
	SDP   SessionDescription `json:"sdp"`
	Round string             `json:"round,omitempty"`
}

func (Offer) EventName() string   { return EventOffer }
func (Offer) isEvent()            {}
func (o Offer) Recipient() string { return o.To }
func (o Offer) Sender() string    { return o.From }

func (o Offer) Validate() error {
	return validateDescription(EventOffer, o.To, o.From, o.SDP, SDPTypeOffer)
}

// Answer carries the watcher's reply to an Offer.
type Answer struct {
	To   string             `json:"to"`
	From string             `json:"from"`
	SDP  SessionDescription `json:"sdp"`
}

func (Answer) EventName() string   { return EventAnswer }
func (Answer) isEvent()            {}
func (a Answer) Recipient() string { return a.To }
func (a Answer) Sender() string    { return a.From }

func (a Answer) Validate() error {
	return validateDescription(EventAnswer, a.To, a.From, a.SDP, SDPTypeAnswer)
}

// Candidate carries a single trickled ICE candidate.
type Candidate struct {
	To        string       `json:"to"`
	From      string       `json:"from"`
	Candidate ICECandidate `json:"candidate"`
}

func (Candidate) EventName() string   { return EventCandidate }
func (Candidate) isEvent()            {}
func (c Candidate) Recipient() string { return c.To }
func (c Candidate) Sender() string    { return c.From }

func (c Candidate) Validate() error {
	return validateRoute(EventCandidate, c.To, c.From)
}

// Vote is a single vote for side A or B.
type Vote struct {
	Which Side `json:"which"`
}

func (Vote) EventName() string { return EventVote }
func (Vote) isEvent()          {}

func (v Vote) Validate() error {
	if !v.Which.Valid() {
		return fmt.Errorf("%w: vote for unknown side %q", ErrInvalidMessage, string(v.Which))
	}
	return nil
}

func validateRoute(event, to, from string) error {
	if to == "" || from == "" {
		return fmt.Errorf("%w: %s needs both to and from", ErrInvalidMessage, event)
	}
	return nil
}

func validateDescription(event, to, from string, desc SessionDescription, want string) error {
	if err := validateRoute(event, to, from); err != nil {
		return err
	}
	if desc.Type != want {
		return fmt.Errorf("%w: %s carries sdp of type %q", ErrInvalidMessage, event, desc.Type)
	}
	if desc.SDP == "" {
		return fmt.Errorf("%w: %s with empty sdp", ErrInvalidMessage, event)
	}
	return nil
}
