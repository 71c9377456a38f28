package session

import (
	"errors"
	"fmt"

	"github.com/AsafMeizner/reels-battle/internal/media"
	"github.com/AsafMeizner/reels-battle/internal/peer"
)

var (
	ErrRelayUnavailable = errors.New("relay unavailable")

	ErrPrecondition    = peer.ErrPrecondition
	ErrNotJoined       = fmt.Errorf("%w: not in a room", ErrPrecondition)
	ErrIdentityUnknown = fmt.Errorf("%w: participant id not known yet", ErrPrecondition)
	ErrNotReady        = fmt.Errorf("%w: need at least 2 sharers and 1 watcher", ErrPrecondition)
	ErrAlreadyJoined   = fmt.Errorf("%w: already in a room", ErrPrecondition)
	ErrWrongStep       = fmt.Errorf("%w: not allowed at this step", ErrPrecondition)
	ErrAlreadySharing  = fmt.Errorf("%w: already sharing this round", ErrPrecondition)
	ErrNotSelected     = fmt.Errorf("%w: not a sharer of the current round", ErrPrecondition)

	ErrCaptureDenied = media.ErrCaptureDenied

	ErrInvalidRoomCode = errors.New("invalid room code")
	ErrInvalidRole     = errors.New("invalid role")
	ErrInvalidVote     = errors.New("invalid vote")
)

// Error describes a failed session operation.
type Error struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Peer != "" {
		msg += " " + e.Peer
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", msg, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func peerError(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}

func wrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
