package peer

import (
	"errors"
	"fmt"
)

var (
	ErrPrecondition    = errors.New("precondition violated")
	ErrNoLink          = fmt.Errorf("%w: no peer link", ErrPrecondition)
	ErrLinkExists      = fmt.Errorf("%w: peer link already exists", ErrPrecondition)
	ErrUnexpectedState = fmt.Errorf("%w: unexpected link state", ErrPrecondition)
	ErrTransportFailed = errors.New("peer transport failed")
	ErrUnsupportedSDP  = errors.New("unsupported sdp type")
)

// LinkError describes a failed operation on the link to Peer.
type LinkError struct {
	Op   string
	Peer string
	Err  error
}

func (e *LinkError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

func newError(op, peer string, err error) *LinkError {
	return &LinkError{Op: op, Peer: peer, Err: err}
}
