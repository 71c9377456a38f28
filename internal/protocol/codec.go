package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrInvalidMessage = errors.New("invalid message")
)

// Decode maps a relay event name and its JSON payload to the matching Event.
func Decode(event string, data []byte) (Event, error) {
	switch event {
	case EventMembership:
		return decodeAs[Membership](event, data)
	case EventRoundStart:
		return decodeAs[RoundStarted](event, data)
	case EventOffer:
		return decodeAs[Offer](event, data)
	case EventAnswer:
		return decodeAs[Answer](event, data)
	case EventCandidate:
		return decodeAs[Candidate](event, data)
	case EventVote:
		return decodeAs[Vote](event, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
}

func decodeAs[T Event](event string, data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, event, err)
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// Encode validates ev and returns its relay event name and JSON payload.
func Encode(ev Event) (string, []byte, error) {
	if ev == nil {
		return "", nil, fmt.Errorf("%w: nil event", ErrInvalidMessage)
	}
	if err := ev.Validate(); err != nil {
		return "", nil, err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s: %w", ev.EventName(), err)
	}
	return ev.EventName(), data, nil
}
