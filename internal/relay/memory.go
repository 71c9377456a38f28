package relay

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process relay. Publishing never blocks: each subscription
// buffers its own backlog.
type Memory struct {
	mu   sync.Mutex
	subs map[string][]*memorySub
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string][]*memorySub)}
}

func (m *Memory) Publish(_ context.Context, channel, event string, data []byte) error {
	if channel == "" || event == "" {
		return ErrBadRequest
	}
	m.mu.Lock()
	subs := slices.Clone(m.subs[channel])
	m.mu.Unlock()

	for _, s := range subs {
		if len(s.events) > 0 && !slices.Contains(s.events, event) {
			continue
		}
		s.enqueue(Delivery{Channel: channel, Event: event, Data: slices.Clone(data)})
	}
	return nil
}

// Subscribe confirms immediately with a fresh socket id.
func (m *Memory) Subscribe(_ context.Context, channel string, events []string) (Subscription, error) {
	if channel == "" {
		return nil, ErrBadRequest
	}
	s := &memorySub{
		memory:     m,
		channel:    channel,
		events:     events,
		ready:      make(chan string, 1),
		deliveries: make(chan Delivery),
		wake:       make(chan struct{}, 1),
		closed:     make(chan struct{}),
	}
	s.ready <- uuid.NewString()

	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], s)
	m.mu.Unlock()

	go s.pump()
	return s, nil
}

func (m *Memory) remove(s *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[s.channel] = slices.DeleteFunc(m.subs[s.channel], func(x *memorySub) bool { return x == s })
	if len(m.subs[s.channel]) == 0 {
		delete(m.subs, s.channel)
	}
}

type memorySub struct {
	memory     *Memory
	channel    string
	events     []string
	ready      chan string
	deliveries chan Delivery
	wake       chan struct{}
	closed     chan struct{}
	closeOnce  sync.Once

	mu      sync.Mutex
	backlog []Delivery
}

func (s *memorySub) Ready() <-chan string        { return s.ready }
func (s *memorySub) Deliveries() <-chan Delivery { return s.deliveries }

func (s *memorySub) enqueue(d Delivery) {
	s.mu.Lock()
	s.backlog = append(s.backlog, d)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memorySub) pump() {
	defer close(s.deliveries)
	for {
		s.mu.Lock()
		var next *Delivery
		if len(s.backlog) > 0 {
			d := s.backlog[0]
			s.backlog = s.backlog[1:]
			next = &d
		}
		s.mu.Unlock()

		if next == nil {
			select {
			case <-s.wake:
				continue
			case <-s.closed:
				return
			}
		}

		select {
		case s.deliveries <- *next:
		case <-s.closed:
			return
		}
	}
}

func (s *memorySub) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.memory.remove(s)
	})
	return nil
}
