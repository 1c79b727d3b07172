package realtime

import (
	"context"
	"errors"
	"sync"
)

var ErrFeedClosed = errors.New("realtime feed is closed")

// Feed opens subscriptions on the backend change feed
type Feed interface {
	Subscribe(ctx context.Context, f Filter) (*Subscription, error)
}

// Filter selects events of one table, optionally by operation and by column equality
type Filter struct {
	Table  string
	Op     Op
	Column string
	Value  string
}

// Matches reports whether e passes the filter
func (f Filter) Matches(e Event) bool {
	if f.Table != "" && e.Table() != f.Table {
		return false
	}
	if f.Op != "" && e.Op() != f.Op {
		return false
	}
	if f.Column == "" {
		return true
	}
	v, ok := e.Field(f.Column)
	return ok && v == f.Value
}

// String renders filter in the column=eq.value form used by the change feed
func (f Filter) String() string {
	s := f.Table
	if f.Op != "" {
		s += ":" + string(f.Op)
	}
	if f.Column != "" {
		s += ":" + f.Column + "=eq." + f.Value
	}
	return s
}

// Subscription delivers filtered events until closed. Events is never closed; consumers select on Done
type Subscription struct {
	filter  Filter
	events  chan Event
	done    chan struct{}
	once    sync.Once
	onClose func()
}

// NewSubscription returns subscription with a buffer of size events; onClose runs once on Close
func NewSubscription(f Filter, size int, onClose func()) *Subscription {
	return &Subscription{
		filter:  f,
		events:  make(chan Event, size),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

func (s *Subscription) Filter() Filter { return s.filter }
func (s *Subscription) Events() <-chan Event { return s.events }
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Deliver hands e to the subscriber if it matches the filter. It blocks while the buffer is full
// and returns false once the subscription is closed
func (s *Subscription) Deliver(e Event) bool {
	if !s.filter.Matches(e) {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- e:
		return true
	case <-s.done:
		return false
	}
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// Hub fans events out to every open subscription
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	size   int
	closed bool
}

// NewHub returns Hub creating subscriptions with a buffer of size events
func NewHub(size int) *Hub {
	return &Hub{
		subs: make(map[*Subscription]struct{}),
		size: size,
	}
}

func (h *Hub) Subscribe(_ context.Context, f Filter) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrFeedClosed
	}

	var sub *Subscription
	sub = NewSubscription(f, h.size, func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
	})
	h.subs[sub] = struct{}{}

	return sub, nil
}

// Publish delivers e to matching subscriptions and returns how many accepted it
func (h *Hub) Publish(e Event) int {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	n := 0
	for _, s := range subs {
		if s.Deliver(e) {
			n++
		}
	}
	return n
}

// Dispatch parses a raw payload and publishes the resulting event
func (h *Hub) Dispatch(payload []byte) (int, error) {
	e, err := Parse(payload)
	if err != nil {
		return 0, err
	}
	return h.Publish(e), nil
}

// Len returns number of open subscriptions
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}

// Close closes every subscription and rejects new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}
