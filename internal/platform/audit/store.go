package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store appends events to a hash chain and lists them back.
type Store interface {
	Append(ctx context.Context, e Event) (Event, error)
	List(ctx context.Context, f Filter) ([]Event, error)
}

type Filter struct {
	ObjectType string
	ObjectID   string
	Limit      int
}

func (f Filter) matches(e Event) bool {
	if f.ObjectType != "" && e.ObjectType != f.ObjectType {
		return false
	}
	if f.ObjectID != "" && e.ObjectID != f.ObjectID {
		return false
	}
	return true
}

func prepare(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	e.RecordedAt = e.RecordedAt.UTC().Truncate(time.Microsecond)
	if len(e.Before) == 0 {
		e.Before = []byte(`{}`)
	}
	if len(e.After) == 0 {
		e.After = []byte(`{}`)
	}
	return e
}

type InMemoryStore struct {
	mu     sync.Mutex
	events []Event
	last   string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{last: Genesis}
}

func (s *InMemoryStore) Append(_ context.Context, e Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e = prepare(e)
	if len(s.events) > 0 {
		prev := s.events[len(s.events)-1]
		if ComputeHash(prev.HashPrev, prev) != prev.HashCurr {
			return Event{}, ErrCorruptChain
		}
	}
	e.HashPrev = s.last
	e.HashCurr = ComputeHash(s.last, e)
	s.events = append(s.events, e)
	s.last = e.HashCurr
	return e, nil
}

// List returns matching events newest first.
func (s *InMemoryStore) List(_ context.Context, f Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		if !f.matches(s.events[i]) {
			continue
		}
		out = append(out, s.events[i])
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Events returns the full chain in append order.
func (s *InMemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *InMemoryStore) Walk(ctx context.Context, fn func(Event) error) error {
	for _, e := range s.Events() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}
