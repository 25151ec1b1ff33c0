// Package memory is a process-local Store. Leads live in an immutable
// snapshot that ReplaceAll swaps atomically.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/palantir/lead-enrichment-pipeline/internal/lead"
	"github.com/palantir/lead-enrichment-pipeline/internal/store"
)

type snapshot struct {
	leads []lead.Lead
}

// Store is safe for concurrent use.
type Store struct {
	leads  atomic.Pointer[snapshot]
	nextID atomic.Int64
	closed atomic.Bool
	now    func() time.Time

	mu          sync.RWMutex
	events      []lead.Event
	nextEventID int64
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.leads.Store(&snapshot{})
	return s
}

func (s *Store) ReplaceAll(ctx context.Context, leads []lead.Lead) error {
	if err := s.check(ctx, "replace leads"); err != nil {
		return err
	}
	createdAt := s.now().UTC()
	next := &snapshot{leads: make([]lead.Lead, len(leads))}
	for i, l := range leads {
		l = l.Clone()
		l.ID = s.nextID.Add(1)
		l.CreatedAt = createdAt
		if l.EnrichmentStatus == "" {
			l.EnrichmentStatus = l.DeriveStatus()
		}
		next.leads[i] = l
	}
	s.leads.Store(next)
	return nil
}

func (s *Store) Query(ctx context.Context, f store.Filter) ([]lead.Lead, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := s.check(ctx, "query leads"); err != nil {
		return nil, err
	}
	snap := s.leads.Load()
	out := make([]lead.Lead, 0)
	for _, l := range snap.leads {
		if f.Matches(l) {
			out = append(out, l.Clone())
		}
	}
	return out, nil
}

func (s *Store) AppendEvent(ctx context.Context, e lead.Event) (lead.Event, error) {
	if err := s.check(ctx, "append event"); err != nil {
		return lead.Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	e.ID = s.nextEventID
	e.OccurredAt = s.now().UTC()
	e.Metadata = e.Metadata.Clone()
	s.events = append(s.events, e)
	stored := e
	stored.Metadata = e.Metadata.Clone()
	return stored, nil
}

func (s *Store) ListEvents(ctx context.Context) ([]lead.Event, error) {
	if err := s.check(ctx, "list events"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]lead.Event, len(s.events))
	for i, e := range s.events {
		e.Metadata = e.Metadata.Clone()
		out[i] = e
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.check(ctx, "ping")
}

func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) check(ctx context.Context, op string) error {
	if s.closed.Load() {
		return store.Wrap(op, store.ErrClosed)
	}
	return store.Wrap(op, ctx.Err())
}
