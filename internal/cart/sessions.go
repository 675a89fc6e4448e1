package cart

import (
	"context"
	"sync"
	"time"

	"github.com/safar/go-storefront/internal/models"
	"github.com/sirupsen/logrus"
)

// SubscribeFunc opens a change stream scoped to one user's cart rows.
type SubscribeFunc func(userID string) (<-chan models.ChangeEvent, func())

type entry struct {
	session     *Session
	unsubscribe func()
	lastUsed    time.Time
}

// Sessions keeps one Session per active user and closes those left idle.
type Sessions struct {
	backend   Backend
	catalog   *Catalog
	subscribe SubscribeFunc
	log       logrus.FieldLogger
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	loading map[string]chan struct{}
}

func NewSessions(backend Backend, catalog *Catalog, subscribe SubscribeFunc, log logrus.FieldLogger) *Sessions {
	return &Sessions{
		backend:   backend,
		catalog:   catalog,
		subscribe: subscribe,
		log:       log,
		now:       time.Now,
		entries:   make(map[string]*entry),
		loading:   make(map[string]chan struct{}),
	}
}

// Get returns the user's session, creating and loading it on first use. A
// session whose initial load fails is not kept.
func (s *Sessions) Get(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	for {
		s.mu.Lock()
		if e, ok := s.entries[userID]; ok {
			e.lastUsed = s.now()
			s.mu.Unlock()
			return e.session, nil
		}
		wait, busy := s.loading[userID]
		if !busy {
			s.loading[userID] = make(chan struct{})
		}
		s.mu.Unlock()

		if !busy {
			return s.open(ctx, userID)
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Sessions) open(ctx context.Context, userID string) (*Session, error) {
	session := NewSession(userID, s.backend, s.catalog, s.log)

	var (
		events      <-chan models.ChangeEvent
		unsubscribe = func() {}
	)
	if s.subscribe != nil {
		// subscribe before loading so no change between the two is missed
		events, unsubscribe = s.subscribe(userID)
	}

	err := session.Cart.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	done := s.loading[userID]
	delete(s.loading, userID)
	close(done)

	if err != nil {
		unsubscribe()
		return nil, err
	}

	if events != nil {
		session.Start(context.Background(), events)
	}
	s.entries[userID] = &entry{session: session, unsubscribe: unsubscribe, lastUsed: s.now()}
	s.log.WithField("user_id", userID).Debug("Cart session opened")
	return session, nil
}

// Sweep closes sessions unused for longer than maxIdle and reports how many.
func (s *Sessions) Sweep(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	var idle []*entry
	s.mu.Lock()
	for id, e := range s.entries {
		if e.lastUsed.Before(cutoff) && e.session.Cart.Status().InFlight == 0 {
			idle = append(idle, e)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, e := range idle {
		s.close(e)
	}
	return len(idle)
}

// Run sweeps idle sessions every interval and closes all sessions when ctx
// ends.
func (s *Sessions) Run(ctx context.Context, interval, maxIdle time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.CloseAll()
			return nil
		case <-ticker.C:
			if n := s.Sweep(maxIdle); n > 0 {
				s.log.WithField("closed", n).Debug("Idle cart sessions closed")
			}
		}
	}
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Sessions) CloseAll() {
	s.mu.Lock()
	all := s.entries
	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range all {
		s.close(e)
	}
}

func (s *Sessions) close(e *entry) {
	e.unsubscribe()
	e.session.Close()
}
