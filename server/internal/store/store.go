package store

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stuckorders/stuckorders/pkg/compute"
	"github.com/stuckorders/stuckorders/pkg/types"
)

// ErrNotFound is returned for unknown dataset or session IDs.
var ErrNotFound = errors.New("store: not found")

// Dataset is an ingested table. Table must be treated as read-only.
type Dataset struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Table     *types.Table
}

// Params are the per-session analysis parameters.
type Params struct {
	// Predicate is nil until the client narrows the filter; nil means every
	// observed value.
	Predicate      *compute.Predicate `json:"predicate"`
	ChurnThreshold int                `json:"churn_threshold"`
}

func (p Params) clone() Params {
	if p.Predicate != nil {
		c := p.Predicate.Clone()
		p.Predicate = &c
	}
	return p
}

// Session binds a client to a dataset and its own parameters.
type Session struct {
	ID         string
	DatasetID  string
	Params     Params
	CreatedAt  time.Time
	LastAccess time.Time

	// Version increments on every parameter update.
	Version int
}

// Store is a thread-safe in-memory dataset and session store. A background
// goroutine (Run) evicts sessions idle for longer than the TTL.
type Store struct {
	mu       sync.RWMutex
	datasets map[string]*Dataset
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time // injectable for deterministic tests
	onEvict  func(id string)
}

// New creates a Store with the given session TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		datasets: make(map[string]*Dataset),
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// AddDataset stores t under a new ID. Callers must not modify t afterwards.
func (s *Store) AddDataset(name string, t *types.Table) Dataset {
	d := &Dataset{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: s.now().UTC(),
		Table:     t,
	}
	s.mu.Lock()
	s.datasets[d.ID] = d
	s.mu.Unlock()
	return *d
}

// Dataset returns the dataset with the given ID.
func (s *Store) Dataset(id string) (Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.datasets[id]
	if !ok {
		return Dataset{}, ErrNotFound
	}
	return *d, nil
}

// Datasets returns every dataset, oldest first.
func (s *Store) Datasets() []Dataset {
	s.mu.RLock()
	out := make([]Dataset, 0, len(s.datasets))
	for _, d := range s.datasets {
		out = append(out, *d)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CreateSession opens a session on datasetID with a copy of p.
func (s *Store) CreateSession(datasetID string, p Params) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[datasetID]; !ok {
		return Session{}, ErrNotFound
	}
	now := s.now().UTC()
	sess := &Session{
		ID:         uuid.NewString(),
		DatasetID:  datasetID,
		Params:     p.clone(),
		CreatedAt:  now,
		LastAccess: now,
		Version:    1,
	}
	s.sessions[sess.ID] = sess
	return sess.copy(), nil
}

// Session returns the session with the given ID and refreshes its TTL.
func (s *Store) Session(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	sess.LastAccess = s.now().UTC()
	return sess.copy(), nil
}

// UpdateSession replaces the parameters of session id with a copy of p.
func (s *Store) UpdateSession(id string, p Params) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	sess.Params = p.clone()
	sess.LastAccess = s.now().UTC()
	sess.Version++
	return sess.copy(), nil
}

// DeleteSession removes session id.
func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

// Sessions returns every live session without refreshing their TTL.
func (s *Store) Sessions() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.copy())
	}
	return out
}

// Counts returns the number of datasets and sessions currently held.
func (s *Store) Counts() (datasets, sessions int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.datasets), len(s.sessions)
}

// OnEvict registers fn to be called with the ID of every evicted session.
// Call it before Run.
func (s *Store) OnEvict(fn func(id string)) { s.onEvict = fn }

// Evict removes sessions whose LastAccess is older than now minus TTL.
// It returns the number of sessions removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	cutoff := now.Add(-s.ttl)
	var removed []string
	for id, sess := range s.sessions {
		if !sess.LastAccess.After(cutoff) {
			delete(s.sessions, id)
			removed = append(removed, id)
		}
	}
	s.mu.Unlock()

	if s.onEvict != nil {
		for _, id := range removed {
			s.onEvict(id)
		}
	}
	return len(removed)
}

// Run starts the background eviction loop, ticking at half the TTL
// (minimum 1 second). Run blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := max(s.ttl/2, time.Second)
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted idle sessions", "count", n)
			}
		}
	}
}

func (sess *Session) copy() Session {
	c := *sess
	c.Params = sess.Params.clone()
	return c
}
