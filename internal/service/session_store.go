package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/set-night/dermassist/internal/domain"
)

type sessionEntry struct {
	sess *domain.Session
	// turn holds a token while a follow-up turn is in flight.
	turn chan struct{}
}

func (e *sessionEntry) busy() bool {
	return len(e.turn) > 0
}

// SessionStore keeps consultations in memory, keyed by a random UUID.
// The store mutex only guards the map and record fields; turns on one
// session are serialized by Acquire.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*sessionEntry
	ttl      time.Duration
	max      int
	now      func() time.Time
}

func NewSessionStore(ttl time.Duration, maxSessions int) *SessionStore {
	return &SessionStore{
		sessions: make(map[domain.SessionID]*sessionEntry),
		ttl:      ttl,
		max:      maxSessions,
		now:      time.Now,
	}
}

// Create stores a new session holding img and its initial analysis.
func (s *SessionStore) Create(img domain.Image, detail, analysis string, usage domain.Usage) *domain.Session {
	now := s.now()
	sess := &domain.Session{
		ID:              domain.SessionID(uuid.NewString()),
		InitialAnalysis: analysis,
		Image:           img,
		DetailLevel:     detail,
		Usage:           usage,
		CreatedAt:       now,
		LastActive:      now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.max > 0 && len(s.sessions) >= s.max {
		s.evictOldestLocked()
	}
	s.sessions[sess.ID] = &sessionEntry{sess: sess, turn: make(chan struct{}, 1)}
	return sess.Clone()
}

func (s *SessionStore) Get(id domain.SessionID) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return e.sess.Clone(), nil
}

func (s *SessionStore) SetInitialAnalysis(id domain.SessionID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	e.sess.InitialAnalysis = text
	e.sess.LastActive = s.now()
	return nil
}

// AppendTurn adds turn to the history of id and returns it as stored,
// stamped with the store clock when CreatedAt is unset.
func (s *SessionStore) AppendTurn(id domain.SessionID, turn domain.Turn) (domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return domain.Turn{}, domain.ErrSessionNotFound
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}
	e.sess.ChatHistory = append(e.sess.ChatHistory, turn)
	e.sess.Usage = e.sess.Usage.Add(turn.Usage)
	e.sess.LastActive = s.now()
	return turn, nil
}

// Acquire blocks until the caller owns the turn on id or ctx is done.
// The returned func must be called exactly once.
func (s *SessionStore) Acquire(ctx context.Context, id domain.SessionID) (func(), error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	select {
	case e.turn <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	release := func() { <-e.turn }

	// The session may have been closed while we waited.
	s.mu.RLock()
	current, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || current != e {
		release()
		return nil, domain.ErrSessionNotFound
	}
	return release, nil
}

func (s *SessionStore) Delete(id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep drops sessions idle for longer than the TTL and returns how many were removed.
// Sessions with a turn in flight are kept.
func (s *SessionStore) Sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.sessions {
		if e.busy() {
			continue
		}
		if now.Sub(e.sess.LastActive) > s.ttl {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (s *SessionStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				slog.Info("expired sessions removed", "count", n, "remaining", s.Len())
			}
		}
	}
}

func (s *SessionStore) evictOldestLocked() {
	var (
		oldestIdle, oldest     domain.SessionID
		oldestIdleAt, oldestAt time.Time
		haveIdle, haveAny      bool
	)
	for id, e := range s.sessions {
		at := e.sess.LastActive
		if !haveAny || at.Before(oldestAt) {
			oldest, oldestAt, haveAny = id, at, true
		}
		if !e.busy() && (!haveIdle || at.Before(oldestIdleAt)) {
			oldestIdle, oldestIdleAt, haveIdle = id, at, true
		}
	}

	victim := oldest
	if haveIdle {
		victim = oldestIdle
	}
	if haveAny {
		delete(s.sessions, victim)
		slog.Warn("session capacity reached, evicting", "session_id", victim, "max_sessions", s.max)
	}
}
