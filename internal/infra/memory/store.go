package memory

import (
	"context"
	"errors"
	"sync"

	"quiz-proctor/internal/domain"
)

// ErrOffline is returned by Store while it simulates an unreachable sink.
var ErrOffline = errors.New("persistence sink offline")

// Store is an in-memory persistence sink. SetOffline makes every call fail, which is how
// demos and tests exercise the offline buffer.
type Store struct {
	mu       sync.RWMutex
	offline  bool
	sessions map[string]domain.QuizSession
	answers  map[string]map[string]string
	writes   map[string]int
	activity []domain.ActivityEntry
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]domain.QuizSession),
		answers:  make(map[string]map[string]string),
		writes:   make(map[string]int),
	}
}

func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return ErrOffline
	}
	return nil
}

func (s *Store) SaveSession(_ context.Context, session domain.QuizSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return ErrOffline
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *Store) LoadSession(_ context.Context, sessionID string) (domain.QuizSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return domain.QuizSession{}, ErrOffline
	}
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.QuizSession{}, domain.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *Store) AppendActivityLog(_ context.Context, entry domain.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return ErrOffline
	}
	s.activity = append(s.activity, entry)
	return nil
}

func (s *Store) UpsertAnswer(_ context.Context, _ string, sessionID, questionID, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return ErrOffline
	}
	if s.answers[sessionID] == nil {
		s.answers[sessionID] = make(map[string]string)
	}
	s.answers[sessionID][questionID] = answer
	s.writes[sessionID+"/"+questionID]++
	return nil
}

// Answers returns a copy of the stored answers for a session.
func (s *Store) Answers(sessionID string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.answers[sessionID]))
	for k, v := range s.answers[sessionID] {
		out[k] = v
	}
	return out
}

// Writes counts upserts received for one (session, question) pair.
func (s *Store) Writes(sessionID, questionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes[sessionID+"/"+questionID]
}

func (s *Store) Activity() []domain.ActivityEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ActivityEntry(nil), s.activity...)
}

func (s *Store) Session(sessionID string) (domain.QuizSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	return session.Clone(), ok
}
