package app

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quiz-proctor/internal/domain"
	"quiz-proctor/internal/metrics"
)

const snapshotWriteTimeout = 3 * time.Second

// SessionMachine owns the authoritative QuizSession. All mutations are serialized
// through its mutex and every effective change is written to the snapshot store.
type SessionMachine struct {
	mu          sync.Mutex
	session     domain.QuizSession
	now         func() time.Time
	snapshots   SnapshotStore
	log         zerolog.Logger
	onComplete  []func(domain.QuizSession)
	subscribers map[chan domain.QuizSession]struct{}
}

func NewSessionMachine(session domain.QuizSession, snapshots SnapshotStore, log zerolog.Logger) *SessionMachine {
	return NewSessionMachineWithClock(session, snapshots, log, time.Now)
}

// NewSessionMachineWithClock allows deterministic timestamps in tests.
func NewSessionMachineWithClock(session domain.QuizSession, snapshots SnapshotStore, log zerolog.Logger, now func() time.Time) *SessionMachine {
	return &SessionMachine{
		session:     session.Clone(),
		now:         now,
		snapshots:   snapshots,
		log:         log,
		subscribers: make(map[chan domain.QuizSession]struct{}),
	}
}

// OnComplete registers a hook invoked once, outside the lock, with the sealed session.
func (m *SessionMachine) OnComplete(fn func(domain.QuizSession)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onComplete = append(m.onComplete, fn)
}

// Activate stamps StartedAt on first timed activation and moves the session to in_progress.
func (m *SessionMachine) Activate() (domain.QuizSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.Completed() {
		return m.session.Clone(), false
	}
	changed := false
	if m.session.HasTimeLimit() && m.session.StartedAt == nil {
		now := m.now()
		m.session.StartedAt = &now
		changed = true
	}
	if !m.session.Activated {
		m.session.Activated = true
		changed = true
	}
	if changed {
		m.commitLocked()
	}
	return m.session.Clone(), changed
}

// Answer overwrites the user's answer. Unknown questions and completed sessions report false.
func (m *SessionMachine) Answer(questionID, value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.Completed() {
		return false
	}
	for i := range m.session.Questions {
		if m.session.Questions[i].ID != questionID {
			continue
		}
		if m.session.Questions[i].UserAnswer == value {
			return true
		}
		m.session.Questions[i].UserAnswer = value
		m.commitLocked()
		return true
	}
	return false
}

func (m *SessionMachine) Next() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveLocked(m.session.CurrentQuestionIndex + 1)
}

func (m *SessionMachine) Previous() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveLocked(m.session.CurrentQuestionIndex - 1)
}

func (m *SessionMachine) NavigateTo(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveLocked(index)
}

func (m *SessionMachine) moveLocked(index int) bool {
	if m.session.Completed() || index < 0 || index >= len(m.session.Questions) {
		return false
	}
	if index == m.session.CurrentQuestionIndex {
		return true
	}
	m.session.CurrentQuestionIndex = index
	m.commitLocked()
	return true
}

// IncrementFlags raises the persisted cheating counter unless the session is sealed.
func (m *SessionMachine) IncrementFlags() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.Completed() {
		return false
	}
	m.session.CheatingFlagCount++
	m.commitLocked()
	return true
}

// Submit seals the session. Only the first call has any effect; later calls return the sealed
// snapshot with changed=false.
func (m *SessionMachine) Submit(reason domain.TerminationReason) (domain.QuizSession, bool) {
	m.mu.Lock()
	if m.session.Completed() {
		sealed := m.session.Clone()
		m.mu.Unlock()
		return sealed, false
	}

	now := m.now()
	score := 0
	for i := range m.session.Questions {
		q := &m.session.Questions[i]
		correct := q.UserAnswer != "" && q.UserAnswer == q.CorrectOption
		q.IsCorrect = &correct
		if correct {
			score++
		}
	}
	m.session.Score = score
	m.session.CompletedAt = &now
	m.session.TerminationReason = reason
	if m.session.StartedAt != nil {
		taken := int(now.Sub(*m.session.StartedAt) / time.Second)
		if taken < 0 {
			taken = 0
		}
		m.session.TotalTimeTakenSeconds = &taken
	}
	m.commitLocked()

	sealed := m.session.Clone()
	hooks := append([]func(domain.QuizSession){}, m.onComplete...)
	m.mu.Unlock()

	metrics.TerminationsTotal.WithLabelValues(string(reason)).Inc()
	m.log.Info().
		Str("reason", string(reason)).
		Int("score", sealed.Score).
		Int("questions", len(sealed.Questions)).
		Msg("session completed")

	for _, fn := range hooks {
		fn(sealed.Clone())
	}
	return sealed, true
}

// Snapshot returns a deep copy of the current session.
func (m *SessionMachine) Snapshot() domain.QuizSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

// Subscribe returns a channel receiving a snapshot after each change.
// The caller must invoke the returned cancel function to avoid leaks.
func (m *SessionMachine) Subscribe() (<-chan domain.QuizSession, func()) {
	ch := make(chan domain.QuizSession, 8)

	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	// the channel is empty here, so the send cannot block
	ch <- m.session.Clone()
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if _, ok := m.subscribers[ch]; ok {
			delete(m.subscribers, ch)
			close(ch)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

// commitLocked writes the snapshot synchronously and fans the change out to subscribers.
func (m *SessionMachine) commitLocked() {
	if m.snapshots != nil {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotWriteTimeout)
		if err := m.snapshots.Save(ctx, m.session); err != nil {
			m.log.Warn().Err(err).Msg("snapshot write failed")
		}
		cancel()
	}

	snap := m.session.Clone()
	for ch := range m.subscribers {
		select {
		case ch <- snap:
		default:
			// slow reader: drop the oldest pending snapshot, the newest one supersedes it
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

// QuestionKey identifies the active question; it changes on every navigation, revisits included.
func QuestionKey(s domain.QuizSession) string {
	q, ok := s.CurrentQuestion()
	if !ok {
		return ""
	}
	return q.ID + "#" + strconv.Itoa(s.CurrentQuestionIndex)
}
