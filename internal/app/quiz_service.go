package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quiz-proctor/internal/domain"
)

const finalizeTimeout = 10 * time.Second

// Dependencies wires the service to its ports. Generator, Snapshots and Persistence are required.
type Dependencies struct {
	Generator    QuestionGenerator
	Persistence  Persistence
	Snapshots    SnapshotStore
	Buffer       AnswerBuffer
	Connectivity *ConnectivityMonitor
	Backlog      *ActivityBacklog
	// Activity overrides Persistence as the activity log sink (e.g. a publishing tee).
	Activity     ActivitySink
	Proctoring   MonitorConfig
	FlagLimit    int
	TickInterval time.Duration
	DefaultCount int
	Clock        func() time.Time
	Logger       zerolog.Logger
}

// CreateRequest describes a new quiz attempt.
type CreateRequest struct {
	UserID           string `json:"userId"`
	Topic            string `json:"topic"`
	Difficulty       string `json:"difficulty"`
	Subtopic         string `json:"subtopic,omitempty"`
	Instructions     string `json:"instructions,omitempty"`
	Count            int    `json:"count,omitempty"`
	TimeLimitSeconds int    `json:"timeLimitSeconds,omitempty"`
}

// OpenOptions carries the client capabilities an attempt needs.
type OpenOptions struct {
	Camera  Camera
	Speaker Speaker
}

// NavAction names a navigation request.
type NavAction string

const (
	NavNext     NavAction = "next"
	NavPrevious NavAction = "previous"
	NavGoto     NavAction = "goto"
)

// QuizService contains the quiz use cases and owns the live attempts.
type QuizService struct {
	deps Dependencies
	now  func() time.Time
	log  zerolog.Logger

	mu       sync.Mutex
	attempts map[string]*Attempt
}

func NewQuizService(deps Dependencies) *QuizService {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Backlog == nil {
		deps.Backlog = NewActivityBacklog()
	}
	if deps.Activity == nil {
		deps.Activity = deps.Persistence
	}
	if deps.Connectivity == nil {
		deps.Connectivity = NewConnectivityMonitor(deps.Persistence, 0, deps.Logger)
	}
	if deps.DefaultCount <= 0 {
		deps.DefaultCount = 10
	}
	return &QuizService{
		deps:     deps,
		now:      deps.Clock,
		log:      deps.Logger.With().Str("component", "quiz_service").Logger(),
		attempts: make(map[string]*Attempt),
	}
}

// Create generates the question set and stores a new session in state created.
func (s *QuizService) Create(ctx context.Context, req CreateRequest) (domain.QuizSession, error) {
	count := req.Count
	if count <= 0 {
		count = s.deps.DefaultCount
	}
	questions, err := s.deps.Generator.Generate(ctx, GenerateRequest{
		Topic:        req.Topic,
		Difficulty:   req.Difficulty,
		Subtopic:     req.Subtopic,
		Instructions: req.Instructions,
		Count:        count,
	})
	if err != nil {
		return domain.QuizSession{}, fmt.Errorf("generate questions: %w", err)
	}
	if err := ValidateQuestions(questions); err != nil {
		return domain.QuizSession{}, err
	}

	session := domain.QuizSession{
		ID:                    uuid.NewString(),
		UserID:                req.UserID,
		Topic:                 req.Topic,
		Difficulty:            req.Difficulty,
		Subtopic:              req.Subtopic,
		Questions:             make([]domain.Question, len(questions)),
		CreatedAt:             s.now(),
		TotalTimeLimitSeconds: req.TimeLimitSeconds,
	}
	for i, q := range questions {
		q.Options = append([]string(nil), q.Options...)
		q.UserAnswer = ""
		q.IsCorrect = nil
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		session.Questions[i] = q
	}

	if err := s.deps.Snapshots.Save(ctx, session); err != nil {
		return domain.QuizSession{}, fmt.Errorf("store session snapshot: %w", err)
	}
	s.log.Info().Str("session_id", session.ID).Str("user_id", session.UserID).Int("questions", len(session.Questions)).Msg("session created")
	return session, nil
}

// ValidateQuestions enforces a non-empty set where every correct option is one of the options.
func ValidateQuestions(questions []domain.Question) error {
	if len(questions) == 0 {
		return domain.ErrEmptyQuestionSet
	}
	for i, q := range questions {
		if !q.HasOption(q.CorrectOption) {
			return fmt.Errorf("question %d: %w", i, domain.ErrInvalidQuestionSet)
		}
	}
	return nil
}

// Open loads the session once (snapshot first, then the persistence sink) and mounts an attempt.
// Reopening a live session replaces its attempt, recomputing timers from their anchors.
// On a camera failure the attempt is discarded and the wrapped capability error returned.
func (s *QuizService) Open(ctx context.Context, sessionID string, opts OpenOptions) (*Attempt, error) {
	s.closeAttempt(sessionID)

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	log := s.deps.Logger.With().Str("component", "attempt").Str("session_id", session.ID).Logger()
	machine := NewSessionMachineWithClock(session, s.deps.Snapshots, log, s.now)

	attempt := newAttempt(machine, NewNarrator(opts.Speaker, log), attemptConfig{
		userID:       session.UserID,
		flagLimit:    s.deps.FlagLimit,
		tickInterval: s.deps.TickInterval,
		monitor:      s.deps.Proctoring,
		now:          s.now,
		activity:     s.deps.Activity,
		backlog:      s.deps.Backlog,
	}, log)
	// after the attempt's own hook so teardown is not delayed by the sink
	machine.OnComplete(s.finalize)

	if err := attempt.Mount(ctx, opts.Camera); err != nil {
		attempt.Close()
		return nil, err
	}

	s.mu.Lock()
	s.attempts[sessionID] = attempt
	s.mu.Unlock()
	return attempt, nil
}

func (s *QuizService) load(ctx context.Context, sessionID string) (domain.QuizSession, error) {
	session, err := s.deps.Snapshots.Load(ctx, sessionID)
	if err == nil {
		if session.Completed() {
			// sealed but never acknowledged by the sink
			s.finalize(session)
		}
		return session, nil
	}
	if !errors.Is(err, domain.ErrSessionNotFound) {
		return domain.QuizSession{}, fmt.Errorf("load snapshot: %w", err)
	}

	session, err = s.deps.Persistence.LoadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.QuizSession{}, err
		}
		return domain.QuizSession{}, fmt.Errorf("load session: %w", err)
	}
	return session, nil
}

// finalize hands the sealed session to the sink and drops the active snapshot. If the sink
// is unreachable the sealed snapshot stays behind and the next Open retries.
func (s *QuizService) finalize(sealed domain.QuizSession) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	log := s.log.With().Str("session_id", sealed.ID).Logger()
	if err := s.deps.Persistence.SaveSession(ctx, sealed); err != nil {
		s.deps.Connectivity.Set(false)
		log.Warn().Err(err).Msg("saving completed session failed, keeping snapshot")
		return
	}
	if err := s.deps.Snapshots.Delete(ctx, sealed.ID); err != nil {
		log.Warn().Err(err).Msg("delete snapshot failed")
	}
}

func (s *QuizService) attempt(sessionID string) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return a, nil
}

// Answer records the user's answer. It is upserted directly while the sink is reachable and
// buffered otherwise (or when the upsert fails).
func (s *QuizService) Answer(ctx context.Context, sessionID, questionID, value string) (bool, error) {
	a, err := s.attempt(sessionID)
	if err != nil {
		return false, err
	}
	if !a.Answer(questionID, value) {
		return false, nil
	}
	userID := a.cfg.userID

	if s.deps.Connectivity.Online() {
		err := s.deps.Persistence.UpsertAnswer(ctx, userID, sessionID, questionID, value)
		if err == nil {
			s.dropBuffered(ctx, sessionID, questionID)
			return true, nil
		}
		s.deps.Connectivity.Set(false)
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("answer upsert failed, buffering")
		a.publish(Update{Kind: UpdateNotice, Notice: OfflineNotice()})
	}
	if s.deps.Buffer == nil {
		return true, nil
	}
	if err := s.deps.Buffer.Put(ctx, userID, sessionID, questionID, value); err != nil {
		return true, fmt.Errorf("buffer answer: %w", err)
	}
	return true, nil
}

// dropBuffered discards an offline answer superseded by a newer direct upsert, so a later sync
// cannot replay it over the newer value.
func (s *QuizService) dropBuffered(ctx context.Context, sessionID, questionID string) {
	if s.deps.Buffer == nil {
		return
	}
	pending, err := s.deps.Buffer.Answers(ctx, sessionID)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("read buffered answers failed")
		return
	}
	stale, ok := pending.Answers[questionID]
	if !ok {
		return
	}
	if err := s.deps.Buffer.Clear(ctx, sessionID, map[string]string{questionID: stale}); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Str("question_id", questionID).Msg("drop superseded buffered answer failed")
	}
}

func (s *QuizService) Navigate(_ context.Context, sessionID string, action NavAction, index int) (bool, error) {
	a, err := s.attempt(sessionID)
	if err != nil {
		return false, err
	}
	switch action {
	case NavNext:
		return a.Next(), nil
	case NavPrevious:
		return a.Previous(), nil
	case NavGoto:
		return a.NavigateTo(index), nil
	default:
		return false, fmt.Errorf("unknown navigation action %q", action)
	}
}

// Submit completes the session. Submitting twice returns the already sealed session.
func (s *QuizService) Submit(_ context.Context, sessionID string) (domain.QuizSession, error) {
	a, err := s.attempt(sessionID)
	if err != nil {
		return domain.QuizSession{}, err
	}
	sealed, _ := a.Submit()
	return sealed, nil
}

// Signal forwards a raw proctoring signal; the result tells the client to suppress the action.
func (s *QuizService) Signal(_ context.Context, sessionID string, kind domain.SignalKind) (bool, error) {
	a, err := s.attempt(sessionID)
	if err != nil {
		return false, err
	}
	return a.Signal(kind), nil
}

func (s *QuizService) ReadAloud(ctx context.Context, sessionID string) error {
	a, err := s.attempt(sessionID)
	if err != nil {
		return err
	}
	return a.ReadAloud(ctx)
}

func (s *QuizService) Snapshot(_ context.Context, sessionID string) (domain.QuizSession, error) {
	a, err := s.attempt(sessionID)
	if err != nil {
		return domain.QuizSession{}, err
	}
	return a.Machine().Snapshot(), nil
}

// Close detaches the live attempt for a session, leaving its snapshot for a later resume.
func (s *QuizService) Close(sessionID string) {
	s.closeAttempt(sessionID)
}

// CloseAttempt detaches a only if it is still the live attempt for its session.
func (s *QuizService) CloseAttempt(a *Attempt) {
	s.mu.Lock()
	if cur, ok := s.attempts[a.ID()]; ok && cur == a {
		delete(s.attempts, a.ID())
	}
	s.mu.Unlock()
	a.Close()
}

func (s *QuizService) closeAttempt(sessionID string) {
	s.mu.Lock()
	a, ok := s.attempts[sessionID]
	delete(s.attempts, sessionID)
	s.mu.Unlock()
	if ok {
		a.Close()
	}
}

// Shutdown closes every live attempt.
func (s *QuizService) Shutdown() {
	s.mu.Lock()
	attempts := make([]*Attempt, 0, len(s.attempts))
	for id, a := range s.attempts {
		attempts = append(attempts, a)
		delete(s.attempts, id)
	}
	s.mu.Unlock()
	for _, a := range attempts {
		a.Close()
	}
}
