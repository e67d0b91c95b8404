package domain

import "time"

// TerminationReason records why a session became terminal.
type TerminationReason string

const (
	ReasonCompleted TerminationReason = "completed"
	ReasonTimeUp    TerminationReason = "time_up"
	ReasonCheating  TerminationReason = "cheating"
)

// State is the derived lifecycle position of a quiz session.
type State string

const (
	StateCreated    State = "created"
	StateStarted    State = "started"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
)

// MinPerQuestionSeconds is the floor applied to the derived per-question budget.
const MinPerQuestionSeconds = 10

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectOption string   `json:"correctOption"`
	UserAnswer    string   `json:"userAnswer,omitempty"`
	IsCorrect     *bool    `json:"isCorrect,omitempty"`
}

// HasOption reports whether value is one of the question's options.
func (q Question) HasOption(value string) bool {
	for _, opt := range q.Options {
		if opt == value {
			return true
		}
	}
	return false
}

// QuizSession is one quiz attempt from creation to completion.
type QuizSession struct {
	ID                    string            `json:"id"`
	UserID                string            `json:"userId"`
	Topic                 string            `json:"topic"`
	Difficulty            string            `json:"difficulty"`
	Subtopic              string            `json:"subtopic,omitempty"`
	Questions             []Question        `json:"questions"`
	CurrentQuestionIndex  int               `json:"currentQuestionIndex"`
	CreatedAt             time.Time         `json:"createdAt"`
	StartedAt             *time.Time        `json:"startedAt,omitempty"`
	TotalTimeLimitSeconds int               `json:"totalTimeLimitSeconds,omitempty"`
	Activated             bool              `json:"activated"`
	CompletedAt           *time.Time        `json:"completedAt,omitempty"`
	TerminationReason     TerminationReason `json:"terminationReason,omitempty"`
	CheatingFlagCount     int               `json:"cheatingFlagCount"`
	Score                 int               `json:"score"`
	TotalTimeTakenSeconds *int              `json:"totalTimeTakenSeconds,omitempty"`
}

// HasTimeLimit reports whether the session is timed.
func (s QuizSession) HasTimeLimit() bool {
	return s.TotalTimeLimitSeconds > 0
}

// PerQuestionTimeSeconds is max(10, floor(limit/N)) for timed sessions, 0 otherwise.
func (s QuizSession) PerQuestionTimeSeconds() int {
	if !s.HasTimeLimit() || len(s.Questions) == 0 {
		return 0
	}
	per := s.TotalTimeLimitSeconds / len(s.Questions)
	if per < MinPerQuestionSeconds {
		return MinPerQuestionSeconds
	}
	return per
}

// Completed reports whether the session reached its terminal state.
func (s QuizSession) Completed() bool {
	return s.CompletedAt != nil
}

// State derives the lifecycle position from the recorded timestamps.
func (s QuizSession) State() State {
	switch {
	case s.CompletedAt != nil:
		return StateCompleted
	case s.Activated:
		return StateInProgress
	case s.StartedAt != nil:
		return StateStarted
	default:
		return StateCreated
	}
}

// CurrentQuestion returns the active question, if any.
func (s QuizSession) CurrentQuestion() (Question, bool) {
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[s.CurrentQuestionIndex], true
}

// AnsweredCount returns how many questions carry a user answer.
func (s QuizSession) AnsweredCount() int {
	n := 0
	for _, q := range s.Questions {
		if q.UserAnswer != "" {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so callers never share the live record.
func (s QuizSession) Clone() QuizSession {
	out := s
	if s.Questions != nil {
		out.Questions = make([]Question, len(s.Questions))
		for i, q := range s.Questions {
			cp := q
			cp.Options = append([]string(nil), q.Options...)
			if q.IsCorrect != nil {
				v := *q.IsCorrect
				cp.IsCorrect = &v
			}
			out.Questions[i] = cp
		}
	}
	out.StartedAt = cloneTime(s.StartedAt)
	out.CompletedAt = cloneTime(s.CompletedAt)
	if s.TotalTimeTakenSeconds != nil {
		v := *s.TotalTimeTakenSeconds
		out.TotalTimeTakenSeconds = &v
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// EventKind enumerates integrity violations.
type EventKind string

const (
	EventTabSwitch      EventKind = "tab_switch"
	EventClipboardCopy  EventKind = "clipboard_copy"
	EventClipboardPaste EventKind = "clipboard_paste"
	EventClipboardCut   EventKind = "clipboard_cut"
	EventContextMenu    EventKind = "context_menu"
	EventMotionDetected EventKind = "motion_detected"
)

// IntegrityEvent is one recorded violation. Never mutated once emitted.
type IntegrityEvent struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// SignalKind enumerates raw client signals fed to the proctoring monitor.
type SignalKind string

const (
	SignalVisibilityHidden  SignalKind = "visibility_hidden"
	SignalVisibilityVisible SignalKind = "visibility_visible"
	SignalCopy              SignalKind = "copy"
	SignalCut               SignalKind = "cut"
	SignalPaste             SignalKind = "paste"
	SignalContextMenu       SignalKind = "context_menu"
	SignalFullscreenExit    SignalKind = "fullscreen_exit"
	SignalFullscreenEnter   SignalKind = "fullscreen_enter"
)

// ActivityEntry is one line of the external activity log.
type ActivityEntry struct {
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	Kind      EventKind `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// PendingAnswers is the offline buffer content for one session.
type PendingAnswers struct {
	UserID    string            `json:"userId"`
	SessionID string            `json:"sessionId"`
	Answers   map[string]string `json:"answers"`
}
