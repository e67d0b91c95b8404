package app

import (
	"context"
	"image"

	"quiz-proctor/internal/domain"
)

// GenerateRequest describes the question set a generator should produce.
type GenerateRequest struct {
	Topic        string
	Difficulty   string
	Subtopic     string
	Instructions string
	Count        int
}

// QuestionGenerator produces MCQ questions. Implementations must keep CorrectOption within Options.
type QuestionGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) ([]domain.Question, error)
}

// ActivitySink receives one entry per integrity event.
type ActivitySink interface {
	AppendActivityLog(ctx context.Context, entry domain.ActivityEntry) error
}

// AnswerSink accepts idempotent answer upserts.
type AnswerSink interface {
	UpsertAnswer(ctx context.Context, userID, sessionID, questionID, answer string) error
}

// Persistence is the external, possibly unreachable, system of record.
type Persistence interface {
	ActivitySink
	AnswerSink
	SaveSession(ctx context.Context, session domain.QuizSession) error
	LoadSession(ctx context.Context, sessionID string) (domain.QuizSession, error)
	Ping(ctx context.Context) error
}

// SnapshotStore keeps one record per active session for resume after reloads.
type SnapshotStore interface {
	Save(ctx context.Context, session domain.QuizSession) error
	Load(ctx context.Context, sessionID string) (domain.QuizSession, error)
	Delete(ctx context.Context, sessionID string) error
}

// AnswerBuffer holds answers that have not reached the persistence sink yet.
type AnswerBuffer interface {
	Put(ctx context.Context, userID, sessionID, questionID, answer string) error
	Sessions(ctx context.Context) ([]string, error)
	Answers(ctx context.Context, sessionID string) (domain.PendingAnswers, error)
	// Clear removes the given pairs only; answers overwritten since they were read survive.
	Clear(ctx context.Context, sessionID string, synced map[string]string) error
}

// Camera grants access to a frame stream or fails with domain.ErrCameraDenied / ErrCameraUnsupported.
type Camera interface {
	RequestStream(ctx context.Context, sessionID string) (FrameStream, error)
}

// FrameStream yields the most recent camera frame.
type FrameStream interface {
	Frame() (image.Image, error)
	Close() error
}

// Speaker reads text aloud on the client.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Cancel()
}
