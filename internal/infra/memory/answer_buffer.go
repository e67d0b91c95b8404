package memory

import (
	"context"
	"sort"
	"sync"

	"quiz-proctor/internal/domain"
)

// AnswerBuffer is a volatile app.AnswerBuffer for tests and single-process demos.
type AnswerBuffer struct {
	mu      sync.Mutex
	pending map[string]*domain.PendingAnswers
}

func NewAnswerBuffer() *AnswerBuffer {
	return &AnswerBuffer{pending: make(map[string]*domain.PendingAnswers)}
}

func (b *AnswerBuffer) Put(_ context.Context, userID, sessionID, questionID, answer string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[sessionID]
	if !ok {
		p = &domain.PendingAnswers{UserID: userID, SessionID: sessionID, Answers: make(map[string]string)}
		b.pending[sessionID] = p
	}
	p.Answers[questionID] = answer
	return nil
}

func (b *AnswerBuffer) Sessions(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *AnswerBuffer) Answers(_ context.Context, sessionID string) (domain.PendingAnswers, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[sessionID]
	if !ok {
		return domain.PendingAnswers{SessionID: sessionID, Answers: map[string]string{}}, nil
	}
	out := domain.PendingAnswers{UserID: p.UserID, SessionID: p.SessionID, Answers: make(map[string]string, len(p.Answers))}
	for k, v := range p.Answers {
		out.Answers[k] = v
	}
	return out, nil
}

func (b *AnswerBuffer) Clear(_ context.Context, sessionID string, synced map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[sessionID]
	if !ok {
		return nil
	}
	for qid, answer := range synced {
		if p.Answers[qid] == answer {
			delete(p.Answers, qid)
		}
	}
	if len(p.Answers) == 0 {
		delete(b.pending, sessionID)
	}
	return nil
}
