package memory

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-proctor/internal/app"
	"quiz-proctor/internal/domain"
)

// CachedGenerator caches generated question sets with TTL so repeated requests for the same
// topic do not hit the generator again.
type CachedGenerator struct {
	next  app.QuestionGenerator
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedSet
}

type cachedSet struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewCachedGenerator(next app.QuestionGenerator, ttl time.Duration) *CachedGenerator {
	return &CachedGenerator{
		next:  next,
		ttl:   ttl,
		clock: time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		cache: make(map[string]cachedSet),
	}
}

func (g *CachedGenerator) Generate(ctx context.Context, req app.GenerateRequest) ([]domain.Question, error) {
	key := CacheKey(req)
	if questions, ok := g.lookup(key); ok {
		return questions, nil
	}

	result, err, _ := g.sf.Do(key, func() (interface{}, error) {
		if questions, ok := g.lookup(key); ok {
			return questions, nil
		}
		questions, err := g.next.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		g.mu.Lock()
		g.cache[key] = cachedSet{
			questions: copyQuestions(questions),
			expiresAt: g.clock().Add(g.ttlWithJitter()),
		}
		g.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return copyQuestions(result.([]domain.Question)), nil
}

func (g *CachedGenerator) lookup(key string) ([]domain.Question, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entry, ok := g.cache[key]
	if !ok || !entry.expiresAt.After(g.clock()) {
		return nil, false
	}
	return copyQuestions(entry.questions), true
}

func (g *CachedGenerator) ttlWithJitter() time.Duration {
	if g.ttl <= 0 {
		return 0
	}
	// up to 10% jitter spreads expirations
	jitterMax := int64(g.ttl) / 10
	return g.ttl + time.Duration(g.rnd.Int63n(jitterMax+1))
}

// CacheKey identifies a question set request.
func CacheKey(req app.GenerateRequest) string {
	return strings.ToLower(fmt.Sprintf("%s|%s|%s|%d|%s", req.Topic, req.Difficulty, req.Subtopic, req.Count, req.Instructions))
}

func copyQuestions(in []domain.Question) []domain.Question {
	return domain.QuizSession{Questions: in}.Clone().Questions
}

// StaticGenerator serves a fixed question bank (useful for tests/demos).
type StaticGenerator struct {
	bank []domain.Question
}

func NewStaticGenerator(bank []domain.Question) *StaticGenerator {
	return &StaticGenerator{bank: bank}
}

// Generate returns the first Count questions of the bank, the whole bank if Count is 0.
func (g *StaticGenerator) Generate(_ context.Context, req app.GenerateRequest) ([]domain.Question, error) {
	if len(g.bank) == 0 {
		return nil, domain.ErrEmptyQuestionSet
	}
	n := req.Count
	if n <= 0 || n > len(g.bank) {
		n = len(g.bank)
	}
	return copyQuestions(g.bank[:n]), nil
}

// SampleQuestions is a small arithmetic bank used when no generator is configured.
func SampleQuestions() []domain.Question {
	return []domain.Question{
		{ID: "q1", Text: "What is 2 + 2?", Options: []string{"3", "4", "5", "22"}, CorrectOption: "4"},
		{ID: "q2", Text: "What is 3 x 3?", Options: []string{"6", "9", "12", "33"}, CorrectOption: "9"},
		{ID: "q3", Text: "What is 10 - 7?", Options: []string{"2", "3", "4", "17"}, CorrectOption: "3"},
		{ID: "q4", Text: "What is 12 / 4?", Options: []string{"2", "3", "4", "6"}, CorrectOption: "3"},
		{ID: "q5", Text: "What is 5 + 8?", Options: []string{"12", "13", "14", "58"}, CorrectOption: "13"},
	}
}
