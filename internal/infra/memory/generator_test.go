package memory

import (
	"context"
	"testing"
	"time"

	"quiz-proctor/internal/app"
	"quiz-proctor/internal/domain"
)

func TestCachedGeneratorCaches(t *testing.T) {
	gen := &countingGenerator{QuestionGenerator: NewStaticGenerator(SampleQuestions())}
	cached := NewCachedGenerator(gen, time.Minute)
	req := app.GenerateRequest{Topic: "math", Difficulty: "easy", Count: 3}

	first, err := cached.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(first))
	}
	if gen.calls != 1 {
		t.Fatalf("expected generator once, got %d", gen.calls)
	}

	first[0].Options[0] = "mutated"
	second, err := cached.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("generate 2: %v", err)
	}
	if gen.calls != 1 {
		t.Fatalf("expected cache hit, generator calls %d", gen.calls)
	}
	if second[0].Options[0] == "mutated" {
		t.Fatalf("cached set shared with caller")
	}
}

func TestCachedGeneratorExpires(t *testing.T) {
	gen := &countingGenerator{QuestionGenerator: NewStaticGenerator(SampleQuestions())}
	cached := NewCachedGenerator(gen, time.Minute)
	now := time.Now()
	cached.clock = func() time.Time { return now }

	req := app.GenerateRequest{Topic: "math"}
	if _, err := cached.Generate(context.Background(), req); err != nil {
		t.Fatalf("generate: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := cached.Generate(context.Background(), req); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gen.calls != 2 {
		t.Fatalf("expected reload after ttl, got %d calls", gen.calls)
	}
}

func TestStaticGeneratorEmptyBank(t *testing.T) {
	_, err := NewStaticGenerator(nil).Generate(context.Background(), app.GenerateRequest{})
	if err != domain.ErrEmptyQuestionSet {
		t.Fatalf("expected empty set error, got %v", err)
	}
}

type countingGenerator struct {
	app.QuestionGenerator
	calls int
}

func (g *countingGenerator) Generate(ctx context.Context, req app.GenerateRequest) ([]domain.Question, error) {
	g.calls++
	return g.QuestionGenerator.Generate(ctx, req)
}
