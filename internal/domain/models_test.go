package domain

import (
	"testing"
	"time"
)

func TestPerQuestionTimeSeconds(t *testing.T) {
	cases := []struct {
		name      string
		limit     int
		questions int
		want      int
	}{
		{"untimed", 0, 10, 0},
		{"even split", 300, 10, 30},
		{"floors division", 100, 3, 33},
		{"clamps to minimum", 30, 10, MinPerQuestionSeconds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := QuizSession{TotalTimeLimitSeconds: tc.limit, Questions: make([]Question, tc.questions)}
			if got := s.PerQuestionTimeSeconds(); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestStateDerivation(t *testing.T) {
	now := time.Now()
	s := QuizSession{}
	if s.State() != StateCreated {
		t.Fatalf("expected created, got %s", s.State())
	}
	s.StartedAt = &now
	if s.State() != StateStarted {
		t.Fatalf("expected started, got %s", s.State())
	}
	s.Activated = true
	if s.State() != StateInProgress {
		t.Fatalf("expected in_progress, got %s", s.State())
	}
	s.CompletedAt = &now
	if s.State() != StateCompleted {
		t.Fatalf("expected completed, got %s", s.State())
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	correct := true
	s := QuizSession{
		StartedAt: &now,
		Questions: []Question{{ID: "q1", Options: []string{"a", "b"}, IsCorrect: &correct}},
	}
	cp := s.Clone()
	cp.Questions[0].Options[0] = "changed"
	*cp.Questions[0].IsCorrect = false
	*cp.StartedAt = now.Add(time.Hour)

	if s.Questions[0].Options[0] != "a" {
		t.Fatalf("options shared with clone")
	}
	if !*s.Questions[0].IsCorrect {
		t.Fatalf("isCorrect shared with clone")
	}
	if !s.StartedAt.Equal(now) {
		t.Fatalf("startedAt shared with clone")
	}
}
