package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quiz-proctor/internal/domain"
)

func TestSnapshotStoreRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewSnapshotStore(newClient(mr), time.Hour)
	ctx := context.Background()

	if _, err := store.Load(ctx, "s1"); err != domain.ErrSessionNotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	started := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	session := domain.QuizSession{
		ID:                    "s1",
		StartedAt:             &started,
		TotalTimeLimitSeconds: 300,
		CurrentQuestionIndex:  1,
		Questions: []domain.Question{
			{ID: "q1", Options: []string{"a", "b"}, CorrectOption: "a", UserAnswer: "b"},
			{ID: "q2", Options: []string{"a", "b"}, CorrectOption: "b"},
		},
	}
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("quiz:snapshot:s1") {
		t.Fatalf("expected redis key to be set")
	}
	if ttl := mr.TTL("quiz:snapshot:s1"); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %s", ttl)
	}

	loaded, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.StartedAt.Equal(started) || loaded.CurrentQuestionIndex != 1 || loaded.Questions[0].UserAnswer != "b" {
		t.Fatalf("unexpected snapshot %+v", loaded)
	}

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists("quiz:snapshot:s1") {
		t.Fatalf("expected redis key to be removed")
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
