package cli

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"quiz-proctor/internal/app"
	"quiz-proctor/internal/config"
)

func TestBuildRuntimeDefaultsToInMemory(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	rt, err := buildRuntime(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	defer rt.Close()

	if !rt.connectivity.Probe(ctx) {
		t.Fatalf("in-memory sink should be reachable")
	}
	qs, err := rt.generator.Generate(ctx, app.GenerateRequest{Topic: "math", Count: 2})
	if err != nil || len(qs) != 2 {
		t.Fatalf("expected 2 sample questions, got %d (%v)", len(qs), err)
	}

	if err := rt.buffer.Put(ctx, "u1", "s1", "q1", "4"); err != nil {
		t.Fatalf("buffer put: %v", err)
	}
	res, err := rt.syncManager(cfg, zerolog.Nop()).SyncOnce(ctx)
	if err != nil || res.Replayed != 1 {
		t.Fatalf("expected one replayed answer, got %+v (%v)", res, err)
	}
}

func TestMonitorConfigFromProctoring(t *testing.T) {
	p := config.Default().Proctoring
	p.Motion.Interval = "500ms"
	p.Motion.Threshold = 25

	mc := monitorConfig(p)
	if mc.SampleInterval != 500*time.Millisecond {
		t.Fatalf("unexpected interval %s", mc.SampleInterval)
	}
	if mc.Motion.Threshold != 25 || mc.Motion.Width != 64 || mc.Motion.Height != 48 {
		t.Fatalf("unexpected motion config %+v", mc.Motion)
	}
}
