package app

import (
	"testing"
	"time"
)

func TestRemainingSeconds(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		elapsed time.Duration
		want    int
	}{
		{"fresh", 0, 300},
		{"floors partial seconds", 10*time.Second + 900*time.Millisecond, 290},
		{"exactly expired", 300 * time.Second, 0},
		{"clamped at zero", 301 * time.Second, 0},
		{"clock skew", -5 * time.Second, 300},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RemainingSeconds(300, start, start.Add(tc.elapsed)); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestCountdownFiresExactlyOnce(t *testing.T) {
	clock := newFakeClock()
	fired := 0
	c := NewCountdown(3, clock.Now(), clock.Now, func() { fired++ })
	c.Mount()

	for i := 0; i < 10; i++ {
		c.Tick()
	}
	if fired != 1 {
		t.Fatalf("expected one expiry, got %d", fired)
	}
	if c.Remaining() != 0 {
		t.Fatalf("expected 0 remaining, got %d", c.Remaining())
	}
}

func TestCountdownMountAfterDeadlineFiresImmediately(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	clock.Advance(301 * time.Second)

	fired := 0
	c := NewCountdown(300, start, clock.Now, func() { fired++ })
	c.Mount()
	if fired != 1 {
		t.Fatalf("expected immediate expiry on mount, got %d", fired)
	}
}

func TestCountdownResyncMatchesContinuousTicking(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()

	continuous := NewCountdown(300, start, clock.Now, nil)
	continuous.Mount()
	for i := 0; i < 120; i++ {
		clock.Advance(time.Second)
		continuous.Tick()
	}

	// a client that was suspended the whole time and reloads now
	reloaded := NewCountdown(300, start, clock.Now, nil)
	reloaded.Mount()

	diff := continuous.Remaining() - reloaded.Remaining()
	if diff < -1 || diff > 1 {
		t.Fatalf("reload drifted: continuous=%d reloaded=%d", continuous.Remaining(), reloaded.Remaining())
	}

	// resync after a suspension never resets the countdown
	clock.Advance(30 * time.Second)
	continuous.Resync()
	if continuous.Remaining() != 150 {
		t.Fatalf("expected 150 after resync, got %d", continuous.Remaining())
	}
}

func TestCountdownStopPreventsExpiry(t *testing.T) {
	clock := newFakeClock()
	fired := 0
	c := NewCountdown(1, clock.Now(), clock.Now, func() { fired++ })
	c.Mount()
	c.Stop()
	c.Stop()
	c.Tick()
	c.Resync()
	if fired != 0 {
		t.Fatalf("stopped countdown fired")
	}
}

func TestQuestionTimerResetsOnRevisit(t *testing.T) {
	var expired []string
	qt := NewQuestionTimer(30, func(key string) { expired = append(expired, key) })

	qt.Sync("q1#0")
	for i := 0; i < 20; i++ {
		qt.Tick()
	}
	if qt.Remaining() != 10 {
		t.Fatalf("expected 10 left on q1, got %d", qt.Remaining())
	}

	qt.Sync("q2#1")
	if qt.Remaining() != 30 {
		t.Fatalf("expected fresh budget on q2, got %d", qt.Remaining())
	}
	qt.Tick()

	if !qt.Sync("q1#0") {
		t.Fatalf("expected revisit to restart the timer")
	}
	if qt.Remaining() != 30 {
		t.Fatalf("expected full budget on revisit, got %d", qt.Remaining())
	}
	if qt.Sync("q1#0") {
		t.Fatalf("same key must not restart")
	}

	for i := 0; i < 40; i++ {
		qt.Tick()
	}
	if len(expired) != 1 || expired[0] != "q1#0" {
		t.Fatalf("expected a single expiry for q1#0, got %v", expired)
	}
}

func TestQuestionTimerUntimedNeverFires(t *testing.T) {
	fired := false
	qt := NewQuestionTimer(0, func(string) { fired = true })
	qt.Sync("q1#0")
	for i := 0; i < 100; i++ {
		qt.Tick()
	}
	if fired {
		t.Fatalf("untimed question timer fired")
	}
}
