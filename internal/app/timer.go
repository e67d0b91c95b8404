package app

import (
	"sync"
	"time"
)

// RemainingSeconds derives the overall countdown from its wall-clock anchor:
// limit - floor((now - startedAt)/1s), clamped to [0, limit].
func RemainingSeconds(limit int, startedAt, now time.Time) int {
	elapsed := int(now.Sub(startedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := limit - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Countdown is the overall session timer. It is recomputed from the anchor on Mount and
// Resync and decremented by one per Tick; onExpire fires at most once.
type Countdown struct {
	mu        sync.Mutex
	limit     int
	startedAt time.Time
	now       func() time.Time
	remaining int
	fired     bool
	stopped   bool
	onExpire  func()
}

func NewCountdown(limit int, startedAt time.Time, now func() time.Time, onExpire func()) *Countdown {
	if now == nil {
		now = time.Now
	}
	return &Countdown{
		limit:     limit,
		startedAt: startedAt,
		now:       now,
		remaining: limit,
		onExpire:  onExpire,
	}
}

// Mount computes the remaining time from the anchor. A countdown that already ran out fires immediately.
func (c *Countdown) Mount() {
	c.Resync()
}

// Resync recomputes the remaining time after a suspension. It never resets the countdown.
func (c *Countdown) Resync() {
	c.mu.Lock()
	if c.stopped || c.fired {
		c.mu.Unlock()
		return
	}
	c.remaining = RemainingSeconds(c.limit, c.startedAt, c.now())
	fire := c.expireLocked()
	c.mu.Unlock()

	if fire {
		c.onExpire()
	}
}

func (c *Countdown) Tick() {
	c.mu.Lock()
	if c.stopped || c.fired {
		c.mu.Unlock()
		return
	}
	if c.remaining > 0 {
		c.remaining--
	}
	fire := c.expireLocked()
	c.mu.Unlock()

	if fire {
		c.onExpire()
	}
}

func (c *Countdown) expireLocked() bool {
	if c.remaining > 0 || c.fired {
		return false
	}
	c.fired = true
	return c.onExpire != nil
}

func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Stop is idempotent; a stopped countdown never fires.
func (c *Countdown) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

// QuestionTimer is the per-question budget. It restarts whenever the active question key
// changes, so revisiting a question grants a fresh budget.
type QuestionTimer struct {
	mu        sync.Mutex
	budget    int
	key       string
	remaining int
	stopped   bool
	onExpire  func(key string)
}

func NewQuestionTimer(budget int, onExpire func(key string)) *QuestionTimer {
	return &QuestionTimer{budget: budget, onExpire: onExpire}
}

// Sync restarts the budget if key differs from the tracked one. Reports whether it restarted.
func (t *QuestionTimer) Sync(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || key == t.key {
		return false
	}
	t.key = key
	t.remaining = t.budget
	return true
}

func (t *QuestionTimer) Tick() {
	t.mu.Lock()
	if t.stopped || t.budget <= 0 || t.key == "" || t.remaining == 0 {
		t.mu.Unlock()
		return
	}
	t.remaining--
	expired := t.remaining == 0
	key := t.key
	t.mu.Unlock()

	if expired && t.onExpire != nil {
		t.onExpire(key)
	}
}

func (t *QuestionTimer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

func (t *QuestionTimer) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}
