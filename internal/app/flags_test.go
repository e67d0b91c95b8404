package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"quiz-proctor/internal/domain"
)

func TestAggregatorTerminatesAtLimit(t *testing.T) {
	ctx := context.Background()
	m := NewSessionMachine(sampleSession(0), nil, zerolog.Nop())
	m.Activate()
	sink := &fakeActivitySink{}
	var warnings []Warning
	agg := NewFlagAggregator("u1", m, sink, NewActivityBacklog(), 3, func(w Warning) { warnings = append(warnings, w) }, zerolog.Nop())

	for i := 0; i < 2; i++ {
		agg.Record(ctx, tabSwitch())
	}
	if m.Snapshot().Completed() {
		t.Fatalf("terminated before reaching the limit")
	}

	agg.Record(ctx, tabSwitch())
	snap := m.Snapshot()
	if snap.TerminationReason != domain.ReasonCheating {
		t.Fatalf("expected cheating termination, got %q", snap.TerminationReason)
	}
	if snap.CheatingFlagCount != 3 {
		t.Fatalf("expected 3 persisted flags, got %d", snap.CheatingFlagCount)
	}

	agg.Record(ctx, tabSwitch())
	agg.Wait()
	if agg.Count() != 4 {
		t.Fatalf("expected audit counter 4, got %d", agg.Count())
	}
	if m.Snapshot().CheatingFlagCount != 3 {
		t.Fatalf("persisted counter moved after completion")
	}
	if len(warnings) != 3 || warnings[2].Count != 3 || warnings[2].Limit != 3 {
		t.Fatalf("unexpected warnings %+v", warnings)
	}
	if sink.len() != 3 {
		t.Fatalf("expected 3 activity entries, got %d", sink.len())
	}
}

func TestAggregatorResumesFromPersistedCount(t *testing.T) {
	ctx := context.Background()
	session := sampleSession(0)
	session.CheatingFlagCount = 2
	m := NewSessionMachine(session, nil, zerolog.Nop())
	m.Activate()
	agg := NewFlagAggregator("u1", m, nil, nil, 3, nil, zerolog.Nop())
	if agg.Count() != 2 {
		t.Fatalf("expected count seeded from session, got %d", agg.Count())
	}

	agg.Record(ctx, tabSwitch())
	snap := m.Snapshot()
	if snap.TerminationReason != domain.ReasonCheating || snap.CheatingFlagCount != 3 {
		t.Fatalf("expected termination on the first event after resume, got %q/%d", snap.TerminationReason, snap.CheatingFlagCount)
	}
}

func TestAggregatorRunConsumesBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewSessionMachine(sampleSession(0), nil, zerolog.Nop())
	m.Activate()
	agg := NewFlagAggregator("u1", m, nil, nil, 2, nil, zerolog.Nop())

	bus := make(chan domain.IntegrityEvent, 4)
	done := make(chan struct{})
	go func() {
		agg.Run(ctx, bus)
		close(done)
	}()
	bus <- tabSwitch()
	bus <- domain.IntegrityEvent{Kind: domain.EventClipboardPaste, SessionID: "s1", Timestamp: time.Now()}

	deadline := time.After(2 * time.Second)
	for !m.Snapshot().Completed() {
		select {
		case <-deadline:
			t.Fatalf("aggregator did not terminate the session")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestAggregatorQueuesFailedActivityWrites(t *testing.T) {
	ctx := context.Background()
	m := NewSessionMachine(sampleSession(0), nil, zerolog.Nop())
	m.Activate()
	sink := &fakeActivitySink{fail: true}
	backlog := NewActivityBacklog()
	agg := NewFlagAggregator("u1", m, sink, backlog, 3, nil, zerolog.Nop())

	agg.Record(ctx, tabSwitch())
	agg.Wait()
	if backlog.Len() != 1 {
		t.Fatalf("expected failed write queued, got %d", backlog.Len())
	}
	if m.Snapshot().CheatingFlagCount != 1 {
		t.Fatalf("logging failure must not block the flag count")
	}

	sink.setFail(false)
	n, err := backlog.Flush(ctx, sink)
	if err != nil || n != 1 {
		t.Fatalf("flush: n=%d err=%v", n, err)
	}
	if backlog.Len() != 0 || sink.len() != 1 {
		t.Fatalf("expected backlog drained into sink")
	}
}

func tabSwitch() domain.IntegrityEvent {
	return domain.IntegrityEvent{Kind: domain.EventTabSwitch, SessionID: "s1", Timestamp: time.Now()}
}

type fakeActivitySink struct {
	mu      sync.Mutex
	fail    bool
	entries []domain.ActivityEntry
}

func (f *fakeActivitySink) AppendActivityLog(_ context.Context, e domain.ActivityEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("sink down")
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeActivitySink) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeActivitySink) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
