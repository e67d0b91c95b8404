package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quiz-proctor/internal/domain"
	"quiz-proctor/internal/metrics"
)

const (
	DefaultFlagLimit   = 3
	activityLogTimeout = 5 * time.Second
)

// Warning is shown to the user after each counted violation.
type Warning struct {
	Kind  domain.EventKind `json:"kind"`
	Count int              `json:"count"`
	Limit int              `json:"limit"`
}

// FlagAggregator counts integrity events for one session and enforces the termination policy.
type FlagAggregator struct {
	userID    string
	sessionID string
	limit     int
	machine   *SessionMachine
	sink      ActivitySink
	backlog   *ActivityBacklog
	onWarning func(Warning)
	log       zerolog.Logger

	mu         sync.Mutex
	count      int
	terminated bool
	writes     sync.WaitGroup
}

func NewFlagAggregator(userID string, machine *SessionMachine, sink ActivitySink, backlog *ActivityBacklog, limit int, onWarning func(Warning), log zerolog.Logger) *FlagAggregator {
	if limit <= 0 {
		limit = DefaultFlagLimit
	}
	// a resumed session continues from its persisted flag count
	snap := machine.Snapshot()
	return &FlagAggregator{
		userID:    userID,
		sessionID: snap.ID,
		limit:     limit,
		count:     snap.CheatingFlagCount,
		machine:   machine,
		sink:      sink,
		backlog:   backlog,
		onWarning: onWarning,
		log:       log,
	}
}

// Run consumes the bus until ctx is cancelled.
func (a *FlagAggregator) Run(ctx context.Context, events <-chan domain.IntegrityEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			a.Record(ctx, ev)
		}
	}
}

// Record counts one event. Reaching the limit submits the session with reason cheating exactly once;
// events after the session is sealed only raise the audit counter.
func (a *FlagAggregator) Record(ctx context.Context, ev domain.IntegrityEvent) {
	a.mu.Lock()
	a.count++
	count := a.count
	auditOnly := a.terminated || a.machine.Snapshot().Completed()
	trip := !auditOnly && count >= a.limit
	if trip {
		a.terminated = true
	}
	a.mu.Unlock()

	if auditOnly {
		a.log.Debug().Str("kind", string(ev.Kind)).Int("count", count).Msg("integrity event after completion")
		return
	}

	metrics.FlagsTotal.WithLabelValues(string(ev.Kind)).Inc()
	a.log.Info().Str("kind", string(ev.Kind)).Int("count", count).Int("limit", a.limit).Msg("integrity event")

	a.appendLog(ctx, domain.ActivityEntry{
		UserID:    a.userID,
		SessionID: a.sessionID,
		Kind:      ev.Kind,
		Detail:    ev.Detail,
		At:        ev.Timestamp,
	})
	a.machine.IncrementFlags()
	if a.onWarning != nil {
		a.onWarning(Warning{Kind: ev.Kind, Count: count, Limit: a.limit})
	}
	if trip {
		a.machine.Submit(domain.ReasonCheating)
	}
}

// Count is the audit counter; it keeps growing after termination.
func (a *FlagAggregator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

func (a *FlagAggregator) Limit() int {
	return a.limit
}

// Wait blocks until in-flight activity log writes finish.
func (a *FlagAggregator) Wait() {
	a.writes.Wait()
}

// appendLog is fire-and-forget: the write outlives the attempt context and failures are queued.
func (a *FlagAggregator) appendLog(ctx context.Context, entry domain.ActivityEntry) {
	if a.sink == nil {
		return
	}
	a.writes.Add(1)
	go func() {
		defer a.writes.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), activityLogTimeout)
		defer cancel()
		if err := a.sink.AppendActivityLog(wctx, entry); err != nil {
			metrics.ActivityLogFailuresTotal.Inc()
			a.log.Warn().Err(err).Str("kind", string(entry.Kind)).Msg("activity log write failed, queued for retry")
			if a.backlog != nil {
				a.backlog.Push(entry)
			}
		}
	}()
}

// ActivityBacklog keeps activity log entries that could not be written.
type ActivityBacklog struct {
	mu      sync.Mutex
	entries []domain.ActivityEntry
}

func NewActivityBacklog() *ActivityBacklog {
	return &ActivityBacklog{}
}

func (b *ActivityBacklog) Push(entry domain.ActivityEntry) {
	b.mu.Lock()
	b.entries = append(b.entries, entry)
	b.mu.Unlock()
}

func (b *ActivityBacklog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Flush retries queued entries in order. Entries that fail again stay queued.
func (b *ActivityBacklog) Flush(ctx context.Context, sink ActivitySink) (int, error) {
	b.mu.Lock()
	pending := b.entries
	b.entries = nil
	b.mu.Unlock()

	flushed := 0
	var firstErr error
	var failed []domain.ActivityEntry
	for _, entry := range pending {
		if err := sink.AppendActivityLog(ctx, entry); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failed = append(failed, entry)
			continue
		}
		flushed++
	}

	if len(failed) > 0 {
		b.mu.Lock()
		b.entries = append(failed, b.entries...)
		b.mu.Unlock()
	}
	return flushed, firstErr
}
