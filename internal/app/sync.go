package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"quiz-proctor/internal/metrics"
)

const defaultSyncConcurrency = 4

// SyncResult summarizes one drain of the offline buffer.
type SyncResult struct {
	Sessions int
	Replayed int
	Failed   int
}

// SyncManager drains the offline answer buffer into the persistence sink whenever the
// sink becomes reachable. A session is cleared only after all of its pairs were accepted.
type SyncManager struct {
	buffer      AnswerBuffer
	sink        AnswerSink
	activity    ActivitySink
	backlog     *ActivityBacklog
	conn        *ConnectivityMonitor
	concurrency int
	log         zerolog.Logger

	mu sync.Mutex // one drain at a time
}

func NewSyncManager(buffer AnswerBuffer, sink AnswerSink, conn *ConnectivityMonitor, concurrency int, log zerolog.Logger) *SyncManager {
	if concurrency <= 0 {
		concurrency = defaultSyncConcurrency
	}
	return &SyncManager{
		buffer:      buffer,
		sink:        sink,
		conn:        conn,
		concurrency: concurrency,
		log:         log,
	}
}

// WithActivityBacklog makes every drain also retry queued activity log entries.
func (m *SyncManager) WithActivityBacklog(backlog *ActivityBacklog, sink ActivitySink) *SyncManager {
	m.backlog = backlog
	m.activity = sink
	return m
}

// Run drains once if online, then again on every offline→online transition.
func (m *SyncManager) Run(ctx context.Context) {
	transitions, cancel := m.conn.Subscribe()
	defer cancel()

	if m.conn.Online() {
		m.drain(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-transitions:
			if !ok {
				return
			}
			if online {
				m.drain(ctx)
			}
		}
	}
}

func (m *SyncManager) drain(ctx context.Context) {
	res, err := m.SyncOnce(ctx)
	if err != nil {
		m.log.Warn().Err(err).Int("failed", res.Failed).Msg("offline buffer sync incomplete")
	} else if res.Sessions > 0 {
		m.log.Info().Int("sessions", res.Sessions).Int("replayed", res.Replayed).Msg("offline buffer synced")
	}
	if m.backlog != nil && m.activity != nil && m.backlog.Len() > 0 {
		n, err := m.backlog.Flush(ctx, m.activity)
		if err != nil {
			m.log.Warn().Err(err).Int("flushed", n).Msg("activity backlog flush incomplete")
		}
	}
}

// SyncOnce replays every buffered session. Sessions drain concurrently, pairs within a
// session sequentially. The first error is returned; other sessions still complete.
func (m *SyncManager) SyncOnce(ctx context.Context) (SyncResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, err := m.buffer.Sessions(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("list buffered sessions: %w", err)
	}

	var (
		resMu sync.Mutex
		res   SyncResult
		g     errgroup.Group
	)
	g.SetLimit(m.concurrency)
	for _, sessionID := range sessions {
		sessionID := sessionID
		g.Go(func() error {
			n, err := m.syncSession(ctx, sessionID)
			resMu.Lock()
			defer resMu.Unlock()
			if err != nil {
				res.Failed++
				metrics.SyncFailuresTotal.Inc()
				return err
			}
			res.Sessions++
			res.Replayed += n
			return nil
		})
	}
	err = g.Wait()
	return res, err
}

func (m *SyncManager) syncSession(ctx context.Context, sessionID string) (int, error) {
	pending, err := m.buffer.Answers(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("read buffered answers for %s: %w", sessionID, err)
	}

	questionIDs := make([]string, 0, len(pending.Answers))
	for qid := range pending.Answers {
		questionIDs = append(questionIDs, qid)
	}
	sort.Strings(questionIDs)

	for _, qid := range questionIDs {
		if err := m.sink.UpsertAnswer(ctx, pending.UserID, sessionID, qid, pending.Answers[qid]); err != nil {
			return 0, fmt.Errorf("replay answer %s/%s: %w", sessionID, qid, err)
		}
	}
	if err := m.buffer.Clear(ctx, sessionID, pending.Answers); err != nil {
		return 0, fmt.Errorf("clear buffered answers for %s: %w", sessionID, err)
	}
	metrics.SyncReplayedTotal.Add(float64(len(questionIDs)))
	return len(questionIDs), nil
}
