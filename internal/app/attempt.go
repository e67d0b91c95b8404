package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quiz-proctor/internal/domain"
)

type UpdateKind string

const (
	UpdateState      UpdateKind = "state"
	UpdateTick       UpdateKind = "tick"
	UpdateWarning    UpdateKind = "warning"
	UpdateNotice     UpdateKind = "notice"
	UpdateTerminated UpdateKind = "terminated"
)

type NoticeLevel string

const (
	NoticeBlocking    NoticeLevel = "blocking"
	NoticeDismissible NoticeLevel = "dismissible"
)

// Notice is a user-facing message; blocking notices stop interaction until acted upon.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Action  string      `json:"action,omitempty"`
}

// Update is one message of an attempt's outbound stream.
type Update struct {
	Kind     UpdateKind
	Session  domain.QuizSession
	Overall  int
	Question int
	Warning  Warning
	Notice   Notice
	Reason   domain.TerminationReason
}

// CameraNotice maps a camera capability failure to the blocking notice shown to the user.
func CameraNotice(err error) (Notice, bool) {
	switch {
	case errors.Is(err, domain.ErrCameraDenied):
		return Notice{Level: NoticeBlocking, Code: "camera_denied", Message: "Camera access is required to take this quiz.", Action: "retry"}, true
	case errors.Is(err, domain.ErrCameraUnsupported):
		return Notice{Level: NoticeBlocking, Code: "camera_unsupported", Message: "A camera is required to take this quiz.", Action: "retry"}, true
	default:
		return Notice{}, false
	}
}

// TerminationNotice names the reason a session ended.
func TerminationNotice(reason domain.TerminationReason) Notice {
	msg := "Quiz submitted."
	switch reason {
	case domain.ReasonTimeUp:
		msg = "Time is up. Your answers were submitted."
	case domain.ReasonCheating:
		msg = "Quiz terminated after repeated integrity violations."
	}
	return Notice{Level: NoticeBlocking, Code: "terminated_" + string(reason), Message: msg}
}

// OfflineNotice tells the user answers are kept locally until the database is reachable again.
func OfflineNotice() Notice {
	return Notice{
		Level:   NoticeDismissible,
		Code:    "answers_offline",
		Message: "Connection lost. Your answers are saved on the server and will sync automatically.",
	}
}

type attemptConfig struct {
	userID       string
	flagLimit    int
	tickInterval time.Duration
	monitor      MonitorConfig
	now          func() time.Time
	activity     ActivitySink
	backlog      *ActivityBacklog
}

// Attempt wires one session with its timers, proctoring monitor and flag aggregator.
// Everything is torn down when the session completes or the attempt is closed.
type Attempt struct {
	machine    *SessionMachine
	monitor    *Monitor
	aggregator *FlagAggregator
	narrator   *Narrator
	cfg        attemptConfig
	log        zerolog.Logger

	mu          sync.Mutex
	countdown   *Countdown
	qtimer      *QuestionTimer
	mounted     bool
	closed      bool
	cancel      context.CancelFunc
	subscribers map[chan Update]struct{}
	wg          sync.WaitGroup
}

func newAttempt(machine *SessionMachine, narrator *Narrator, cfg attemptConfig, log zerolog.Logger) *Attempt {
	snap := machine.Snapshot()
	a := &Attempt{
		machine:     machine,
		narrator:    narrator,
		cfg:         cfg,
		log:         log,
		subscribers: make(map[chan Update]struct{}),
	}
	a.monitor = NewMonitor(snap.ID, cfg.monitor, cfg.now, log)
	a.aggregator = NewFlagAggregator(cfg.userID, machine, cfg.activity, cfg.backlog, cfg.flagLimit, a.onWarning, log)
	machine.OnComplete(a.onComplete)
	return a
}

func (a *Attempt) ID() string {
	return a.machine.Snapshot().ID
}

func (a *Attempt) Machine() *SessionMachine {
	return a.machine
}

func (a *Attempt) Aggregator() *FlagAggregator {
	return a.aggregator
}

func (a *Attempt) Monitor() *Monitor {
	return a.monitor
}

// Mount requests the camera and, once granted, activates the session and starts timers and
// proctoring. A camera failure leaves the session untouched: it never reaches in_progress.
// Completed sessions mount read-only.
func (a *Attempt) Mount(ctx context.Context, camera Camera) error {
	a.mu.Lock()
	if a.mounted || a.closed {
		a.mu.Unlock()
		return nil
	}
	if a.machine.Snapshot().Completed() {
		a.mounted = true
		a.mu.Unlock()
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := a.monitor.Start(runCtx, camera); err != nil {
		cancel()
		a.mu.Unlock()
		a.log.Warn().Err(err).Msg("proctoring unavailable, attempt not started")
		return fmt.Errorf("mount attempt: %w", err)
	}
	a.cancel = cancel
	a.mounted = true

	snap, _ := a.machine.Activate()
	a.qtimer = NewQuestionTimer(snap.PerQuestionTimeSeconds(), a.onQuestionExpired)
	a.qtimer.Sync(QuestionKey(snap))
	var countdown *Countdown
	if snap.HasTimeLimit() && snap.StartedAt != nil {
		countdown = NewCountdown(snap.TotalTimeLimitSeconds, *snap.StartedAt, a.cfg.now, a.onTimeUp)
		a.countdown = countdown
	}

	changes, unsubscribe := a.machine.Subscribe()
	a.wg.Add(3)
	go a.forward(runCtx, changes, unsubscribe)
	go a.tickLoop(runCtx)
	go func() {
		defer a.wg.Done()
		a.aggregator.Run(runCtx, a.monitor.Events())
	}()
	a.mu.Unlock()

	// may expire immediately when the session was resumed after its deadline
	if countdown != nil {
		countdown.Mount()
	}
	a.log.Info().Str("state", string(a.machine.Snapshot().State())).Msg("attempt mounted")
	return nil
}

// Resync recomputes the overall countdown from its anchor after the client was suspended.
func (a *Attempt) Resync() {
	a.mu.Lock()
	countdown := a.countdown
	a.mu.Unlock()
	if countdown != nil {
		countdown.Resync()
	}
}

// Tick advances both timers by one second and publishes the remaining times.
func (a *Attempt) Tick() {
	a.mu.Lock()
	countdown, qtimer := a.countdown, a.qtimer
	a.mu.Unlock()
	if qtimer == nil {
		return
	}

	if countdown != nil {
		countdown.Tick()
	}
	snap := a.machine.Snapshot()
	if snap.Completed() {
		return
	}
	qtimer.Sync(QuestionKey(snap))
	qtimer.Tick()

	if a.machine.Snapshot().Completed() {
		return
	}
	overall, question := a.Remaining()
	a.publish(Update{Kind: UpdateTick, Overall: overall, Question: question})
}

// Remaining returns the overall and per-question seconds left (0 when untimed).
func (a *Attempt) Remaining() (int, int) {
	a.mu.Lock()
	countdown, qtimer := a.countdown, a.qtimer
	a.mu.Unlock()
	overall, question := 0, 0
	if countdown != nil {
		overall = countdown.Remaining()
	}
	if qtimer != nil {
		question = qtimer.Remaining()
	}
	return overall, question
}

func (a *Attempt) Answer(questionID, value string) bool {
	return a.machine.Answer(questionID, value)
}

func (a *Attempt) Next() bool {
	return a.navigated(a.machine.Next())
}

func (a *Attempt) Previous() bool {
	return a.navigated(a.machine.Previous())
}

func (a *Attempt) NavigateTo(index int) bool {
	return a.navigated(a.machine.NavigateTo(index))
}

func (a *Attempt) navigated(ok bool) bool {
	if !ok {
		return false
	}
	a.mu.Lock()
	qtimer := a.qtimer
	a.mu.Unlock()
	if qtimer != nil {
		qtimer.Sync(QuestionKey(a.machine.Snapshot()))
	}
	if a.narrator != nil {
		a.narrator.Stop()
	}
	return true
}

// Submit completes the session with reason completed. Repeated calls return the sealed session.
func (a *Attempt) Submit() (domain.QuizSession, bool) {
	return a.machine.Submit(domain.ReasonCompleted)
}

// Signal forwards a raw client signal to the proctoring monitor.
func (a *Attempt) Signal(kind domain.SignalKind) bool {
	return a.monitor.Signal(kind)
}

// ReadAloud narrates the current question.
func (a *Attempt) ReadAloud(ctx context.Context) error {
	if a.narrator == nil {
		return domain.ErrSpeechUnavailable
	}
	q, ok := a.machine.Snapshot().CurrentQuestion()
	if !ok {
		return nil
	}
	err := a.narrator.Read(ctx, q)
	if errors.Is(err, domain.ErrSpeechUnavailable) {
		a.publish(Update{Kind: UpdateNotice, Notice: Notice{
			Level:   NoticeDismissible,
			Code:    "speech_unavailable",
			Message: "Read aloud is not available on this device.",
		}})
	}
	return err
}

// Subscribe returns the attempt's outbound stream, starting with the current state.
// The caller must invoke the returned cancel function to avoid leaks.
func (a *Attempt) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 16)

	a.mu.Lock()
	overall, question := 0, 0
	if a.countdown != nil {
		overall = a.countdown.Remaining()
	}
	if a.qtimer != nil {
		question = a.qtimer.Remaining()
	}
	a.subscribers[ch] = struct{}{}
	// sent under the lock so no publish can race ahead of the initial state
	ch <- Update{Kind: UpdateState, Session: a.machine.Snapshot(), Overall: overall, Question: question}
	a.mu.Unlock()

	cancel := func() {
		a.mu.Lock()
		if _, ok := a.subscribers[ch]; ok {
			delete(a.subscribers, ch)
			close(ch)
		}
		a.mu.Unlock()
	}
	return ch, cancel
}

// Close stops all attempt goroutines and waits for them. The session itself is left as is,
// so a later Open resumes it from its snapshot.
func (a *Attempt) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.stopLocked()
	a.mu.Unlock()

	a.monitor.Stop()
	a.wg.Wait()
	a.aggregator.Wait()
	if a.narrator != nil {
		a.narrator.Stop()
	}

	a.mu.Lock()
	for ch := range a.subscribers {
		delete(a.subscribers, ch)
		close(ch)
	}
	a.mu.Unlock()
}

func (a *Attempt) stopLocked() {
	if a.countdown != nil {
		a.countdown.Stop()
	}
	if a.qtimer != nil {
		a.qtimer.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *Attempt) onTimeUp() {
	a.machine.Submit(domain.ReasonTimeUp)
}

func (a *Attempt) onQuestionExpired(key string) {
	snap := a.machine.Snapshot()
	if snap.Completed() || QuestionKey(snap) != key {
		return
	}
	if snap.CurrentQuestionIndex < len(snap.Questions)-1 {
		a.Next()
		return
	}
	a.machine.Submit(domain.ReasonTimeUp)
}

func (a *Attempt) onWarning(w Warning) {
	a.publish(Update{Kind: UpdateWarning, Warning: w})
}

// onComplete runs on whichever goroutine sealed the session, so it must not wait for the
// attempt goroutines; Close does that.
func (a *Attempt) onComplete(sealed domain.QuizSession) {
	a.mu.Lock()
	a.stopLocked()
	a.mu.Unlock()

	a.monitor.Stop()
	if a.narrator != nil {
		a.narrator.Stop()
	}
	a.publish(Update{Kind: UpdateState, Session: sealed})
	a.publish(Update{Kind: UpdateTerminated, Session: sealed, Reason: sealed.TerminationReason, Notice: TerminationNotice(sealed.TerminationReason)})
}

func (a *Attempt) forward(ctx context.Context, changes <-chan domain.QuizSession, unsubscribe func()) {
	defer a.wg.Done()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-changes:
			if !ok {
				return
			}
			if snap.Completed() {
				// onComplete publishes the sealed state itself
				continue
			}
			overall, question := a.Remaining()
			a.publish(Update{Kind: UpdateState, Session: snap, Overall: overall, Question: question})
		}
	}
}

func (a *Attempt) tickLoop(ctx context.Context) {
	defer a.wg.Done()
	interval := a.cfg.tickInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick()
		}
	}
}

func (a *Attempt) publish(u Update) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for ch := range a.subscribers {
		select {
		case ch <- u:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- u
		}
	}
}
