package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quiz-proctor/internal/domain"
)

const (
	defaultSampleInterval = 2 * time.Second
	busCapacity           = 32
)

// MonitorConfig controls motion sampling.
type MonitorConfig struct {
	SampleInterval time.Duration
	Motion         MotionConfig
}

// Monitor normalizes raw client signals and camera motion into IntegrityEvents on a single bus.
type Monitor struct {
	sessionID string
	cfg       MonitorConfig
	now       func() time.Time
	log       zerolog.Logger
	bus       chan domain.IntegrityEvent

	mu         sync.Mutex
	active     bool
	stopped    bool
	hidden     bool
	fullscreen bool
	ctx        context.Context
	cancel     context.CancelFunc
	stream     FrameStream
	wg         sync.WaitGroup
}

func NewMonitor(sessionID string, cfg MonitorConfig, now func() time.Time, log zerolog.Logger) *Monitor {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = defaultSampleInterval
	}
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		sessionID: sessionID,
		cfg:       cfg,
		now:       now,
		log:       log,
		bus:       make(chan domain.IntegrityEvent, busCapacity),
	}
}

// Events is the bus consumed by exactly one FlagAggregator.
func (m *Monitor) Events() <-chan domain.IntegrityEvent {
	return m.bus
}

// Start requests camera access and begins motion sampling. Camera failures are returned
// unchanged (wrapped) and leave the monitor inactive.
func (m *Monitor) Start(ctx context.Context, camera Camera) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active || m.stopped {
		return nil
	}
	if camera == nil {
		return fmt.Errorf("request camera: %w", domain.ErrCameraUnsupported)
	}
	stream, err := camera.RequestStream(ctx, m.sessionID)
	if err != nil {
		return fmt.Errorf("request camera: %w", err)
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.stream = stream
	m.active = true
	m.fullscreen = true

	m.wg.Add(1)
	go m.sample(m.ctx, stream, NewMotionDetector(m.cfg.Motion))
	return nil
}

// Signal converts a raw client signal. It returns true when the client must cancel the
// underlying browser action (clipboard, context menu).
func (m *Monitor) Signal(kind domain.SignalKind) bool {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return false
	}
	var (
		event    domain.EventKind
		suppress bool
	)
	switch kind {
	case domain.SignalVisibilityHidden:
		if m.hidden {
			m.mu.Unlock()
			return false
		}
		m.hidden = true
		event = domain.EventTabSwitch
	case domain.SignalVisibilityVisible:
		m.hidden = false
	case domain.SignalCopy:
		event, suppress = domain.EventClipboardCopy, true
	case domain.SignalCut:
		event, suppress = domain.EventClipboardCut, true
	case domain.SignalPaste:
		event, suppress = domain.EventClipboardPaste, true
	case domain.SignalContextMenu:
		event, suppress = domain.EventContextMenu, true
	case domain.SignalFullscreenExit:
		m.fullscreen = false
	case domain.SignalFullscreenEnter:
		m.fullscreen = true
	default:
		m.log.Debug().Str("signal", string(kind)).Msg("ignoring unknown signal")
	}
	ctx := m.ctx
	m.mu.Unlock()

	if event != "" {
		m.publish(ctx, event, "")
	}
	return suppress
}

// Fullscreen reports the last known fullscreen state. It is UI state only, never a violation.
func (m *Monitor) Fullscreen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fullscreen
}

func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Stop detaches all sources and releases the camera. Safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.active = false
	cancel, stream := m.cancel, m.stream
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	if stream != nil {
		if err := stream.Close(); err != nil {
			m.log.Debug().Err(err).Msg("camera close failed")
		}
	}
}

func (m *Monitor) sample(ctx context.Context, stream FrameStream, detector *MotionDetector) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SampleOnce(ctx, stream, detector)
		}
	}
}

// SampleOnce grabs one frame and publishes motion_detected if it differs enough from the last one.
func (m *Monitor) SampleOnce(ctx context.Context, stream FrameStream, detector *MotionDetector) {
	frame, err := stream.Frame()
	if err != nil {
		if !errors.Is(err, domain.ErrNoFrame) {
			m.log.Debug().Err(err).Msg("camera frame unavailable")
		}
		return
	}
	changed, motion := detector.Observe(frame)
	if motion && m.Active() {
		m.publish(ctx, domain.EventMotionDetected, strconv.Itoa(changed))
	}
}

func (m *Monitor) publish(ctx context.Context, kind domain.EventKind, detail string) {
	event := domain.IntegrityEvent{
		Kind:      kind,
		SessionID: m.sessionID,
		Timestamp: m.now(),
		Detail:    detail,
	}
	select {
	case m.bus <- event:
	case <-ctx.Done():
	}
}
