package app

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"quiz-proctor/internal/domain"
)

func TestMonitorSignalMapping(t *testing.T) {
	m := startedMonitor(t)
	defer m.Stop()

	cases := []struct {
		signal   domain.SignalKind
		event    domain.EventKind
		suppress bool
	}{
		{domain.SignalVisibilityHidden, domain.EventTabSwitch, false},
		{domain.SignalCopy, domain.EventClipboardCopy, true},
		{domain.SignalCut, domain.EventClipboardCut, true},
		{domain.SignalPaste, domain.EventClipboardPaste, true},
		{domain.SignalContextMenu, domain.EventContextMenu, true},
	}
	for _, tc := range cases {
		if got := m.Signal(tc.signal); got != tc.suppress {
			t.Fatalf("%s: expected suppress=%v, got %v", tc.signal, tc.suppress, got)
		}
		ev := nextEvent(t, m)
		if ev.Kind != tc.event || ev.SessionID != "s1" {
			t.Fatalf("%s: unexpected event %+v", tc.signal, ev)
		}
	}
}

func TestMonitorFullscreenIsNotAViolation(t *testing.T) {
	m := startedMonitor(t)
	defer m.Stop()

	m.Signal(domain.SignalFullscreenExit)
	if m.Fullscreen() {
		t.Fatalf("expected fullscreen off")
	}
	m.Signal(domain.SignalFullscreenEnter)
	if !m.Fullscreen() {
		t.Fatalf("expected fullscreen on")
	}
	assertNoEvent(t, m)
}

func TestMonitorHiddenCountsTransitionsOnly(t *testing.T) {
	m := startedMonitor(t)
	defer m.Stop()

	m.Signal(domain.SignalVisibilityHidden)
	m.Signal(domain.SignalVisibilityHidden)
	nextEvent(t, m)
	assertNoEvent(t, m)

	m.Signal(domain.SignalVisibilityVisible)
	m.Signal(domain.SignalVisibilityHidden)
	if ev := nextEvent(t, m); ev.Kind != domain.EventTabSwitch {
		t.Fatalf("expected second tab switch, got %s", ev.Kind)
	}
}

func TestMonitorCameraDeniedStaysInactive(t *testing.T) {
	m := NewMonitor("s1", MonitorConfig{}, nil, zerolog.Nop())
	err := m.Start(context.Background(), &stubCamera{err: domain.ErrCameraDenied})
	if !errors.Is(err, domain.ErrCameraDenied) {
		t.Fatalf("expected camera denied, got %v", err)
	}
	if m.Signal(domain.SignalCopy) {
		t.Fatalf("inactive monitor must not suppress")
	}
	assertNoEvent(t, m)
}

func TestMonitorStopReleasesCamera(t *testing.T) {
	cam := &stubCamera{stream: &stubStream{}}
	m := NewMonitor("s1", MonitorConfig{SampleInterval: time.Hour}, nil, zerolog.Nop())
	if err := m.Start(context.Background(), cam); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.Stop()
	m.Stop()
	if !cam.stream.isClosed() {
		t.Fatalf("expected camera stream closed")
	}
	m.Signal(domain.SignalPaste)
	assertNoEvent(t, m)
}

func TestMonitorSampleDetectsMotion(t *testing.T) {
	stream := &stubStream{}
	m := NewMonitor("s1", MonitorConfig{SampleInterval: time.Hour}, nil, zerolog.Nop())
	if err := m.Start(context.Background(), &stubCamera{stream: stream}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	detector := NewMotionDetector(MotionConfig{})
	ctx := context.Background()

	m.SampleOnce(ctx, stream, detector) // no frame yet
	stream.set(solidFrame(320, 240, 0))
	m.SampleOnce(ctx, stream, detector)
	assertNoEvent(t, m)

	stream.set(solidFrame(320, 240, 200))
	m.SampleOnce(ctx, stream, detector)
	ev := nextEvent(t, m)
	if ev.Kind != domain.EventMotionDetected || ev.Detail != "3072" {
		t.Fatalf("unexpected motion event %+v", ev)
	}
}

func startedMonitor(t *testing.T) *Monitor {
	t.Helper()
	m := NewMonitor("s1", MonitorConfig{SampleInterval: time.Hour}, nil, zerolog.Nop())
	if err := m.Start(context.Background(), &stubCamera{stream: &stubStream{}}); err != nil {
		t.Fatalf("start monitor: %v", err)
	}
	return m
}

func nextEvent(t *testing.T, m *Monitor) domain.IntegrityEvent {
	t.Helper()
	select {
	case ev := <-m.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatalf("expected an integrity event")
	}
	return domain.IntegrityEvent{}
}

func assertNoEvent(t *testing.T, m *Monitor) {
	t.Helper()
	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

type stubCamera struct {
	err    error
	stream *stubStream
}

func (c *stubCamera) RequestStream(context.Context, string) (FrameStream, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.stream, nil
}

type stubStream struct {
	mu     sync.Mutex
	frame  image.Image
	closed bool
}

func (s *stubStream) set(img image.Image) {
	s.mu.Lock()
	s.frame = img
	s.mu.Unlock()
}

func (s *stubStream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return nil, domain.ErrNoFrame
	}
	return s.frame, nil
}

func (s *stubStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *stubStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
