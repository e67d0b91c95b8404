package memory

import (
	"context"
	"image"
	"sync"

	"quiz-proctor/internal/app"
	"quiz-proctor/internal/domain"
)

// CameraStatus is the access decision reported by the client.
type CameraStatus string

const (
	CameraGranted     CameraStatus = "granted"
	CameraDenied      CameraStatus = "denied"
	CameraUnsupported CameraStatus = "unsupported"
)

// Camera is an app.Camera fed by pushed frames; the stream always yields the latest one.
type Camera struct {
	status CameraStatus

	mu     sync.Mutex
	latest image.Image
	closed bool
}

func NewCamera(status CameraStatus) *Camera {
	if status == "" {
		status = CameraUnsupported
	}
	return &Camera{status: status}
}

func (c *Camera) RequestStream(_ context.Context, _ string) (app.FrameStream, error) {
	switch c.status {
	case CameraGranted:
		return c, nil
	case CameraDenied:
		return nil, domain.ErrCameraDenied
	default:
		return nil, domain.ErrCameraUnsupported
	}
}

// Push replaces the latest frame. Frames pushed after Close are dropped.
func (c *Camera) Push(frame image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.latest = frame
	}
}

func (c *Camera) Frame() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return nil, domain.ErrNoFrame
	}
	return c.latest, nil
}

func (c *Camera) Close() error {
	c.mu.Lock()
	c.closed = true
	c.latest = nil
	c.mu.Unlock()
	return nil
}

func (c *Camera) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
