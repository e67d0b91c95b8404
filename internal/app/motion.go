package app

import (
	"image"

	"github.com/disintegration/imaging"
)

// MotionConfig tunes frame differencing. Zero values fall back to the defaults below.
type MotionConfig struct {
	Width      int
	Height     int
	Threshold  int
	PixelRatio float64
}

const (
	defaultMotionWidth      = 64
	defaultMotionHeight     = 48
	defaultMotionThreshold  = 40
	defaultMotionPixelRatio = 0.01
)

func (c MotionConfig) withDefaults() MotionConfig {
	if c.Width <= 0 {
		c.Width = defaultMotionWidth
	}
	if c.Height <= 0 {
		c.Height = defaultMotionHeight
	}
	if c.Threshold <= 0 {
		c.Threshold = defaultMotionThreshold
	}
	if c.PixelRatio <= 0 {
		c.PixelRatio = defaultMotionPixelRatio
	}
	return c
}

// MotionDetector compares consecutive grayscale samples at a fixed resolution.
// Not safe for concurrent use; the monitor's sampler owns it.
type MotionDetector struct {
	cfg  MotionConfig
	prev *image.NRGBA
}

func NewMotionDetector(cfg MotionConfig) *MotionDetector {
	return &MotionDetector{cfg: cfg.withDefaults()}
}

// Observe samples frame and reports how many pixels changed beyond the threshold and whether
// that count exceeds the configured ratio. The first frame only sets the baseline.
func (d *MotionDetector) Observe(frame image.Image) (int, bool) {
	sample := imaging.Grayscale(imaging.Resize(frame, d.cfg.Width, d.cfg.Height, imaging.Box))
	prev := d.prev
	d.prev = sample
	if prev == nil || len(prev.Pix) != len(sample.Pix) {
		return 0, false
	}

	changed := 0
	// grayscale: R == G == B, so one channel per pixel is enough
	for i := 0; i < len(sample.Pix); i += 4 {
		delta := int(sample.Pix[i]) - int(prev.Pix[i])
		if delta < 0 {
			delta = -delta
		}
		if delta > d.cfg.Threshold {
			changed++
		}
	}
	total := d.cfg.Width * d.cfg.Height
	return changed, float64(changed) > d.cfg.PixelRatio*float64(total)
}

// Reset drops the baseline so the next frame starts a fresh comparison.
func (d *MotionDetector) Reset() {
	d.prev = nil
}
