// Package camera owns the device-camera session: acquisition, live preview
// binding, and teardown. All transitions are gated through a single state
// value so acquisition, the bind retry loop, and teardown can never race on
// the active stream.
package camera

import (
	"context"
	"errors"
	"sync"
	"time"

	"presensi/internal/device"
)

// State of the capture session.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateError    State = "error"
)

// ErrStopped reports that the session was torn down while a start was in
// flight. The in-flight start releases any stream it acquired and gives up.
var ErrStopped = errors.New("camera session stopped")

// Config bounds acquisition and the preview bind retry loop.
type Config struct {
	// AcquireWait caps how long Open may block, 0 for no cap.
	AcquireWait time.Duration
	// BindAttempts is the retry budget for the preview surface appearing.
	BindAttempts int
	// BindBackoff is the sleep between late bind attempts; the first few
	// attempts spin faster since the surface usually appears within frames.
	BindBackoff time.Duration
}

// DefaultConfig mirrors the observed rendering race: the surface almost
// always mounts within a second, so 15 attempts at 100ms covers it.
var DefaultConfig = Config{
	AcquireWait:  30 * time.Second,
	BindAttempts: 15,
	BindBackoff:  100 * time.Millisecond,
}

// quickAttempts bind retries run at a fraction of the backoff before the
// loop settles into its full interval.
const quickAttempts = 5

// Surface is the preview view a live stream binds to. It may not exist yet
// when the stream resolves; the controller retries until it does.
type Surface interface {
	Attach(s device.Stream)
	Detach()
}

// Controller drives one capture session: idle -> starting -> ready, with
// error on acquisition or bind failure, and idle again on stop. Exactly one
// stream may be active at a time.
type Controller struct {
	cam     device.Camera
	surface func() Surface
	cfg     Config

	mu      sync.Mutex
	state   State
	stream  device.Stream
	bound   Surface
	lastErr *device.Error
	epoch   uint64 // bumped by Stop; an in-flight Start from an older epoch aborts
}

// New creates an idle controller. surface may return nil until the preview
// view exists.
func New(cam device.Camera, surface func() Surface, cfg Config) *Controller {
	if cfg.BindAttempts <= 0 {
		cfg.BindAttempts = DefaultConfig.BindAttempts
	}
	if cfg.BindBackoff <= 0 {
		cfg.BindBackoff = DefaultConfig.BindBackoff
	}
	return &Controller{cam: cam, surface: surface, cfg: cfg, state: StateIdle}
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the classified failure when the session is in the error state.
func (c *Controller) Err() *device.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Stream returns the active stream once the session is ready, nil otherwise.
func (c *Controller) Stream() device.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return nil
	}
	return c.stream
}

// Start acquires a front-facing video-only stream and binds it to the
// preview surface, retrying the bind up to the configured budget. A failed
// begin-playback after a successful bind still counts as ready, since the
// bound stream may render via native autoplay.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateReady || c.state == StateStarting {
		c.stopLocked()
	}
	c.state = StateStarting
	c.lastErr = nil
	epoch := c.epoch
	c.mu.Unlock()

	acquireCtx := ctx
	if c.cfg.AcquireWait > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, c.cfg.AcquireWait)
		defer cancel()
	}

	stream, err := c.cam.Open(acquireCtx, device.Constraints{FacingMode: "user", Width: 1280, Height: 720})
	if err != nil {
		derr := classify(err)
		c.mu.Lock()
		if c.epoch == epoch && c.state == StateStarting {
			c.state = StateError
			c.lastErr = derr
		}
		c.mu.Unlock()
		return derr
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		release(stream)
		return ErrStopped
	}
	c.stream = stream
	c.mu.Unlock()

	return c.bind(stream, epoch)
}

// bind attaches the stream to the preview surface, tolerating the surface
// not existing yet. The loop is closed and bounded; it never polls forever.
func (c *Controller) bind(stream device.Stream, epoch uint64) error {
	for attempt := 0; attempt < c.cfg.BindAttempts; attempt++ {
		c.mu.Lock()
		if c.epoch != epoch {
			c.mu.Unlock()
			release(stream)
			return ErrStopped
		}
		if s := c.surface(); s != nil {
			s.Attach(stream)
			c.bound = s
			c.state = StateReady
			c.mu.Unlock()
			// Lenient on purpose: the surface is bound, autoplay may
			// still render even when the explicit play call fails.
			_ = stream.Play()
			return nil
		}
		c.mu.Unlock()

		if attempt < quickAttempts {
			time.Sleep(c.cfg.BindBackoff / 10)
		} else {
			time.Sleep(c.cfg.BindBackoff)
		}
	}

	derr := &device.Error{
		Reason:  device.ReasonUnavailable,
		Message: "camera preview never became available",
	}
	c.mu.Lock()
	if c.epoch == epoch && c.state == StateStarting {
		c.stream = nil
		c.state = StateError
		c.lastErr = derr
	}
	c.mu.Unlock()
	release(stream)
	return derr
}

// Stop halts every track of the active stream, detaches the surface, and
// returns to idle. Idempotent; a no-op with no active stream. Must run on
// every exit path so no live camera indicator outlasts the session.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	c.epoch++
	if c.stream != nil {
		release(c.stream)
		c.stream = nil
	}
	if c.bound != nil {
		c.bound.Detach()
		c.bound = nil
	}
	c.state = StateIdle
	c.lastErr = nil
}

func release(stream device.Stream) {
	for _, t := range stream.Tracks() {
		t.Stop()
	}
}

func classify(err error) *device.Error {
	var derr *device.Error
	if errors.As(err, &derr) {
		return derr
	}
	return &device.Error{Reason: device.ReasonUnavailable, Message: "failed to access the camera", Cause: err}
}
