package device

import (
	"context"
	"errors"
	"image"
	"sync"
)

// ErrStreamReleased is returned when a frame arrives for a stream whose
// tracks have already been stopped.
var ErrStreamReleased = errors.New("capture stream released")

// RemotePosition is a PositionProvider fed by the client device over HTTP.
// The first Deliver or Fail settles it; later calls are ignored.
type RemotePosition struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	pos     Position
	err     *Error
}

func NewRemotePosition() *RemotePosition {
	return &RemotePosition{done: make(chan struct{})}
}

// Deliver records the device's position fix.
func (p *RemotePosition) Deliver(pos Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return
	}
	p.pos = pos
	p.settled = true
	close(p.done)
}

// Fail records a classified acquisition failure.
func (p *RemotePosition) Fail(err *Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return
	}
	p.err = err
	p.settled = true
	close(p.done)
}

// CurrentPosition blocks until the client delivers a fix or ctx expires.
func (p *RemotePosition) CurrentPosition(ctx context.Context) (Position, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.err != nil {
			return Position{}, p.err
		}
		return p.pos, nil
	case <-ctx.Done():
		return Position{}, &Error{Reason: ReasonUnavailable, Message: "timed out waiting for a position fix", Cause: ctx.Err()}
	}
}

// RemoteCamera is a Camera fed by the client device: the first delivered
// frame completes acquisition, a reported failure aborts it.
type RemoteCamera struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	stream  *remoteStream
	openErr *Error
}

func NewRemoteCamera() *RemoteCamera {
	return &RemoteCamera{done: make(chan struct{})}
}

// Deliver stores the newest preview frame, settling acquisition on the first.
func (c *RemoteCamera) Deliver(frame image.Image) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return c.openErr
	}
	if c.stream == nil {
		c.stream = &remoteStream{}
	}
	if err := c.stream.deliver(frame); err != nil {
		return err
	}
	if !c.settled {
		c.settled = true
		close(c.done)
	}
	return nil
}

// Fail records an acquisition failure reported by the client. A no-op once
// frames have started arriving.
func (c *RemoteCamera) Fail(err *Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settled {
		return
	}
	c.openErr = err
	c.settled = true
	close(c.done)
}

// Open blocks until the first frame arrives, the client reports a failure,
// or ctx expires.
func (c *RemoteCamera) Open(ctx context.Context, _ Constraints) (Stream, error) {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.openErr != nil {
			return nil, c.openErr
		}
		return c.stream, nil
	case <-ctx.Done():
		return nil, &Error{Reason: ReasonUnavailable, Message: "no camera frames received from the device", Cause: ctx.Err()}
	}
}

type remoteStream struct {
	mu      sync.Mutex
	frame   image.Image
	stopped bool
}

func (s *remoteStream) deliver(frame image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStreamReleased
	}
	s.frame = frame
	return nil
}

func (s *remoteStream) Frame() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.frame == nil {
		return nil, false
	}
	return s.frame, true
}

// Play is a no-op: playback happens on the client side of the stream.
func (s *remoteStream) Play() error { return nil }

func (s *remoteStream) Tracks() []Track {
	return []Track{&remoteTrack{stream: s}}
}

type remoteTrack struct{ stream *remoteStream }

func (t *remoteTrack) Label() string { return "remote-video" }

func (t *remoteTrack) Stop() {
	t.stream.mu.Lock()
	defer t.stream.mu.Unlock()
	t.stream.stopped = true
	t.stream.frame = nil
}
