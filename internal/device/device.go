// Package device models the host device capabilities the check-in engine
// depends on: a one-shot position fix and a live camera stream. Both may be
// absent or denied, so every failure is classified rather than fatal.
package device

import (
	"context"
	"image"
)

// Position is one geographic fix from the host device, in degrees.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PositionProvider yields one current position fix.
type PositionProvider interface {
	CurrentPosition(ctx context.Context) (Position, error)
}

// Constraints describe the capture stream to acquire.
type Constraints struct {
	FacingMode string
	Width      int
	Height     int
}

// Track is one media track of an active stream. Stop halts the track and
// releases its device resource.
type Track interface {
	Label() string
	Stop()
}

// Stream is one live camera acquisition. Frame reports false until the first
// frame is decodable, and again after every track has been stopped.
type Stream interface {
	Frame() (image.Image, bool)
	Play() error
	Tracks() []Track
}

// Camera acquires capture streams from the host device. Open blocks until the
// stream is live or the acquisition fails, honoring ctx.
type Camera interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}
