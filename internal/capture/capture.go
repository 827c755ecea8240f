// Package capture turns one live video frame into a stored photo artifact:
// a displayable preview and a compressed payload for upload.
package capture

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
)

// jpegQuality matches the preview compression the client renders.
const jpegQuality = 95

// ErrNotReady reports that the source has no decodable frame yet. The caller
// should wait and retry; any existing photo is left untouched.
var ErrNotReady = errors.New("video not ready yet, wait a moment and try again")

// Source provides the most recent decoded frame of a live stream.
type Source interface {
	Frame() (image.Image, bool)
}

// Photo is one frozen frame in both derived forms. Only one Photo should
// exist per session at a time; taking a new one invalidates the previous.
type Photo struct {
	// PreviewDataURL is a base64 JPEG data URL for display.
	PreviewDataURL string
	// Payload is the compressed upload body.
	Payload []byte
	TakenAt time.Time
}

// Take renders exactly one frame from the source at its native resolution,
// horizontally mirrored. The live preview is mirrored for a natural selfie
// orientation but the underlying frame is not, so the mirror is re-applied
// here; skipping it would store photos flipped relative to what the user saw.
func Take(src Source) (*Photo, error) {
	frame, ok := src.Frame()
	if !ok {
		return nil, ErrNotReady
	}
	bounds := frame.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, ErrNotReady
	}

	mirrored := imaging.FlipH(frame)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, mirrored, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	payload := buf.Bytes()

	return &Photo{
		PreviewDataURL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(payload),
		Payload:        payload,
		TakenAt:        time.Now(),
	}, nil
}
