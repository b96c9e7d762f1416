// Package camera owns the capture device. A Manager hands out at most one
// Handle at a time; callers must Release a handle before acquiring the next.
package camera

import (
	"context"
	"image"
)

// Mode says what the stream is acquired for.
type Mode string

const (
	// ModeDecode feeds the QR scanner.
	ModeDecode Mode = "decode"
	// ModeCapture feeds evidence photos.
	ModeCapture Mode = "capture"
)

// Facing selects the physical camera.
type Facing string

const (
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

// Constraints describe the stream requested from a Device.
type Constraints struct {
	Mode   Mode
	Facing Facing
}

// DecodeConstraints is the default request for QR scanning.
func DecodeConstraints() Constraints {
	return Constraints{Mode: ModeDecode, Facing: FacingEnvironment}
}

// CaptureConstraints is the default request for evidence photos.
func CaptureConstraints() Constraints {
	return Constraints{Mode: ModeCapture, Facing: FacingEnvironment}
}

// Device is the platform camera API.
type Device interface {
	// Open starts a stream. It must return promptly when the platform refuses.
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a live video sink.
type Stream interface {
	// Dimensions reports the current frame size; zero until the sink has
	// received its first frame.
	Dimensions() (width, height int)
	// Frame returns the most recent frame.
	Frame(ctx context.Context) (image.Image, error)
	Close() error
}
