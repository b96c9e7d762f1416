// Package filesource is a camera.Device that plays still images from a
// directory. The kiosk uses it when no hardware adapter is configured, and
// the e2e suite points it at generated QR fixtures.
package filesource

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"cleanpoints/internal/camera"
)

// Device plays every PNG/JPEG under dir in lexical order, looping. Each frame
// is shown for gap before the next one.
type Device struct {
	dir string
	gap time.Duration
	now func() time.Time
}

type Option func(*Device)

// WithClock overrides the clock used to pick the current frame.
func WithClock(now func() time.Time) Option {
	return func(d *Device) {
		d.now = now
	}
}

func New(dir string, gap time.Duration, opts ...Option) *Device {
	d := &Device{dir: dir, gap: gap, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open loads the directory. A missing directory reports fs.ErrNotExist, an
// unreadable one fs.ErrPermission, so camera.Classify maps them onto
// device_not_found and permission_denied.
func (d *Device) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frames, err := load(d.dir)
	if err != nil {
		return nil, err
	}
	b := frames[0].Bounds()
	return &stream{
		frames:  frames,
		gap:     d.gap,
		now:     d.now,
		started: d.now(),
		width:   b.Dx(),
		height:  b.Dy(),
	}, nil
}

func load(dir string) ([]image.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading camera dir %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no frames in %s: %w", dir, fs.ErrNotExist)
	}
	slices.Sort(names)

	frames := make([]image.Image, 0, len(names))
	for _, name := range names {
		img, err := decodeFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		frames = append(frames, img)
	}
	return frames, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening frame: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding frame %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

type stream struct {
	frames  []image.Image
	gap     time.Duration
	now     func() time.Time
	started time.Time

	width, height int

	mu     sync.Mutex
	closed bool
}

func (s *stream) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, 0
	}
	return s.width, s.height
}

func (s *stream) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, camera.ErrReleased
	}
	idx := 0
	if s.gap > 0 {
		idx = int(s.now().Sub(s.started)/s.gap) % len(s.frames)
	}
	return s.frames[idx], nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
