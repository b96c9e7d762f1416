package qrscan

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	dErrors "cleanpoints/pkg/domain-errors"
)

// Notice is something the scanner wants the user to see while it keeps
// running: a "no code detected" hint or a throttled fault.
type Notice struct {
	Code    dErrors.Code
	Message string
}

// MissFilter separates expected per-frame misses from real scanner failures
// and decides which of them reach the user.
type MissFilter struct {
	patterns  []string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	misses   int
	lastHint time.Time
	faults   *rate.Limiter
}

func NewMissFilter(p Policy) *MissFilter {
	patterns := p.MissPatterns
	if len(patterns) == 0 {
		patterns = DefaultMissPatterns
	}
	threshold := p.MissThreshold
	if threshold < 1 {
		threshold = 1
	}
	return &MissFilter{
		patterns:  patterns,
		threshold: threshold,
		cooldown:  p.MissCooldown,
		faults:    rate.NewLimiter(rate.Every(p.ErrorThrottle), 1),
	}
}

// IsMiss reports whether err is an expected "nothing in this frame" result.
func (f *MissFilter) IsMiss(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, p := range f.patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// ResetMisses zeroes the consecutive miss count. The hint cooldown is kept.
func (f *MissFilter) ResetMisses() {
	f.mu.Lock()
	f.misses = 0
	f.mu.Unlock()
}

// Misses returns the current consecutive miss count.
func (f *MissFilter) Misses() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.misses
}

// Observe records one failed attempt at now and returns the notice to
// surface, if any.
func (f *MissFilter) Observe(now time.Time, err error) (Notice, bool) {
	if err == nil {
		return Notice{}, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.IsMiss(err) {
		f.misses++
		if f.misses < f.threshold {
			return Notice{}, false
		}
		if !f.lastHint.IsZero() && now.Sub(f.lastHint) <= f.cooldown {
			return Notice{}, false
		}
		f.lastHint = now
		return Notice{
			Code:    dErrors.CodeNoQRDetected,
			Message: dErrors.UserMessage(dErrors.CodeNoQRDetected),
		}, true
	}

	f.misses = 0
	if !f.faults.AllowN(now, 1) {
		return Notice{}, false
	}
	return Notice{Code: dErrors.CodeScannerFault, Message: err.Error()}, true
}
