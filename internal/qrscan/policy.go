package qrscan

import (
	"time"

	"cleanpoints/internal/platform/config"
)

// DefaultMissPatterns are decoder messages that mean "no readable code in
// this frame" rather than a scanner fault. A code that is blurred or partly
// covered fails its checksum or format check and is still just a miss.
var DefaultMissPatterns = []string{
	"No QR code found",
	"IndexSizeError",
	"getImageData",
	"source width is 0",
	"NotFoundException",
	"ChecksumException",
	"FormatException",
	"No MultiFormat Readers were able to detect the code",
}

// Policy tunes the acquisition loop and its noise filter.
type Policy struct {
	// Interval between decode attempts. Zero runs attempts back to back.
	Interval time.Duration
	// MissThreshold consecutive expected misses before a hint is surfaced.
	MissThreshold int
	// MissCooldown is the minimum gap between two hints.
	MissCooldown time.Duration
	// ErrorThrottle is the minimum gap between two surfaced real failures.
	ErrorThrottle time.Duration
	MissPatterns  []string
}

func DefaultPolicy() Policy {
	return Policy{
		Interval:      100 * time.Millisecond,
		MissThreshold: 10,
		MissCooldown:  5 * time.Second,
		ErrorThrottle: 2 * time.Second,
		MissPatterns:  DefaultMissPatterns,
	}
}

// PolicyFromConfig overlays the configured values on DefaultPolicy.
func PolicyFromConfig(cfg config.ScanConfig) Policy {
	p := DefaultPolicy()
	if cfg.Interval > 0 {
		p.Interval = cfg.Interval
	}
	if cfg.MissThreshold > 0 {
		p.MissThreshold = cfg.MissThreshold
	}
	if cfg.MissCooldown > 0 {
		p.MissCooldown = cfg.MissCooldown
	}
	if cfg.ErrorThrottle > 0 {
		p.ErrorThrottle = cfg.ErrorThrottle
	}
	return p
}
