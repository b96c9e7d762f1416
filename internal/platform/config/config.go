package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the kiosk process needs at startup.
type Config struct {
	Addr     string
	LogLevel string

	// APIBaseURL is the CleanPoints backend; submissions go to {APIBaseURL}/qr/validate.
	APIBaseURL    string
	SubmitTimeout time.Duration
	// Simulate swaps the backend for the random demo submitter.
	Simulate bool

	// CameraDir holds the frames played by the file-backed camera. Empty
	// means the platform has no camera.
	CameraDir      string
	CameraFrameGap time.Duration

	Scan  ScanConfig
	Redis RedisConfig
	Audit AuditConfig

	JPEGQuality int
}

// ScanConfig tunes QR acquisition.
type ScanConfig struct {
	Interval      time.Duration
	MissThreshold int
	MissCooldown  time.Duration
	ErrorThrottle time.Duration
}

// RedisConfig configures the session store. An empty URL selects the
// in-memory store.
type RedisConfig struct {
	URL          string
	KeyPrefix    string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AuditConfig configures where flow audit events go. No brokers keeps events
// in memory.
type AuditConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	Buffer       int
	// DatabaseURL enables the Postgres outbox. Events are written there
	// first and relayed to Kafka every RelayInterval.
	DatabaseURL   string
	RelayInterval time.Duration
}

// DefaultAPIBaseURL is the public CleanPoints backend.
const DefaultAPIBaseURL = "https://back-cleanpoint.onrender.com"

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{
		Addr:           ":8080",
		LogLevel:       "info",
		APIBaseURL:     DefaultAPIBaseURL,
		SubmitTimeout:  20 * time.Second,
		CameraFrameGap: 100 * time.Millisecond,
		Scan: ScanConfig{
			Interval:      100 * time.Millisecond,
			MissThreshold: 10,
			MissCooldown:  5 * time.Second,
			ErrorThrottle: 2 * time.Second,
		},
		Redis: RedisConfig{
			KeyPrefix:    "cleanpoints:session:",
			PoolSize:     10,
			MinIdleConns: 1,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Audit: AuditConfig{
			KafkaTopic:    "cleanpoints.flow.audit",
			Buffer:        256,
			RelayInterval: time.Second,
		},
		JPEGQuality: 85,
	}
}

// FromEnv builds a Config from CLEANPOINTS_* environment variables so main stays lean.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	p.str("CLEANPOINTS_ADDR", &cfg.Addr)
	p.str("CLEANPOINTS_LOG_LEVEL", &cfg.LogLevel)
	p.str("CLEANPOINTS_API_URL", &cfg.APIBaseURL)
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	p.duration("CLEANPOINTS_SUBMIT_TIMEOUT", &cfg.SubmitTimeout)
	p.boolean("CLEANPOINTS_SIMULATE", &cfg.Simulate)

	p.str("CLEANPOINTS_CAMERA_DIR", &cfg.CameraDir)
	p.duration("CLEANPOINTS_CAMERA_FRAME_GAP", &cfg.CameraFrameGap)

	var fps int
	p.integer("CLEANPOINTS_SCAN_FPS", &fps)
	if fps > 0 {
		cfg.Scan.Interval = time.Second / time.Duration(fps)
	}
	p.integer("CLEANPOINTS_SCAN_MISS_THRESHOLD", &cfg.Scan.MissThreshold)
	p.duration("CLEANPOINTS_SCAN_MISS_COOLDOWN", &cfg.Scan.MissCooldown)
	p.duration("CLEANPOINTS_SCAN_ERROR_THROTTLE", &cfg.Scan.ErrorThrottle)

	p.str("CLEANPOINTS_REDIS_URL", &cfg.Redis.URL)
	p.str("CLEANPOINTS_REDIS_KEY_PREFIX", &cfg.Redis.KeyPrefix)

	var brokers string
	p.str("CLEANPOINTS_KAFKA_BROKERS", &brokers)
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.Audit.KafkaBrokers = append(cfg.Audit.KafkaBrokers, b)
		}
	}
	p.str("CLEANPOINTS_AUDIT_TOPIC", &cfg.Audit.KafkaTopic)
	p.str("CLEANPOINTS_AUDIT_DATABASE_URL", &cfg.Audit.DatabaseURL)
	p.duration("CLEANPOINTS_AUDIT_RELAY_INTERVAL", &cfg.Audit.RelayInterval)

	p.integer("CLEANPOINTS_JPEG_QUALITY", &cfg.JPEGQuality)

	if p.err != nil {
		return Config{}, p.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the flow cannot run with.
func (c Config) Validate() error {
	if c.SubmitTimeout <= 0 {
		return fmt.Errorf("submit timeout must be positive, got %s", c.SubmitTimeout)
	}
	if c.Scan.Interval <= 0 {
		return fmt.Errorf("scan interval must be positive, got %s", c.Scan.Interval)
	}
	if c.Scan.MissThreshold < 1 {
		return fmt.Errorf("scan miss threshold must be at least 1, got %d", c.Scan.MissThreshold)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be within 1..100, got %d", c.JPEGQuality)
	}
	if !c.Simulate && c.APIBaseURL == "" {
		return fmt.Errorf("CLEANPOINTS_API_URL is required unless CLEANPOINTS_SIMULATE=true")
	}
	return nil
}

// parser remembers the first malformed variable.
type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) raw(key string) (string, bool) {
	v, ok := p.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.raw(key); ok {
		*dst = v
	}
}

func (p *parser) duration(key string, dst *time.Duration) {
	v, ok := p.raw(key)
	if !ok || p.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.err = fmt.Errorf("parse %s: %w", key, err)
		return
	}
	*dst = d
}

func (p *parser) integer(key string, dst *int) {
	v, ok := p.raw(key)
	if !ok || p.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.err = fmt.Errorf("parse %s: %w", key, err)
		return
	}
	*dst = n
}

func (p *parser) boolean(key string, dst *bool) {
	v, ok := p.raw(key)
	if !ok || p.err != nil {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.err = fmt.Errorf("parse %s: %w", key, err)
		return
	}
	*dst = b
}
