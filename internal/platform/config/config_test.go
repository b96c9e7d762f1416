package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromEnv(t *testing.T) {
	t.Run("defaults match the scanner design values", func(t *testing.T) {
		cfg, err := fromLookup(lookupFrom(nil))
		require.NoError(t, err)

		assert.Equal(t, ":8080", cfg.Addr)
		assert.Equal(t, DefaultAPIBaseURL, cfg.APIBaseURL)
		assert.Equal(t, 100*time.Millisecond, cfg.Scan.Interval)
		assert.Equal(t, 10, cfg.Scan.MissThreshold)
		assert.Equal(t, 5*time.Second, cfg.Scan.MissCooldown)
		assert.Equal(t, 2*time.Second, cfg.Scan.ErrorThrottle)
		assert.Equal(t, 20*time.Second, cfg.SubmitTimeout)
		assert.Equal(t, 85, cfg.JPEGQuality)
		assert.Empty(t, cfg.Audit.KafkaBrokers)
	})

	t.Run("overrides are applied", func(t *testing.T) {
		cfg, err := fromLookup(lookupFrom(map[string]string{
			"CLEANPOINTS_API_URL":        "http://127.0.0.1:5000/",
			"CLEANPOINTS_SCAN_FPS":       "5",
			"CLEANPOINTS_SUBMIT_TIMEOUT": "15s",
			"CLEANPOINTS_KAFKA_BROKERS":  "a:9092, b:9092,",
			"CLEANPOINTS_SIMULATE":       "true",

			"CLEANPOINTS_AUDIT_DATABASE_URL":   "postgres://kiosk@db/audit",
			"CLEANPOINTS_AUDIT_RELAY_INTERVAL": "250ms",
		}))
		require.NoError(t, err)

		assert.Equal(t, "http://127.0.0.1:5000", cfg.APIBaseURL)
		assert.Equal(t, 200*time.Millisecond, cfg.Scan.Interval)
		assert.Equal(t, 15*time.Second, cfg.SubmitTimeout)
		assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Audit.KafkaBrokers)
		assert.True(t, cfg.Simulate)
		assert.Equal(t, "postgres://kiosk@db/audit", cfg.Audit.DatabaseURL)
		assert.Equal(t, 250*time.Millisecond, cfg.Audit.RelayInterval)
	})

	t.Run("malformed values are reported", func(t *testing.T) {
		_, err := fromLookup(lookupFrom(map[string]string{
			"CLEANPOINTS_SUBMIT_TIMEOUT": "soon",
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CLEANPOINTS_SUBMIT_TIMEOUT")
	})

	t.Run("out of range quality is rejected", func(t *testing.T) {
		_, err := fromLookup(lookupFrom(map[string]string{
			"CLEANPOINTS_JPEG_QUALITY": "140",
		}))
		require.Error(t, err)
	})
}
