package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("LONG_POLL_MAX_WAIT", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, 25*time.Second, cfg.LongPollMaxWait)
	assert.Equal(t, 5*time.Second, cfg.FinalizeMaxElapsed)
	assert.False(t, cfg.NATSEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("FINALIZE_MAX_ELAPSED", "2s")
	t.Setenv("RATE_LIMIT_REQUESTS", "10")
	t.Setenv("NATS_ENABLED", "true")

	cfg := Load()
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, 2*time.Second, cfg.FinalizeMaxElapsed)
	assert.Equal(t, 10, cfg.RateLimitRequests)
	assert.True(t, cfg.NATSEnabled)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("RATE_LIMIT_REQUESTS", "lots")
	t.Setenv("RECONCILE_INTERVAL", "soon")

	cfg := Load()
	assert.Equal(t, 120, cfg.RateLimitRequests)
	assert.Equal(t, time.Minute, cfg.ReconcileInterval)
}
