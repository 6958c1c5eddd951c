package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.StateDriver)
	assert.Equal(t, 5*time.Minute, cfg.AggregationWindow)
	assert.Equal(t, 30*time.Minute, cfg.DefaultCooldown)
	assert.Equal(t, 120*time.Minute, cfg.DefaultEscalation)
	assert.Equal(t, 7*time.Second, cfg.WebhookTimeout)
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	t.Setenv("ALERT_AGGREGATION_WINDOW_MS", "1000")
	t.Setenv("ALERT_COOLDOWN_MINUTES", "10")
	t.Setenv("ALERT_STATE_DRIVER", "mongo")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.AggregationWindow)
	assert.Equal(t, 10*time.Minute, cfg.DefaultCooldown)
	assert.Equal(t, "mongo", cfg.StateDriver)
}

func TestLoad_InvalidStateDriver(t *testing.T) {
	t.Setenv("ALERT_STATE_DRIVER", "postgres")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_InvalidDurationValue(t *testing.T) {
	t.Setenv("ALERT_AGGREGATION_WINDOW_MS", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}
