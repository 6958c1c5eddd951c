// Package config loads errwatch's process configuration from the
// environment, applying the documented defaults to unset variables and
// raising a FatalConfigError for a value that is malformed or unsupported.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"errwatch/internal/apperrors"
)

// Config is the fully resolved process configuration.
type Config struct {
	LogLevel string
	HTTPAddr string

	SQLitePath string

	AggregationWindow    time.Duration
	DefaultCooldown      time.Duration
	DefaultEscalation    time.Duration
	DeploymentLookback   time.Duration
	DigestInterval       time.Duration
	RetentionInterval    time.Duration
	WebhookTimeout       time.Duration

	StateDriver string // "memory" or "mongo"

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	UnsubscribeBaseURL string
	DashboardBaseURL   string

	// DevSeedPath, when set, points at a YAML fixture file loaded into
	// the memory store at startup. Empty disables seeding.
	DevSeedPath string
}

// Load reads the environment and returns a fully resolved Config,
// applying spec defaults (5 min aggregation window, 30 min cooldown,
// 120 min escalation) to anything unset. Returns a *apperrors.FatalConfigError
// wrapped as error when a value is present but cannot be parsed.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:   getString("ERRWATCH_LOG_LEVEL", "info"),
		HTTPAddr:   getString("ERRWATCH_HTTP_ADDR", ":8080"),
		SQLitePath: getString("ERRWATCH_SQLITE_PATH", "errwatch.db"),

		StateDriver: getString("ALERT_STATE_DRIVER", "memory"),

		SMTPHost: getString("ERRWATCH_SMTP_HOST", ""),
		SMTPUser: getString("ERRWATCH_SMTP_USER", ""),
		SMTPPass: getString("ERRWATCH_SMTP_PASS", ""),
		SMTPFrom: getString("ERRWATCH_SMTP_FROM", "errwatch@localhost"),

		UnsubscribeBaseURL: getString("ERRWATCH_UNSUBSCRIBE_BASE_URL", ""),
		DashboardBaseURL:   getString("ERRWATCH_DASHBOARD_BASE_URL", ""),

		DevSeedPath: getString("ERRWATCH_DEV_SEED_PATH", ""),
	}

	var err error
	if cfg.AggregationWindow, err = getDurationMs("ALERT_AGGREGATION_WINDOW_MS", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DefaultCooldown, err = getDurationMinutes("ALERT_COOLDOWN_MINUTES", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DefaultEscalation, err = getDurationMinutes("ALERT_ESCALATION_MINUTES", 120*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DeploymentLookback, err = getDurationMs("ALERT_DEPLOYMENT_LOOKBACK_MS", 12*time.Hour); err != nil {
		return nil, err
	}
	if cfg.DigestInterval, err = getDurationMs("ALERT_DIGEST_INTERVAL_MS", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RetentionInterval, err = getDurationMs("RETENTION_CLEANUP_INTERVAL_MS", time.Hour); err != nil {
		return nil, err
	}
	if cfg.WebhookTimeout, err = getDurationMs("WEBHOOK_TIMEOUT_MS", 7*time.Second); err != nil {
		return nil, err
	}
	if cfg.SMTPPort, err = getInt("ERRWATCH_SMTP_PORT", 587); err != nil {
		return nil, err
	}

	if cfg.StateDriver != "memory" && cfg.StateDriver != "mongo" {
		return nil, apperrors.NewFatalConfigError("ALERT_STATE_DRIVER",
			fmt.Sprintf("unsupported ALERT_STATE_DRIVER %q: must be memory or mongo", cfg.StateDriver))
	}

	return cfg, nil
}

func getString(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return fallback
}

func getInt(name string, fallback int) (int, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperrors.NewFatalConfigError(name, fmt.Sprintf("invalid integer for %s: %v", name, err))
	}
	return n, nil
}

func getDurationMs(name string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, apperrors.NewFatalConfigError(name, fmt.Sprintf("invalid duration (ms) for %s: %v", name, err))
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func getDurationMinutes(name string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback, nil
	}
	minutes, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, apperrors.NewFatalConfigError(name, fmt.Sprintf("invalid duration (minutes) for %s: %v", name, err))
	}
	return time.Duration(minutes * float64(time.Minute)), nil
}
