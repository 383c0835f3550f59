// Package config loads the controller's runtime options from the
// environment, with an optional .env file for local development.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/quota"
	"github.com/relaymesh/relayd/pkg/store"
)

// Config is the umbrella configuration object handed to every component at
// startup.
type Config struct {
	HTTPAddr string

	Database store.Config

	// Scheduler / registry tunables, parsed from the corresponding
	// millisecond env vars.
	LivenessWindow    time.Duration // LIVENESS_WINDOW_MS
	HeartbeatInterval time.Duration // HEARTBEAT_INTERVAL_MS
	QueueMaxAge       time.Duration // QUEUE_MAX_AGE_MS
	ScalingCooldown   time.Duration // SCALING_COOLDOWN_MS
	DefaultRetryMax   int           // DEFAULT_RETRY_MAX
	DefaultPlan       model.Role    // DEFAULT_PLAN

	// TierLimits is DefaultTierLimits with any PER_TIER_* overrides applied.
	TierLimits map[model.Role]quota.TierLimits

	// Slack notifications; empty token disables them.
	SlackToken   string
	SlackChannel string
	DashboardURL string

	// Optional Redis endpoint for sharing rate-limit buckets across
	// controller replicas; empty disables and buckets stay in-process.
	RedisAddr     string
	RedisPassword string
}

// Load reads configuration from the environment. envPath, when non-empty,
// names a .env file loaded first (missing file is only a warning, matching
// local-dev expectations).
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			slog.Warn("could not load env file, continuing with process environment", "path", envPath, "error", err)
		}
	}

	cfg := &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		Database: store.Config{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "relayd"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "relayd"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDurationMs("DB_CONN_MAX_LIFETIME_MS", 30*time.Minute),
			ConnMaxIdleTime: getEnvDurationMs("DB_CONN_MAX_IDLE_MS", 5*time.Minute),
		},
		LivenessWindow:    getEnvDurationMs("LIVENESS_WINDOW_MS", 30*time.Second),
		HeartbeatInterval: getEnvDurationMs("HEARTBEAT_INTERVAL_MS", 10*time.Second),
		QueueMaxAge:       getEnvDurationMs("QUEUE_MAX_AGE_MS", time.Hour),
		ScalingCooldown:   getEnvDurationMs("SCALING_COOLDOWN_MS", 5*time.Minute),
		DefaultRetryMax:   getEnvInt("DEFAULT_RETRY_MAX", 3),
		DefaultPlan:       model.Role(getEnv("DEFAULT_PLAN", string(model.RoleFree))),
		SlackToken:        getEnv("SLACK_TOKEN", ""),
		SlackChannel:      getEnv("SLACK_CHANNEL", ""),
		DashboardURL:      getEnv("DASHBOARD_URL", ""),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
	}

	switch cfg.DefaultPlan {
	case model.RoleFree, model.RolePro, model.RoleElite, model.RoleAdmin:
	default:
		return nil, fmt.Errorf("invalid DEFAULT_PLAN %q", cfg.DefaultPlan)
	}

	cfg.TierLimits = loadTierLimits()
	return cfg, nil
}

// loadTierLimits applies PER_TIER_<TIER>_<FIELD> env overrides onto the
// normative defaults, e.g. PER_TIER_FREE_MAX_SESSIONS=2 or
// PER_TIER_PRO_HOURLY=500. admin stays unlimited and is not overridable.
func loadTierLimits() map[model.Role]quota.TierLimits {
	limits := quota.DefaultTierLimits()
	for _, tier := range []model.Role{model.RoleFree, model.RolePro, model.RoleElite} {
		t := limits[tier]
		prefix := "PER_TIER_" + strings.ToUpper(string(tier)) + "_"
		t.MaxSessions = getEnvInt(prefix+"MAX_SESSIONS", t.MaxSessions)
		t.MaxPairs = getEnvInt(prefix+"MAX_PAIRS", t.MaxPairs)
		t.Priority = getEnvInt(prefix+"PRIORITY", t.Priority)
		t.HourlyAPI = getEnvInt(prefix+"HOURLY", t.HourlyAPI)
		t.DailyAPI = getEnvInt(prefix+"DAILY", t.DailyAPI)
		limits[tier] = t
	}
	return limits
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring non-integer env value", "key", key, "value", v)
		return fallback
	}
	return n
}

func getEnvDurationMs(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		slog.Warn("ignoring invalid millisecond env value", "key", key, "value", v)
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
