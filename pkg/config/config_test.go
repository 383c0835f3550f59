package config

import (
	"testing"
	"time"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/quota"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LivenessWindow != 30*time.Second {
		t.Errorf("LivenessWindow = %v", cfg.LivenessWindow)
	}
	if cfg.QueueMaxAge != time.Hour {
		t.Errorf("QueueMaxAge = %v", cfg.QueueMaxAge)
	}
	if cfg.ScalingCooldown != 5*time.Minute {
		t.Errorf("ScalingCooldown = %v", cfg.ScalingCooldown)
	}
	if cfg.DefaultRetryMax != 3 {
		t.Errorf("DefaultRetryMax = %d", cfg.DefaultRetryMax)
	}
	if cfg.DefaultPlan != model.RoleFree {
		t.Errorf("DefaultPlan = %q", cfg.DefaultPlan)
	}
	if cfg.TierLimits[model.RoleFree].MaxSessions != 1 {
		t.Errorf("free MaxSessions = %d", cfg.TierLimits[model.RoleFree].MaxSessions)
	}
}

func TestLoad_MillisecondOptions(t *testing.T) {
	t.Setenv("LIVENESS_WINDOW_MS", "45000")
	t.Setenv("QUEUE_MAX_AGE_MS", "600000")
	t.Setenv("SCALING_COOLDOWN_MS", "60000")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LivenessWindow != 45*time.Second {
		t.Errorf("LivenessWindow = %v", cfg.LivenessWindow)
	}
	if cfg.QueueMaxAge != 10*time.Minute {
		t.Errorf("QueueMaxAge = %v", cfg.QueueMaxAge)
	}
	if cfg.ScalingCooldown != time.Minute {
		t.Errorf("ScalingCooldown = %v", cfg.ScalingCooldown)
	}
}

func TestLoad_TierOverrides(t *testing.T) {
	t.Setenv("PER_TIER_FREE_MAX_SESSIONS", "2")
	t.Setenv("PER_TIER_PRO_HOURLY", "600")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.TierLimits[model.RoleFree].MaxSessions; got != 2 {
		t.Errorf("free MaxSessions = %d, want 2", got)
	}
	if got := cfg.TierLimits[model.RolePro].HourlyAPI; got != 600 {
		t.Errorf("pro HourlyAPI = %d, want 600", got)
	}
	// Untouched fields keep their defaults; admin stays unlimited.
	if got := cfg.TierLimits[model.RoleFree].MaxPairs; got != 5 {
		t.Errorf("free MaxPairs = %d, want 5", got)
	}
	if got := cfg.TierLimits[model.RoleAdmin].MaxSessions; got != quota.Unlimited {
		t.Errorf("admin MaxSessions = %d, want unlimited", got)
	}
}

func TestLoad_RejectsBadDefaultPlan(t *testing.T) {
	t.Setenv("DEFAULT_PLAN", "platinum")
	if _, err := Load(""); err == nil {
		t.Fatal("expected an error for an unknown default plan tier")
	}
}
