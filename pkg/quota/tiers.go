// Package quota owns plan state, derived limits, and per-activity rate
// limiting — the plan-quota and rate-limit enforcement plane (C2) that
// gates session admission and API usage.
package quota

import "github.com/relaymesh/relayd/pkg/model"

// Unlimited marks a tier limit with no ceiling (the "∞" cells of the quota
// table).
const Unlimited = -1

// TierLimits is the derived quota shape for one plan tier.
type TierLimits struct {
	MaxSessions int
	MaxPairs    int
	Priority    int
	HourlyAPI   int
	DailyAPI    int
}

// DefaultTierLimits are the normative per-tier defaults; PER_TIER_*
// configuration overrides replace individual fields at load time.
func DefaultTierLimits() map[model.Role]TierLimits {
	return map[model.Role]TierLimits{
		model.RoleFree:  {MaxSessions: 1, MaxPairs: 5, Priority: 1, HourlyAPI: 100, DailyAPI: 1000},
		model.RolePro:   {MaxSessions: 3, MaxPairs: Unlimited, Priority: 2, HourlyAPI: 300, DailyAPI: 5000},
		model.RoleElite: {MaxSessions: 5, MaxPairs: Unlimited, Priority: 3, HourlyAPI: 500, DailyAPI: 10000},
		model.RoleAdmin: {MaxSessions: Unlimited, MaxPairs: Unlimited, Priority: 5, HourlyAPI: Unlimited, DailyAPI: Unlimited},
	}
}
