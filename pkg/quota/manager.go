package quota

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/relayerr"
	"github.com/relaymesh/relayd/pkg/store"
)

// ReservationKind is the resource a reserve/release call accounts for.
type ReservationKind string

const (
	KindSession ReservationKind = "session"
	KindPair    ReservationKind = "pair"
)

// PlanDowngradeOverage is emitted by ChangePlan when a downgrade leaves a
// user's current usage above the new tier's limits. The manager never
// auto-terminates sessions or mappings to resolve the overage; it only
// reports it.
type PlanDowngradeOverage struct {
	UserID  string
	Kind    ReservationKind
	Current int
	Max     int
}

// Manager owns plan state, derived limits, and per-(user, activity) token
// buckets.
type Manager struct {
	store   *store.Store
	limits  map[model.Role]TierLimits
	buckets *bucketRegistry
	shared  *SharedBuckets // nil: buckets stay in-process
	log     *slog.Logger
}

// New builds a Manager. limits should come from config.Load's per-tier
// overrides merged onto DefaultTierLimits.
func New(st *store.Store, limits map[model.Role]TierLimits, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: st, limits: limits, buckets: newBucketRegistry(limits), log: log}
}

// LimitsFor returns the TierLimits for a role.
func (m *Manager) LimitsFor(role model.Role) TierLimits {
	return m.limits[role]
}

// Reserve implements reserve(user, kind): inside one transaction, returns ok
// iff current_<kind> < max_<kind>, incrementing the counter on success.
func (m *Manager) Reserve(ctx context.Context, userID string, kind ReservationKind) error {
	return store.RetryBusy(ctx, 5, func() error {
		return m.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
			return m.ReserveIn(ctx, q, userID, kind)
		})
	})
}

// ReserveIn is Reserve running inside the caller's transaction, so a
// reservation commits or rolls back atomically with the mutation it gates
// (assignment creation, mapping insert). The scheduler depends on this: a
// retried assign transaction must not leave stray increments behind.
func (m *Manager) ReserveIn(ctx context.Context, q store.Querier, userID string, kind ReservationKind) error {
	_, err := m.store.UpdatePlanWith(ctx, q, userID, func(p *model.Plan) error {
		cur, max := planCounters(p, kind)
		if max != Unlimited && cur >= max {
			return relayerr.New(relayerr.KindQuotaExceeded, fmt.Sprintf("%s quota exceeded", kind)).
				WithDetails(map[string]any{"resource": string(kind), "current": cur, "max": max})
		}
		setPlanCounter(p, kind, cur+1)
		return nil
	})
	return err
}

// Release implements release(user, kind): decrements, clamped at zero.
func (m *Manager) Release(ctx context.Context, userID string, kind ReservationKind) error {
	return store.RetryBusy(ctx, 5, func() error {
		return m.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
			_, err := m.store.UpdatePlanWith(ctx, q, userID, func(p *model.Plan) error {
				cur, _ := planCounters(p, kind)
				if cur > 0 {
					cur--
				}
				setPlanCounter(p, kind, cur)
				return nil
			})
			return err
		})
	})
}

// UseSharedBuckets switches rate limiting to the Redis-replicated windows,
// for deployments running more than one controller replica.
func (m *Manager) UseSharedBuckets(s *SharedBuckets) { m.shared = s }

// Allow implements allow(user, activity): a per-(user, activity) pair of
// token buckets (hourly, daily) gated on the plan's tier limits. Returns nil
// or a *relayerr.Error of KindThrottled carrying retry_after_s.
func (m *Manager) Allow(ctx context.Context, userID string, tier model.Role, activity string) error {
	if m.shared != nil {
		return m.shared.Allow(ctx, userID, tier, activity)
	}
	return m.buckets.allow(userID, tier, activity)
}

// ChangePlan implements change_plan(user, new_tier): writes new limits; if
// usage now exceeds the new tier, a PlanDowngradeOverage is returned for the
// caller to act on (typically: log + notify). Sessions/mappings are never
// auto-terminated.
func (m *Manager) ChangePlan(ctx context.Context, userID string, newTier model.Role) (*PlanDowngradeOverage, error) {
	limits, ok := m.limits[newTier]
	if !ok {
		return nil, relayerr.Newf(relayerr.KindInputInvalid, "unknown plan tier %q", newTier)
	}

	var overage *PlanDowngradeOverage
	err := store.RetryBusy(ctx, 5, func() error {
		overage = nil
		return m.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
			p, err := m.store.UpdatePlanWith(ctx, q, userID, func(p *model.Plan) error {
				p.Tier = newTier
				p.MaxSessions = limits.MaxSessions
				p.MaxPairs = limits.MaxPairs
				p.Priority = limits.Priority
				return nil
			})
			if err != nil {
				return err
			}
			if p.MaxSessions != Unlimited && p.CurrentSessions > p.MaxSessions {
				overage = &PlanDowngradeOverage{UserID: userID, Kind: KindSession, Current: p.CurrentSessions, Max: p.MaxSessions}
			} else if p.MaxPairs != Unlimited && p.CurrentPairs > p.MaxPairs {
				overage = &PlanDowngradeOverage{UserID: userID, Kind: KindPair, Current: p.CurrentPairs, Max: p.MaxPairs}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if overage != nil {
		m.log.Warn("plan downgrade left usage over new limits",
			"user_id", userID, "kind", overage.Kind, "current", overage.Current, "max", overage.Max)
	}
	return overage, nil
}

// Reconcile recomputes every plan's current_sessions/current_pairs from
// the live session/mapping rows in one transaction. Runs at startup before
// the admin server accepts traffic, so counters survive restarts honestly.
func (m *Manager) Reconcile(ctx context.Context) error {
	return m.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
		rows, err := q.QueryxContext(ctx, `SELECT user_id FROM plans`)
		if err != nil {
			return err
		}
		var userIDs []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			userIDs = append(userIDs, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		for _, userID := range userIDs {
			sessions, err := m.store.ListSessionsByUser(ctx, q, userID)
			if err != nil {
				return err
			}
			liveSessions := 0
			for _, s := range sessions {
				switch s.Status {
				case model.SessionActive, model.SessionPaused, model.SessionCrashed:
					liveSessions++
				}
			}

			mappings, err := m.store.ListMappingsByUser(ctx, q, userID)
			if err != nil {
				return err
			}

			if _, err := m.store.UpdatePlanWith(ctx, q, userID, func(p *model.Plan) error {
				p.CurrentSessions = liveSessions
				p.CurrentPairs = len(mappings)
				return nil
			}); err != nil {
				return err
			}
		}
		m.log.Info("quota reconciliation complete", "users", len(userIDs))
		return nil
	})
}

func planCounters(p *model.Plan, kind ReservationKind) (current, max int) {
	if kind == KindSession {
		return p.CurrentSessions, p.MaxSessions
	}
	return p.CurrentPairs, p.MaxPairs
}

func setPlanCounter(p *model.Plan, kind ReservationKind, v int) {
	if kind == KindSession {
		p.CurrentSessions = v
		return
	}
	p.CurrentPairs = v
}
