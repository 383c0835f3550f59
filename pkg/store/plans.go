package store

import (
	"context"

	"github.com/relaymesh/relayd/pkg/model"
)

// GetPlan fetches a user's plan.
func (s *Store) GetPlan(ctx context.Context, q Querier, userID string) (model.Plan, error) {
	var p model.Plan
	err := q.GetContext(ctx, &p, `SELECT * FROM plans WHERE user_id = $1`, userID)
	return p, classify(err)
}

// PutPlan inserts the initial plan row for a newly provisioned user.
func (s *Store) PutPlan(ctx context.Context, q Querier, p model.Plan) (model.Plan, error) {
	const query = `
		INSERT INTO plans (user_id, tier, status, max_sessions, max_pairs, priority, start, expiry)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *`
	var out model.Plan
	err := q.GetContext(ctx, &out, query, p.UserID, p.Tier, p.Status, p.MaxSessions, p.MaxPairs, p.Priority, p.Start, p.Expiry)
	return out, classify(err)
}

// UpdatePlanWith loads a plan, applies fn, and writes it back with an
// optimistic version compare-and-swap. fn mutates counters (reserve/release)
// or the tier itself (change_plan); a concurrent writer racing the same row
// loses the CAS and the caller retries via store.RetryBusy.
func (s *Store) UpdatePlanWith(ctx context.Context, q Querier, userID string, fn func(*model.Plan) error) (model.Plan, error) {
	var p model.Plan
	if err := q.GetContext(ctx, &p, `SELECT * FROM plans WHERE user_id = $1 FOR UPDATE`, userID); err != nil {
		return model.Plan{}, classify(err)
	}
	if err := fn(&p); err != nil {
		return model.Plan{}, err
	}
	const query = `
		UPDATE plans SET
			tier = $2, status = $3, max_sessions = $4, max_pairs = $5, priority = $6,
			current_sessions = $7, current_pairs = $8, expiry = $9, version = version + 1
		WHERE user_id = $1 AND version = $10
		RETURNING *`
	var out model.Plan
	err := q.GetContext(ctx, &out, query,
		p.UserID, p.Tier, p.Status, p.MaxSessions, p.MaxPairs, p.Priority,
		p.CurrentSessions, p.CurrentPairs, p.Expiry, p.Version)
	if err != nil {
		return model.Plan{}, classify(err)
	}
	return out, nil
}

// ListExpiredPlans returns active plans whose expiry has passed, for the
// retention/reconciliation sweep.
func (s *Store) ListExpiredPlans(ctx context.Context, q Querier) ([]model.Plan, error) {
	var out []model.Plan
	err := q.SelectContext(ctx, &out, `
		SELECT * FROM plans WHERE status = $1 AND expiry IS NOT NULL AND expiry < now()`,
		model.PlanStatusActive)
	return out, classify(err)
}
