package store

import (
	"context"

	"github.com/relaymesh/relayd/pkg/model"
)

// PutScalingEvent appends an overflow-crossing record. Append-only, like
// ForwardingLog: the scheduler never edits or retracts a past event.
func (s *Store) PutScalingEvent(ctx context.Context, q Querier, e model.ScalingEvent) (model.ScalingEvent, error) {
	const query = `
		INSERT INTO scaling_events (type, trigger, details) VALUES ($1, $2, $3) RETURNING *`
	var out model.ScalingEvent
	err := q.GetContext(ctx, &out, query, e.Type, e.Trigger, e.Details)
	return out, classify(err)
}

// LastScalingEvent returns the most recent scaling event, if any, for the
// workers/system/status aggregation.
func (s *Store) LastScalingEvent(ctx context.Context, q Querier) (model.ScalingEvent, bool, error) {
	var e model.ScalingEvent
	err := q.GetContext(ctx, &e, `SELECT * FROM scaling_events ORDER BY created_at DESC LIMIT 1`)
	if err != nil {
		ce := classify(err)
		if relayErrIsNotFound(ce) {
			return model.ScalingEvent{}, false, nil
		}
		return model.ScalingEvent{}, false, ce
	}
	return e, true, nil
}

// ListScalingEvents returns recent scaling events, newest first.
func (s *Store) ListScalingEvents(ctx context.Context, q Querier, limit int) ([]model.ScalingEvent, error) {
	var out []model.ScalingEvent
	err := q.SelectContext(ctx, &out, `
		SELECT * FROM scaling_events ORDER BY created_at DESC LIMIT $1`, limit)
	return out, classify(err)
}
