package store

import (
	"context"

	"github.com/relaymesh/relayd/pkg/model"
)

// PutWorkerControl enqueues an admin-issued command for a worker to poll.
func (s *Store) PutWorkerControl(ctx context.Context, q Querier, c model.WorkerControl) (model.WorkerControl, error) {
	const query = `
		INSERT INTO worker_controls (worker_id, session_id, action, status)
		VALUES ($1, $2, $3, $4)
		RETURNING *`
	var out model.WorkerControl
	err := q.GetContext(ctx, &out, query, c.WorkerID, c.SessionID, c.Action, model.ControlPending)
	return out, classify(err)
}

// ClaimPendingControls returns a worker's undelivered commands and marks
// them delivered in the same call, so a retried poll doesn't redeliver a
// command the worker already received but hasn't acked yet.
func (s *Store) ClaimPendingControls(ctx context.Context, q Querier, workerID string) ([]model.WorkerControl, error) {
	var out []model.WorkerControl
	err := q.SelectContext(ctx, &out, `
		SELECT * FROM worker_controls
		WHERE worker_id = $1 AND status = $2
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED`, workerID, model.ControlPending)
	if err != nil {
		return nil, classify(err)
	}
	if len(out) == 0 {
		return out, nil
	}
	ids := make([]string, len(out))
	for i, c := range out {
		ids[i] = c.ID
	}
	if _, err := q.ExecContext(ctx, `UPDATE worker_controls SET status = $1 WHERE id = ANY($2)`, model.ControlDelivered, pqArray(ids)); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// AckWorkerControl marks a delivered command as acknowledged.
func (s *Store) AckWorkerControl(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, `UPDATE worker_controls SET status = $2 WHERE id = $1`, id, model.ControlAcked)
	return classify(err)
}
