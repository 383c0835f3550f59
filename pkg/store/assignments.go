package store

import (
	"context"

	"github.com/relaymesh/relayd/pkg/model"
)

// GetAssignment fetches an assignment by id.
func (s *Store) GetAssignment(ctx context.Context, q Querier, id string) (model.Assignment, error) {
	var a model.Assignment
	err := q.GetContext(ctx, &a, `SELECT * FROM session_assignments WHERE id = $1`, id)
	return a, classify(err)
}

// GetAssignmentBySession fetches the (at most one) live assignment for a session.
func (s *Store) GetAssignmentBySession(ctx context.Context, q Querier, sessionID string) (model.Assignment, error) {
	var a model.Assignment
	err := q.GetContext(ctx, &a, `SELECT * FROM session_assignments WHERE session_id = $1`, sessionID)
	return a, classify(err)
}

// ListAssignmentsByWorker returns every assignment currently bound to a worker.
func (s *Store) ListAssignmentsByWorker(ctx context.Context, q Querier, workerID string) ([]model.Assignment, error) {
	var out []model.Assignment
	err := q.SelectContext(ctx, &out, `SELECT * FROM session_assignments WHERE worker_id = $1`, workerID)
	return out, classify(err)
}

// ListAssignmentsByStatus returns assignments in a given lifecycle state,
// used by the liveness scan to find stuck migrations and dead heartbeats.
func (s *Store) ListAssignmentsByStatus(ctx context.Context, q Querier, status model.AssignmentStatus) ([]model.Assignment, error) {
	var out []model.Assignment
	err := q.SelectContext(ctx, &out, `SELECT * FROM session_assignments WHERE status = $1`, status)
	return out, classify(err)
}

// PutAssignment creates a new assignment, binding a session to a worker. The
// session_id UNIQUE constraint enforces the "exactly one live assignment per
// session" invariant: a second insert races for the same session and loses
// with a Conflict.
func (s *Store) PutAssignment(ctx context.Context, q Querier, a model.Assignment) (model.Assignment, error) {
	const query = `
		INSERT INTO session_assignments (session_id, worker_id, user_id, type, status, priority)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *`
	var out model.Assignment
	err := q.GetContext(ctx, &out, query, a.SessionID, a.WorkerID, a.UserID, a.Type, a.Status, a.Priority)
	return out, classify(err)
}

// UpdateAssignmentWith loads an assignment FOR UPDATE, applies fn, and writes
// it back with an optimistic version CAS.
func (s *Store) UpdateAssignmentWith(ctx context.Context, q Querier, id string, fn func(*model.Assignment) error) (model.Assignment, error) {
	var a model.Assignment
	if err := q.GetContext(ctx, &a, `SELECT * FROM session_assignments WHERE id = $1 FOR UPDATE`, id); err != nil {
		return model.Assignment{}, classify(err)
	}
	if err := fn(&a); err != nil {
		return model.Assignment{}, err
	}
	const query = `
		UPDATE session_assignments SET
			worker_id = $2, status = $3, messages_processed = $4, ram_mb = $5, avg_proc_ms = $6,
			activated_at = $7, last_heartbeat = $8, last_migration = $9, version = version + 1
		WHERE id = $1 AND version = $10
		RETURNING *`
	var out model.Assignment
	err := q.GetContext(ctx, &out, query,
		a.ID, a.WorkerID, a.Status, a.MessagesProcessed, a.RAMMb, a.AvgProcMs,
		a.ActivatedAt, a.LastHeartbeat, a.LastMigration, a.Version)
	if err != nil {
		return model.Assignment{}, classify(err)
	}
	return out, nil
}

// DeleteAssignment removes an assignment, usually once its session is
// terminated or its migration has completed and the old row is retired.
func (s *Store) DeleteAssignment(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM session_assignments WHERE id = $1`, id)
	return classify(err)
}
