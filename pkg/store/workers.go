package store

import (
	"context"

	"github.com/relaymesh/relayd/pkg/model"
)

// GetWorker fetches a worker by its primary id.
func (s *Store) GetWorker(ctx context.Context, q Querier, id string) (model.Worker, error) {
	var w model.Worker
	err := q.GetContext(ctx, &w, `SELECT * FROM workers WHERE id = $1`, id)
	return w, classify(err)
}

// GetWorkerByWorkerID fetches a worker by its self-reported fleet identifier.
func (s *Store) GetWorkerByWorkerID(ctx context.Context, q Querier, workerID string) (model.Worker, error) {
	var w model.Worker
	err := q.GetContext(ctx, &w, `SELECT * FROM workers WHERE worker_id = $1`, workerID)
	return w, classify(err)
}

// ListWorkersByStatus returns every worker in the given liveness state,
// ordered by ascending load_score so callers can pick the least-loaded first.
func (s *Store) ListWorkersByStatus(ctx context.Context, q Querier, status model.WorkerStatus) ([]model.Worker, error) {
	var out []model.Worker
	err := q.SelectContext(ctx, &out, `
		SELECT * FROM workers WHERE status = $1 ORDER BY load_score ASC`, status)
	return out, classify(err)
}

// ListWorkers returns the whole fleet, for admin listing and the liveness scan.
func (s *Store) ListWorkers(ctx context.Context, q Querier) ([]model.Worker, error) {
	var out []model.Worker
	err := q.SelectContext(ctx, &out, `SELECT * FROM workers ORDER BY worker_id`)
	return out, classify(err)
}

// PutWorker registers a new worker or, on a conflicting worker_id, is
// rejected as a Conflict by the caller (registration is a one-time event).
func (s *Store) PutWorker(ctx context.Context, q Querier, w model.Worker) (model.Worker, error) {
	const query = `
		INSERT INTO workers (worker_id, address, status, total_ram, max_sessions, ram_threshold, priority, auth_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *`
	var out model.Worker
	err := q.GetContext(ctx, &out, query,
		w.WorkerID, w.Address, w.Status, w.TotalRAM, w.MaxSessions, w.RAMThreshold, w.Priority, w.AuthToken)
	return out, classify(err)
}

// UpdateWorkerWith loads a worker row FOR UPDATE, applies fn (heartbeat
// ingestion, capacity bookkeeping, draining), and writes it back with an
// optimistic version CAS.
func (s *Store) UpdateWorkerWith(ctx context.Context, q Querier, id string, fn func(*model.Worker) error) (model.Worker, error) {
	var w model.Worker
	if err := q.GetContext(ctx, &w, `SELECT * FROM workers WHERE id = $1 FOR UPDATE`, id); err != nil {
		return model.Worker{}, classify(err)
	}
	if err := fn(&w); err != nil {
		return model.Worker{}, err
	}
	const query = `
		UPDATE workers SET
			status = $2, used_ram = $3, cpu_percent = $4, active_sessions = $5,
			load_score = $6, ping_ms = $7, last_heartbeat = $8, version = version + 1
		WHERE id = $1 AND version = $9
		RETURNING *`
	var out model.Worker
	err := q.GetContext(ctx, &out, query,
		w.ID, w.Status, w.UsedRAM, w.CPUPercent, w.ActiveSessions,
		w.LoadScore, w.PingMs, w.LastHeartbeat, w.Version)
	if err != nil {
		return model.Worker{}, classify(err)
	}
	return out, nil
}

// DeleteWorker removes a worker from the fleet.
func (s *Store) DeleteWorker(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM workers WHERE id = $1`, id)
	return classify(err)
}
