package store

import (
	"context"

	"github.com/relaymesh/relayd/pkg/model"
)

// PutWorkerAnalytics records a per-heartbeat rolling-window sample.
func (s *Store) PutWorkerAnalytics(ctx context.Context, q Querier, a model.WorkerAnalytics) (model.WorkerAnalytics, error) {
	const query = `
		INSERT INTO worker_analytics (worker_id, messages_per_min, avg_proc_ms, error_rate)
		VALUES ($1, $2, $3, $4)
		RETURNING *`
	var out model.WorkerAnalytics
	err := q.GetContext(ctx, &out, query, a.WorkerID, a.MessagesPerMin, a.AvgProcMs, a.ErrorRate)
	return out, classify(err)
}

// LatestWorkerAnalytics returns the most recent sample for a worker, used by
// the system-status aggregation to report a trend rather than a single
// instantaneous reading.
func (s *Store) LatestWorkerAnalytics(ctx context.Context, q Querier, workerID string) (model.WorkerAnalytics, bool, error) {
	var a model.WorkerAnalytics
	err := q.GetContext(ctx, &a, `
		SELECT * FROM worker_analytics WHERE worker_id = $1 ORDER BY sampled_at DESC LIMIT 1`, workerID)
	if err != nil {
		ce := classify(err)
		if relayErrIsNotFound(ce) {
			return model.WorkerAnalytics{}, false, nil
		}
		return model.WorkerAnalytics{}, false, ce
	}
	return a, true, nil
}
