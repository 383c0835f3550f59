package store

import (
	"context"

	"github.com/relaymesh/relayd/pkg/model"
)

// ListQueueByStatus returns queue items in priority/FIFO order, the order
// drain_queue consumes them in.
func (s *Store) ListQueueByStatus(ctx context.Context, q Querier, status model.QueueStatus) ([]model.QueueItem, error) {
	var out []model.QueueItem
	err := q.SelectContext(ctx, &out, `
		SELECT * FROM session_queue WHERE status = $1 ORDER BY priority DESC, queued_at ASC`, status)
	return out, classify(err)
}

// PutQueueItem enqueues a session waiting for worker capacity.
func (s *Store) PutQueueItem(ctx context.Context, q Querier, item model.QueueItem) (model.QueueItem, error) {
	const query = `
		INSERT INTO session_queue (user_id, session_id, priority, position, est_wait_s, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *`
	var out model.QueueItem
	err := q.GetContext(ctx, &out, query, item.UserID, item.SessionID, item.Priority, item.Position, item.EstWaitS, model.QueueQueued)
	return out, classify(err)
}

// ClaimNextQueued pops the highest-priority, oldest queued item and marks it
// promoted, using FOR UPDATE SKIP LOCKED so concurrent scheduler ticks never
// double-claim the same row.
func (s *Store) ClaimNextQueued(ctx context.Context, q Querier) (model.QueueItem, bool, error) {
	var item model.QueueItem
	err := q.GetContext(ctx, &item, `
		SELECT * FROM session_queue
		WHERE status = $1
		ORDER BY priority DESC, queued_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, model.QueueQueued)
	if err != nil {
		ce := classify(err)
		if relayErrIsNotFound(ce) {
			return model.QueueItem{}, false, nil
		}
		return model.QueueItem{}, false, ce
	}
	if _, err := q.ExecContext(ctx, `UPDATE session_queue SET status = $2 WHERE id = $1`, item.ID, model.QueuePromoted); err != nil {
		return model.QueueItem{}, false, classify(err)
	}
	return item, true, nil
}

// ExpireStaleQueueItems marks queue items older than maxAge as expired.
func (s *Store) ExpireStaleQueueItems(ctx context.Context, q Querier, cutoffSeconds int) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE session_queue SET status = $1
		WHERE status = $2 AND queued_at < now() - make_interval(secs => $3)`,
		model.QueueExpired, model.QueueQueued, cutoffSeconds)
	if err != nil {
		return 0, classify(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteQueueItem removes a queue item, called once its session is assigned
// or its expiry has been handled.
func (s *Store) DeleteQueueItem(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM session_queue WHERE id = $1`, id)
	return classify(err)
}
