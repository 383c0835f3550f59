package scheduler

import (
	"context"
	"time"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/quota"
	"github.com/relaymesh/relayd/pkg/store"
)

// DrainQueue runs whenever a session terminates, a worker becomes online,
// a worker gains capacity, or the admin forces a scan. It iterates queued
// items in (priority desc, queued_at asc) order, promoting as many as
// capacity allows, then expires anything past the queue max age and
// renumbers the remainder.
func (s *Scheduler) DrainQueue(ctx context.Context) (promoted int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		var didPromote bool
		err := store.RetryBusy(ctx, 5, func() error {
			return s.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
				item, ok, err := s.store.ClaimNextQueued(ctx, q)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}

				candidates, err := s.candidatesLocked(ctx, q)
				if err != nil {
					return err
				}
				sess, err := s.store.GetSession(ctx, q, item.SessionID)
				if err != nil {
					return err
				}
				plan, err := s.store.GetPlan(ctx, q, item.UserID)
				if err != nil {
					return err
				}

				worker, ok := place(candidates, plan.Tier)
				if !ok {
					// Nothing to promote onto; put the item back to queued
					// and stop iterating — no candidate satisfies capacity.
					return revertClaim(ctx, q, item)
				}

				if _, err := s.store.PutAssignment(ctx, q, model.Assignment{
					SessionID: item.SessionID,
					WorkerID:  worker.ID,
					UserID:    item.UserID,
					Type:      model.AssignmentAutomatic,
					Status:    model.AssignmentAssigned,
					Priority:  item.Priority,
				}); err != nil {
					return err
				}
				if err := bumpWorkerSessions(ctx, s.store, q, worker.ID, +1); err != nil {
					return err
				}
				if _, err := s.store.UpdateSessionWith(ctx, q, sess.ID, func(sess *model.Session) error {
					sess.WorkerID = &worker.ID
					return nil
				}); err != nil {
					return err
				}
				if err := s.store.DeleteQueueItem(ctx, q, item.ID); err != nil {
					return err
				}
				didPromote = true
				promoted++
				return nil
			})
		})
		if err != nil {
			return promoted, err
		}
		if !didPromote {
			break
		}
		s.publish(ctx, "queue.promoted", nil)
	}

	if _, err := s.expireStaleLocked(ctx); err != nil {
		return promoted, err
	}
	if err := s.renumberLocked(ctx); err != nil {
		return promoted, err
	}

	s.evaluateScaling(ctx)
	return promoted, nil
}

// revertClaim undoes ClaimNextQueued's promoted stamp when no candidate
// satisfied capacity, so the item stays eligible for the next drain pass.
func revertClaim(ctx context.Context, q store.Querier, item model.QueueItem) error {
	_, err := q.ExecContext(ctx, `UPDATE session_queue SET status = $2 WHERE id = $1`, item.ID, model.QueueQueued)
	return err
}

// expireStaleLocked transitions queue items older than the max queue age to
// expired, releasing their session-quota reservation since the session
// stays idle.
func (s *Scheduler) expireStaleLocked(ctx context.Context) (int64, error) {
	var expiredUsers []string
	var n int64
	err := s.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
		stale, err := s.staleItemsLocked(ctx, q)
		if err != nil {
			return err
		}
		for _, item := range stale {
			if _, err := q.ExecContext(ctx, `UPDATE session_queue SET status = $2 WHERE id = $1`, item.ID, model.QueueExpired); err != nil {
				return err
			}
			expiredUsers = append(expiredUsers, item.UserID)
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, userID := range expiredUsers {
		if err := s.quota.Release(ctx, userID, quota.KindSession); err != nil {
			s.log.Error("releasing quota for expired queue item failed", "user_id", userID, "error", err)
		}
	}
	return n, nil
}

func (s *Scheduler) staleItemsLocked(ctx context.Context, q store.Querier) ([]model.QueueItem, error) {
	all, err := s.store.ListQueueByStatus(ctx, q, model.QueueQueued)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-s.cfg.QueueMaxAge)
	var stale []model.QueueItem
	for _, it := range all {
		if it.QueuedAt.Before(cutoff) {
			stale = append(stale, it)
		}
	}
	return stale, nil
}

// renumberLocked re-derives a dense 1..N position for every remaining
// queued item and recomputes est_wait_s after any promotion or expiry.
func (s *Scheduler) renumberLocked(ctx context.Context) error {
	return s.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
		items, err := s.store.ListQueueByStatus(ctx, q, model.QueueQueued)
		if err != nil {
			return err
		}
		for i, item := range items {
			position := i + 1
			estWait := position * 300
			if position == item.Position && estWait == item.EstWaitS {
				continue
			}
			if _, err := q.ExecContext(ctx, `
				UPDATE session_queue SET position = $2, est_wait_s = $3 WHERE id = $1`,
				item.ID, position, estWait); err != nil {
				return err
			}
		}
		return nil
	})
}
