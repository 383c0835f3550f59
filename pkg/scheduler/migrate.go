package scheduler

import (
	"context"
	"time"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/store"
)

// MigrateWorker runs migration for every live assignment on a worker that
// just went offline or started draining.
// Reassignment never drops tracker rows: only session_id/worker_id moves,
// message_trackers is untouched.
func (s *Scheduler) MigrateWorker(ctx context.Context, workerID string) error {
	assignments, err := s.store.ListAssignmentsByWorker(ctx, s.store.Q(), workerID)
	if err != nil {
		return err
	}
	for _, a := range assignments {
		switch a.Status {
		case model.AssignmentAssigned, model.AssignmentActive, model.AssignmentPaused:
		default:
			continue
		}
		if err := s.migrateOne(ctx, a); err != nil {
			s.log.Error("migrating assignment failed", "assignment_id", a.ID, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) migrateOne(ctx context.Context, a model.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result Outcome
	err := store.RetryBusy(ctx, 5, func() error {
		return s.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
			now := time.Now()
			if _, err := s.store.UpdateAssignmentWith(ctx, q, a.ID, func(a *model.Assignment) error {
				a.Status = model.AssignmentMigrating
				a.LastMigration = &now
				return nil
			}); err != nil {
				return err
			}

			candidates, err := s.candidatesLocked(ctx, q)
			if err != nil {
				return err
			}
			// Exclude the failing worker itself — it may still appear with a
			// stale online row during the scan that calls this.
			filtered := candidates[:0:0]
			for _, w := range candidates {
				if w.ID != a.WorkerID {
					filtered = append(filtered, w)
				}
			}

			plan, err := s.store.GetPlan(ctx, q, a.UserID)
			if err != nil {
				return err
			}

			worker, ok := place(filtered, plan.Tier)
			if !ok {
				// Re-enqueue exactly as assign would, but migrated
				// sessions jump the line one priority band.
				priority := plan.Priority + 1
				if priority > 5 {
					priority = 5
				}
				item, err := s.enqueueLocked(ctx, q, a.UserID, a.SessionID, priority)
				if err != nil {
					return err
				}
				if err := s.store.DeleteAssignment(ctx, q, a.ID); err != nil {
					return err
				}
				if err := bumpWorkerSessions(ctx, s.store, q, a.WorkerID, -1); err != nil {
					return err
				}
				if _, err := s.store.UpdateSessionWith(ctx, q, a.SessionID, func(sess *model.Session) error {
					sess.WorkerID = nil
					sess.Status = model.SessionIdle
					return nil
				}); err != nil {
					return err
				}
				result = Outcome{Kind: OutcomeQueued, Position: item.Position, EstWaitS: item.EstWaitS}
				return nil
			}

			if _, err := s.store.UpdateAssignmentWith(ctx, q, a.ID, func(a *model.Assignment) error {
				a.WorkerID = worker.ID
				a.Status = model.AssignmentAssigned
				return nil
			}); err != nil {
				return err
			}
			if err := bumpWorkerSessions(ctx, s.store, q, worker.ID, +1); err != nil {
				return err
			}
			if err := bumpWorkerSessions(ctx, s.store, q, a.WorkerID, -1); err != nil {
				return err
			}
			if _, err := s.store.UpdateSessionWith(ctx, q, a.SessionID, func(sess *model.Session) error {
				sess.WorkerID = &worker.ID
				return nil
			}); err != nil {
				return err
			}
			result = Outcome{Kind: OutcomeAssigned, WorkerID: worker.ID}
			return nil
		})
	})
	if err != nil {
		return err
	}

	if result.Kind == OutcomeAssigned {
		s.publish(ctx, "session.migrated", result)
	} else {
		s.publish(ctx, "session.migration_queued", result)
	}
	s.evaluateScaling(ctx)
	return nil
}
