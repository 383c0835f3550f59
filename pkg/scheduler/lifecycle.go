package scheduler

import (
	"context"
	"time"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/quota"
	"github.com/relaymesh/relayd/pkg/relayerr"
	"github.com/relaymesh/relayd/pkg/store"
)

// Activate moves an assignment from assigned to active on the worker's ack
// plus first heartbeat, stamping activated_at and flipping the session
// status.
func (s *Scheduler) Activate(ctx context.Context, sessionID string) error {
	return store.RetryBusy(ctx, 5, func() error {
		return s.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
			a, err := s.store.GetAssignmentBySession(ctx, q, sessionID)
			if err != nil {
				return err
			}
			if a.Status != model.AssignmentAssigned && a.Status != model.AssignmentActive {
				return relayerr.Newf(relayerr.KindConflict, "assignment is %s, not activatable", a.Status)
			}
			now := time.Now()
			if _, err := s.store.UpdateAssignmentWith(ctx, q, a.ID, func(a *model.Assignment) error {
				if a.ActivatedAt == nil {
					a.ActivatedAt = &now
				}
				a.Status = model.AssignmentActive
				a.LastHeartbeat = &now
				return nil
			}); err != nil {
				return err
			}
			_, err = s.store.UpdateSessionWith(ctx, q, sessionID, func(sess *model.Session) error {
				sess.Status = model.SessionActive
				sess.LastActivity = &now
				return nil
			})
			return err
		})
	})
}

// Pause suspends an active assignment at the user's request. The worker keeps
// the platform session open but stops delivering events.
func (s *Scheduler) Pause(ctx context.Context, sessionID string) error {
	return s.transition(ctx, sessionID, model.AssignmentActive, model.AssignmentPaused, model.SessionPaused)
}

// Resume reverses Pause.
func (s *Scheduler) Resume(ctx context.Context, sessionID string) error {
	return s.transition(ctx, sessionID, model.AssignmentPaused, model.AssignmentActive, model.SessionActive)
}

func (s *Scheduler) transition(ctx context.Context, sessionID string, from, to model.AssignmentStatus, sessStatus model.SessionStatus) error {
	return store.RetryBusy(ctx, 5, func() error {
		return s.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
			a, err := s.store.GetAssignmentBySession(ctx, q, sessionID)
			if err != nil {
				return err
			}
			if a.Status != from {
				return relayerr.Newf(relayerr.KindConflict, "assignment is %s, expected %s", a.Status, from)
			}
			if _, err := s.store.UpdateAssignmentWith(ctx, q, a.ID, func(a *model.Assignment) error {
				a.Status = to
				return nil
			}); err != nil {
				return err
			}
			_, err = s.store.UpdateSessionWith(ctx, q, sessionID, func(sess *model.Session) error {
				sess.Status = sessStatus
				return nil
			})
			return err
		})
	})
}

// Terminate retires a session's assignment: the assignment row is removed,
// the quota reservation is released, a stop_session control record is queued
// for the worker to pick up, and the session is marked stopped with no worker.
// The freed slot then lets DrainQueue promote a waiting session.
func (s *Scheduler) Terminate(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	var userID, workerID string
	err := store.RetryBusy(ctx, 5, func() error {
		return s.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
			a, err := s.store.GetAssignmentBySession(ctx, q, sessionID)
			if err != nil {
				return err
			}
			userID, workerID = a.UserID, a.WorkerID

			if err := s.store.DeleteAssignment(ctx, q, a.ID); err != nil {
				return err
			}
			if err := bumpWorkerSessions(ctx, s.store, q, a.WorkerID, -1); err != nil {
				return err
			}
			if _, err := s.store.PutWorkerControl(ctx, q, model.WorkerControl{
				WorkerID:  a.WorkerID,
				SessionID: &sessionID,
				Action:    model.ControlStopSession,
			}); err != nil {
				return err
			}
			_, err = s.store.UpdateSessionWith(ctx, q, sessionID, func(sess *model.Session) error {
				sess.WorkerID = nil
				sess.Status = model.SessionStopped
				return nil
			})
			return err
		})
	})
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.quota.Release(ctx, userID, quota.KindSession); err != nil {
		s.log.Error("releasing session quota on terminate failed", "user_id", userID, "error", err)
	}
	s.publish(ctx, "assignment.terminated", map[string]string{"session_id": sessionID, "worker_id": workerID})

	// The freed slot may unblock a queued session.
	if _, err := s.DrainQueue(ctx); err != nil {
		s.log.Error("draining queue after terminate failed", "error", err)
	}
	return nil
}

// Reassign forcibly moves a session to a named worker, the manual scheduler
// op behind sessions/{id}/reassign/{worker}. Capacity is still enforced, but
// the placement rule is bypassed.
func (s *Scheduler) Reassign(ctx context.Context, sessionID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := store.RetryBusy(ctx, 5, func() error {
		return s.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
			w, err := s.store.GetWorker(ctx, q, workerID)
			if err != nil {
				return err
			}
			if !w.HasCapacity() {
				return relayerr.Newf(relayerr.KindWorkerUnavailable, "worker %s has no capacity", w.WorkerID)
			}
			a, err := s.store.GetAssignmentBySession(ctx, q, sessionID)
			if err != nil {
				return err
			}
			if a.WorkerID == w.ID {
				return nil
			}
			if _, err := s.store.PutWorkerControl(ctx, q, model.WorkerControl{
				WorkerID:  a.WorkerID,
				SessionID: &sessionID,
				Action:    model.ControlStopSession,
			}); err != nil {
				return err
			}
			if _, err := s.store.UpdateAssignmentWith(ctx, q, a.ID, func(a *model.Assignment) error {
				a.WorkerID = w.ID
				a.Type = model.AssignmentManual
				a.Status = model.AssignmentAssigned
				return nil
			}); err != nil {
				return err
			}
			if err := bumpWorkerSessions(ctx, s.store, q, w.ID, +1); err != nil {
				return err
			}
			if err := bumpWorkerSessions(ctx, s.store, q, a.WorkerID, -1); err != nil {
				return err
			}
			_, err = s.store.UpdateSessionWith(ctx, q, sessionID, func(sess *model.Session) error {
				sess.WorkerID = &w.ID
				return nil
			})
			return err
		})
	})
	if err != nil {
		return err
	}
	s.publish(ctx, "assignment.reassigned", map[string]string{"session_id": sessionID, "worker_id": workerID})
	return nil
}

// SessionCrashed handles a worker-reported session failure: a permanent
// platform failure flips the session to crashed, the assignment is torn down,
// and the quota reservation stays held (the user still owns the slot until
// they stop or delete the session).
func (s *Scheduler) SessionCrashed(ctx context.Context, sessionID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return store.RetryBusy(ctx, 5, func() error {
		return s.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
			a, err := s.store.GetAssignmentBySession(ctx, q, sessionID)
			if err == nil {
				if err := s.store.DeleteAssignment(ctx, q, a.ID); err != nil {
					return err
				}
				if err := bumpWorkerSessions(ctx, s.store, q, a.WorkerID, -1); err != nil {
					return err
				}
			} else if !relayerr.Is(err, relayerr.KindNotFound) {
				return err
			}
			_, err = s.store.UpdateSessionWith(ctx, q, sessionID, func(sess *model.Session) error {
				sess.Status = model.SessionCrashed
				return nil
			})
			if err != nil {
				return err
			}
			s.log.Warn("session crashed", "session_id", sessionID, "reason", reason)
			return nil
		})
	})
}
