// Package scheduler implements the session scheduler / load balancer:
// assignment, queueing under overload, migration on worker loss, and
// scaling-event triggers. The coarse scheduler mutex only serialises the
// assign/drain/migrate decision; every actual read and write goes through
// the Store's transactions.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/quota"
	"github.com/relaymesh/relayd/pkg/relayerr"
	"github.com/relaymesh/relayd/pkg/store"
	"github.com/relaymesh/relayd/pkg/workerregistry"
)

// Publisher fans out scheduler state changes to the live event stream
// (C12); nil disables publishing (e.g. in unit tests).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any)
}

// Notifier is called at most once per cooldown window when the fleet
// crosses an overload threshold (C11 Slack notification); nil disables it.
type Notifier interface {
	NotifyScalingEvent(ctx context.Context, ev model.ScalingEvent, reason string)
}

// Config holds the scheduler's tunables.
type Config struct {
	QueueMaxAge     time.Duration // queue expiry, default 1h
	ScalingCooldown time.Duration // min gap between overflow notifications, default 5m
	HighQueueThresh int           // default 5
	HighLoadThresh  float64       // default 0.85
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		QueueMaxAge:     time.Hour,
		ScalingCooldown: 5 * time.Minute,
		HighQueueThresh: 5,
		HighLoadThresh:  0.85,
	}
}

// Scheduler is the C4 session scheduler / load balancer.
type Scheduler struct {
	store    *store.Store
	registry *workerregistry.Registry
	quota    *quota.Manager
	cfg      Config
	events   Publisher
	notifier Notifier
	log      *slog.Logger

	mu           sync.Mutex
	lastNotified time.Time
}

// New builds a Scheduler.
func New(st *store.Store, reg *workerregistry.Registry, qm *quota.Manager, cfg Config, events Publisher, notifier Notifier, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{store: st, registry: reg, quota: qm, cfg: cfg, events: events, notifier: notifier, log: log}
}

// OutcomeKind distinguishes an Assign result.
type OutcomeKind int

const (
	OutcomeAssigned OutcomeKind = iota
	OutcomeQueued
)

// Outcome is the result of Assign or a migration attempt.
type Outcome struct {
	Kind     OutcomeKind
	WorkerID string
	Position int
	EstWaitS int
}

// Assign admits a session: reject if already assigned, reserve the quota
// slot, place on a worker with capacity, or queue under overload.
func (s *Scheduler) Assign(ctx context.Context, sessionID, userID string) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var outcome Outcome
	err := store.RetryBusy(ctx, 5, func() error {
		return s.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
			if _, err := s.store.GetAssignmentBySession(ctx, q, sessionID); err == nil {
				return relayerr.New(relayerr.KindConflict, "session already assigned")
			} else if !relayerr.Is(err, relayerr.KindNotFound) {
				return err
			}

			plan, err := s.store.GetPlan(ctx, q, userID)
			if err != nil {
				return err
			}

			// The reservation participates in this transaction: a rollback
			// (or StoreBusy retry) unwinds the counter with everything else.
			if err := s.quota.ReserveIn(ctx, q, userID, quota.KindSession); err != nil {
				return err
			}

			candidates, err := s.candidatesLocked(ctx, q)
			if err != nil {
				return err
			}

			if len(candidates) == 0 {
				item, err := s.enqueueLocked(ctx, q, userID, sessionID, plan.Priority)
				if err != nil {
					return err
				}
				outcome = Outcome{Kind: OutcomeQueued, Position: item.Position, EstWaitS: item.EstWaitS}
				return nil
			}

			worker, _ := place(candidates, plan.Tier)
			if _, err := s.store.PutAssignment(ctx, q, model.Assignment{
				SessionID: sessionID,
				WorkerID:  worker.ID,
				UserID:    userID,
				Type:      model.AssignmentAutomatic,
				Status:    model.AssignmentAssigned,
				Priority:  plan.Priority,
			}); err != nil {
				return err
			}
			if err := bumpWorkerSessions(ctx, s.store, q, worker.ID, +1); err != nil {
				return err
			}
			if _, err := s.store.UpdateSessionWith(ctx, q, sessionID, func(sess *model.Session) error {
				sess.WorkerID = &worker.ID
				return nil
			}); err != nil {
				return err
			}
			outcome = Outcome{Kind: OutcomeAssigned, WorkerID: worker.ID}
			return nil
		})
	})
	if err != nil {
		return Outcome{}, err
	}

	if outcome.Kind == OutcomeAssigned {
		s.publish(ctx, "assignment.created", outcome)
	} else {
		s.publish(ctx, "assignment.queued", outcome)
	}
	s.evaluateScaling(ctx)
	return outcome, nil
}

// candidatesLocked refreshes load_score before placing so a stale score
// can't cause a thundering herd onto a worker that just filled up.
func (s *Scheduler) candidatesLocked(ctx context.Context, q store.Querier) ([]model.Worker, error) {
	online, err := s.store.ListWorkersByStatus(ctx, q, model.WorkerOnline)
	if err != nil {
		return nil, err
	}
	out := make([]model.Worker, 0, len(online))
	for _, w := range online {
		ramPct := 0.0
		if w.TotalRAM > 0 {
			ramPct = 100 * float64(w.UsedRAM) / float64(w.TotalRAM)
		}
		sessionsPct := 0.0
		if w.MaxSessions > 0 {
			sessionsPct = 100 * float64(w.ActiveSessions) / float64(w.MaxSessions)
		}
		w.LoadScore = workerregistry.LoadScore(ramPct, w.CPUPercent, sessionsPct)
		if w.HasCapacity() {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *Scheduler) enqueueLocked(ctx context.Context, q store.Querier, userID, sessionID string, priority int) (model.QueueItem, error) {
	position, err := s.nextPositionLocked(ctx, q, priority)
	if err != nil {
		return model.QueueItem{}, err
	}
	item, err := s.store.PutQueueItem(ctx, q, model.QueueItem{
		UserID:    userID,
		SessionID: sessionID,
		Priority:  priority,
		Position:  position,
		EstWaitS:  position * 300,
	})
	if err != nil {
		return model.QueueItem{}, err
	}
	return item, nil
}

// nextPositionLocked computes a dense 1-based position for a new queue item
// of the given priority, consistent with the (priority desc, queued_at asc)
// ranking.
func (s *Scheduler) nextPositionLocked(ctx context.Context, q store.Querier, priority int) (int, error) {
	existing, err := s.store.ListQueueByStatus(ctx, q, model.QueueQueued)
	if err != nil {
		return 0, err
	}
	pos := 1
	for _, it := range existing {
		// Existing items outrank the new arrival if they have strictly
		// higher priority, or equal priority (they were queued earlier,
		// and ties break on queued_at ascending).
		if it.Priority >= priority {
			pos++
		}
	}
	return pos, nil
}

func (s *Scheduler) publish(ctx context.Context, topic string, payload any) {
	if s.events != nil {
		s.events.Publish(ctx, topic, payload)
	}
}

// bumpWorkerSessions adjusts a worker's active_sessions inside the caller's
// transaction, keeping the capacity predicate honest between heartbeats.
// The next heartbeat's worker-reported count reconciles any drift.
func bumpWorkerSessions(ctx context.Context, st *store.Store, q store.Querier, workerID string, delta int) error {
	_, err := st.UpdateWorkerWith(ctx, q, workerID, func(w *model.Worker) error {
		w.ActiveSessions += delta
		if w.ActiveSessions < 0 {
			w.ActiveSessions = 0
		}
		return nil
	})
	return err
}
