// Package workerregistry tracks the live worker fleet: heartbeat intake,
// liveness scanning, capacity, and load scoring (C3).
package workerregistry

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/store"
)

// Heartbeat is the metrics payload a worker reports every heartbeat_interval_ms.
type Heartbeat struct {
	WorkerID       string
	UsedRAM        int64
	CPUPercent     float64
	ActiveSessions int
	PingMs         int
	Version        string
}

// TransitionCallback is invoked once per worker the liveness scan finds
// newly offline, and once when a worker is set draining, so the scheduler
// can migrate its assignments.
type TransitionCallback func(ctx context.Context, worker model.Worker)

// Registry is the worker liveness/capacity tracker.
type Registry struct {
	store     *store.Store
	liveness  time.Duration
	log       *slog.Logger
	onOffline TransitionCallback
}

// New builds a Registry. liveness is the offline threshold (default 30s).
func New(st *store.Store, liveness time.Duration, onOffline TransitionCallback, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{store: st, liveness: liveness, onOffline: onOffline, log: log}
}

// LoadScore summarises a worker's pressure as 0.4·ram_pct + 0.3·cpu_pct +
// 0.3·sessions_pct, each clamped to 0..100, rounded to the nearest integer.
func LoadScore(ramPct, cpuPct, sessionsPct float64) int {
	ramPct = clampPct(ramPct)
	cpuPct = clampPct(cpuPct)
	sessionsPct = clampPct(sessionsPct)
	score := 0.4*ramPct + 0.3*cpuPct + 0.3*sessionsPct
	return int(score + 0.5)
}

func clampPct(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Ingest applies a heartbeat: recomputes load_score and stamps
// last_heartbeat, flipping the worker back to online if it had lapsed into
// offline and is now reporting again; a draining worker stays draining.
func (r *Registry) Ingest(ctx context.Context, hb Heartbeat) (model.Worker, error) {
	var out model.Worker
	err := r.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
		w, err := r.store.GetWorkerByWorkerID(ctx, q, hb.WorkerID)
		if err != nil {
			return err
		}

		ramPct := 0.0
		if w.TotalRAM > 0 {
			ramPct = 100 * float64(hb.UsedRAM) / float64(w.TotalRAM)
		}
		sessionsPct := 0.0
		if w.MaxSessions > 0 {
			sessionsPct = 100 * float64(hb.ActiveSessions) / float64(w.MaxSessions)
		}

		updated, err := r.store.UpdateWorkerWith(ctx, q, w.ID, func(w *model.Worker) error {
			now := time.Now()
			w.UsedRAM = hb.UsedRAM
			w.CPUPercent = hb.CPUPercent
			w.ActiveSessions = hb.ActiveSessions
			w.PingMs = hb.PingMs
			w.LoadScore = LoadScore(ramPct, hb.CPUPercent, sessionsPct)
			w.LastHeartbeat = &now
			if w.Status != model.WorkerDraining {
				w.Status = model.WorkerOnline
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	return out, err
}

// SetDraining marks a worker draining: it stops receiving new assignments
// but existing ones keep running until migrated or terminated by the admin.
func (r *Registry) SetDraining(ctx context.Context, workerID string) (model.Worker, error) {
	var out model.Worker
	err := r.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
		updated, err := r.store.UpdateWorkerWith(ctx, q, workerID, func(w *model.Worker) error {
			w.Status = model.WorkerDraining
			return nil
		})
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return model.Worker{}, err
	}
	if r.onOffline != nil {
		r.onOffline(ctx, out)
	}
	return out, nil
}

// ScanLiveness runs the periodic sweep that flips
// workers whose last_heartbeat has lapsed past the liveness window to
// offline, firing
// onOffline once per newly-offline worker so the scheduler can migrate its
// assignments.
func (r *Registry) ScanLiveness(ctx context.Context) error {
	online, err := r.store.ListWorkersByStatus(ctx, r.store.Q(), model.WorkerOnline)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-r.liveness)
	for _, w := range online {
		if w.LastHeartbeat != nil && w.LastHeartbeat.After(cutoff) {
			continue
		}
		r.log.Warn("worker liveness lapsed, marking offline", "worker_id", w.WorkerID)
		var updated model.Worker
		err := r.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
			out, err := r.store.UpdateWorkerWith(ctx, q, w.ID, func(w *model.Worker) error {
				w.Status = model.WorkerOffline
				return nil
			})
			if err != nil {
				return err
			}
			updated = out
			return nil
		})
		if err != nil {
			r.log.Error("marking worker offline failed", "worker_id", w.WorkerID, "error", err)
			continue
		}
		if r.onOffline != nil {
			r.onOffline(ctx, updated)
		}
	}
	return nil
}

// Run loops ScanLiveness on a 5s ticker until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ScanLiveness(ctx); err != nil {
				r.log.Error("liveness scan failed", "error", err)
			}
		}
	}
}

// Candidates returns every worker with capacity, for the scheduler's
// placement rule.
func (r *Registry) Candidates(ctx context.Context) ([]model.Worker, error) {
	online, err := r.store.ListWorkersByStatus(ctx, r.store.Q(), model.WorkerOnline)
	if err != nil {
		return nil, err
	}
	out := make([]model.Worker, 0, len(online))
	for _, w := range online {
		if w.HasCapacity() {
			out = append(out, w)
		}
	}
	return out, nil
}

// AvailableWorkers returns online workers with capacity, ordered by
// ascending load_score, for the `workers/available` admin endpoint.
func (r *Registry) AvailableWorkers(ctx context.Context) ([]model.Worker, error) {
	return r.Candidates(ctx)
}

// SystemUtilisation returns Σused_ram / Σtotal_ram over online workers, the
// utilisation figure the scheduler's scaling trigger consults.
func (r *Registry) SystemUtilisation(ctx context.Context) (float64, error) {
	online, err := r.store.ListWorkersByStatus(ctx, r.store.Q(), model.WorkerOnline)
	if err != nil {
		return 0, err
	}
	var usedSum, totalSum int64
	for _, w := range online {
		usedSum += w.UsedRAM
		totalSum += w.TotalRAM
	}
	if totalSum == 0 {
		return 0, nil
	}
	return float64(usedSum) / float64(totalSum), nil
}
