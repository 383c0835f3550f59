package syncer

import (
	"context"
	"time"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/store"
)

// Run loops the activation poll until ctx is cancelled: auto-approve due
// messages, expire stale undecided ones, and feed approved messages whose
// scheduled_for has passed back into the forwarding engine as synthetic
// dispatches (evaluation already ran when they were parked).
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	if n, err := d.store.AutoApproveDuePending(ctx, d.store.Q()); err != nil {
		d.log.Error("auto-approving due pending messages failed", "error", err)
	} else if n > 0 {
		d.log.Info("auto-approved pending messages past deadline", "count", n)
	}

	if _, err := d.store.ExpirePending(ctx, d.store.Q(), int(d.cfg.MaxPendingAge.Seconds())); err != nil {
		d.log.Error("expiring stale pending messages failed", "error", err)
	}

	if d.approved == nil {
		return
	}

	err := d.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
		due, err := d.store.ClaimDueActivations(ctx, q, 50)
		if err != nil {
			return err
		}
		for _, pm := range due {
			if err := d.approved.DispatchApproved(ctx, pm); err != nil {
				d.log.Error("dispatching approved message failed", "pending_id", pm.ID, "error", err)
				// Put it back to approved so the next tick retries.
				if merr := d.store.MarkPendingStatus(ctx, q, pm.ID, model.PendingApproved); merr != nil {
					d.log.Error("requeueing pending message failed", "pending_id", pm.ID, "error", merr)
				}
				continue
			}
			if err := d.store.MarkPendingStatus(ctx, q, pm.ID, model.PendingSent); err != nil {
				d.log.Error("marking pending message sent failed", "pending_id", pm.ID, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		d.log.Error("activation poll failed", "error", err)
	}
}
