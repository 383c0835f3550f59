// Package syncer is the sync dispatcher (C7): a thin queueing layer in front
// of PlatformClient.edit and PlatformClient.delete that coalesces rapid
// edits, serialises edits strictly after the original's dispatch, and
// activates approved pending messages back into the forwarding pipeline.
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/relayerr"
	"github.com/relaymesh/relayd/pkg/store"
	"github.com/relaymesh/relayd/pkg/worker"
)

// ApprovedDispatcher is the slice of the forwarding engine the activation
// poll feeds due messages back into.
type ApprovedDispatcher interface {
	DispatchApproved(ctx context.Context, pm model.PendingMessage) error
}

// Config holds the dispatcher's tunables.
type Config struct {
	RetryMax      int           // delete retry budget, default 3
	PollInterval  time.Duration // activation poll cadence, default 5s
	MaxPendingAge time.Duration // expiry for undecided approvals with no deadline, default 24h
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{RetryMax: 3, PollInterval: 5 * time.Second, MaxPendingAge: 24 * time.Hour}
}

// Dispatcher is the C7 sync dispatcher.
type Dispatcher struct {
	store    *store.Store
	pool     *worker.Pool
	approved ApprovedDispatcher
	cfg      Config
	log      *slog.Logger

	mu    sync.Mutex
	edits map[string]*pendingEdit // tracker id → coalesced edit
}

// pendingEdit is the latest edit waiting out its coalescing window. A newer
// edit for the same forwarded message replaces the payload; only the last
// one is sent when the window closes.
type pendingEdit struct {
	tracker model.MessageTracker
	w       model.Worker
	payload worker.Payload
	timer   *time.Timer
}

// New builds a Dispatcher. approved may be set later via SetApprovedDispatcher.
func New(st *store.Store, pool *worker.Pool, cfg Config, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxPendingAge <= 0 {
		cfg.MaxPendingAge = 24 * time.Hour
	}
	return &Dispatcher{
		store: st,
		pool:  pool,
		cfg:   cfg,
		log:   log,
		edits: make(map[string]*pendingEdit),
	}
}

// SetApprovedDispatcher wires the forwarding engine after both sides exist.
func (d *Dispatcher) SetApprovedDispatcher(a ApprovedDispatcher) { d.approved = a }

// EnqueueEdit schedules an edit of a forwarded message. Multiple edits for
// the same forwarded message within the coalescing window collapse to the
// latest payload.
func (d *Dispatcher) EnqueueEdit(ctx context.Context, tracker model.MessageTracker, w model.Worker, payload worker.Payload, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if pe, ok := d.edits[tracker.ID]; ok {
		pe.payload = payload
		pe.tracker = tracker
		return
	}

	pe := &pendingEdit{tracker: tracker, w: w, payload: payload}
	pe.timer = time.AfterFunc(delay, func() { d.flushEdit(tracker.ID) })
	d.edits[tracker.ID] = pe
}

// flushEdit sends the coalesced edit once its window closes, first waiting
// for the original dispatch to land (forwarded_msg_id non-null) so an edit
// can never overtake its original.
func (d *Dispatcher) flushEdit(trackerID string) {
	d.mu.Lock()
	pe, ok := d.edits[trackerID]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.edits, trackerID)
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	forwardedID, err := d.waitForwarded(ctx, pe.tracker)
	if err != nil {
		d.log.Error("edit sync skipped: original never dispatched",
			"tracker_id", trackerID, "error", err)
		return
	}

	client := d.pool.ClientFor(pe.w)
	if err := client.Edit(ctx, pe.tracker.DestinationChatID, forwardedID, pe.payload); err != nil {
		d.log.Error("edit sync failed", "tracker_id", trackerID, "error", err)
		return
	}
	if err := d.store.UpdateTrackerSync(ctx, d.store.Q(), pe.tracker.ID, &forwardedID, pe.tracker.Hash); err != nil {
		d.log.Error("stamping last_synced failed", "tracker_id", trackerID, "error", err)
	}
}

// waitForwarded polls the tracker row until forwarded_msg_id is set. The
// common case returns immediately from the snapshot the pipeline handed us.
func (d *Dispatcher) waitForwarded(ctx context.Context, t model.MessageTracker) (int64, error) {
	if t.ForwardedMsgID != nil {
		return *t.ForwardedMsgID, nil
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
			fresh, ok, err := d.store.FindTracker(ctx, d.store.Q(), t.MappingID, t.SourceChatID, t.SourceMsgID)
			if err != nil {
				return 0, err
			}
			if !ok {
				return 0, relayerr.New(relayerr.KindNotFound, "tracker row deleted while waiting")
			}
			if fresh.ForwardedMsgID != nil {
				return *fresh.ForwardedMsgID, nil
			}
		}
	}
}

// EnqueueDelete removes the forwarded copy of a deleted source message. The
// tracker row is removed on success; after the retry budget, or on a
// non-transient failure, it is marked orphaned and keeps the dedup claim. A
// tracker with no forwarded copy is simply removed.
func (d *Dispatcher) EnqueueDelete(ctx context.Context, tracker model.MessageTracker, w model.Worker) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if tracker.ForwardedMsgID == nil {
			// Nothing was delivered; drop the claim so the delete is a no-op.
			if err := d.store.DeleteTracker(ctx, d.store.Q(), tracker.ID); err != nil {
				d.log.Error("deleting unforwarded tracker failed", "tracker_id", tracker.ID, "error", err)
			}
			return
		}

		client := d.pool.ClientFor(w)
		var lastErr error
		for attempt := 0; attempt < d.cfg.RetryMax; attempt++ {
			lastErr = client.Delete(ctx, tracker.DestinationChatID, *tracker.ForwardedMsgID)
			if lastErr == nil {
				if err := d.store.DeleteTracker(ctx, d.store.Q(), tracker.ID); err != nil {
					d.log.Error("deleting tracker after delete sync failed", "tracker_id", tracker.ID, "error", err)
				}
				return
			}
			if !relayerr.Is(lastErr, relayerr.KindPlatformTransient) {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
		}

		d.log.Error("delete sync exhausted retries, marking tracker orphaned",
			"tracker_id", tracker.ID, "error", lastErr)
		if err := d.store.MarkTrackerOrphaned(ctx, d.store.Q(), tracker.ID); err != nil {
			d.log.Error("marking tracker orphaned failed", "tracker_id", tracker.ID, "error", err)
		}
	}()
}
