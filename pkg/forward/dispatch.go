package forward

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/relayerr"
	"github.com/relaymesh/relayd/pkg/store"
	"github.com/relaymesh/relayd/pkg/worker"
)

// dispatch delivers one rendered message for one mapping. The tracker row is
// the at-most-once claim: it is inserted before the outbound send under the
// (mapping, source_chat, source_msg) unique key, so a retried delivery of
// the same source event loses the insert race with Conflict and is dropped
// as a duplicate. Transient send failures retry with jittered exponential
// backoff up to retry_max, leaving forwarded_msg_id null in between;
// exhaustion keeps the row (the claim stands). Permanent failures delete the
// row so the user may re-attempt the same source message later.
func (e *Engine) dispatch(ctx context.Context, m model.Mapping, item queuedEvent, rendered string, mediaRefs []string, started time.Time) {
	dest, err := e.store.GetDestination(ctx, e.store.Q(), m.DestinationID)
	if err != nil {
		e.writeLog(ctx, m, item.ev, model.LogError, "", err.Error(), nil, started)
		return
	}

	var tracker model.MessageTracker
	err = e.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
		t, err := e.store.PutTracker(ctx, q, model.MessageTracker{
			MappingID:         m.ID,
			SourceMsgID:       item.ev.MsgID,
			SourceChatID:      item.ev.ChatID,
			DestinationChatID: dest.ChatID,
		})
		if err != nil {
			return err
		}
		tracker = t
		return nil
	})
	if err != nil {
		if relayerr.Is(err, relayerr.KindConflict) {
			reason := "duplicate"
			e.writeLog(ctx, m, item.ev, model.LogSuccess, reason, "", nil, started)
			return
		}
		e.writeLog(ctx, m, item.ev, model.LogError, "", err.Error(), nil, started)
		return
	}

	client := e.pool.ClientFor(item.w)
	payload := worker.Payload{Text: rendered, MediaRefs: mediaRefs}

	forwardedID, err := e.sendWithRetry(ctx, client, dest.ChatID, payload)
	if err != nil {
		if relayerr.Is(err, relayerr.KindPlatformPermanent) {
			if derr := e.store.DeleteTracker(ctx, e.store.Q(), tracker.ID); derr != nil {
				e.log.Error("deleting tracker after permanent failure failed", "tracker_id", tracker.ID, "error", derr)
			}
		}
		e.writeLog(ctx, m, item.ev, model.LogError, "", err.Error(), &rendered, started)
		return
	}

	if err := e.store.UpdateTrackerSync(ctx, e.store.Q(), tracker.ID, &forwardedID, nil); err != nil {
		e.log.Error("recording forwarded message id failed", "tracker_id", tracker.ID, "error", err)
	}
	if err := e.store.IncrementSourceMessageCount(ctx, e.store.Q(), m.SourceID); err != nil {
		e.log.Warn("bumping source counter failed", "source_id", m.SourceID, "error", err)
	}
	if err := e.store.IncrementDestinationMessageCount(ctx, e.store.Q(), m.DestinationID); err != nil {
		e.log.Warn("bumping destination counter failed", "destination_id", m.DestinationID, "error", err)
	}

	e.writeLog(ctx, m, item.ev, model.LogSuccess, "", "", &rendered, started)
	e.publish(ctx, "message.forwarded", map[string]any{
		"mapping_id":       m.ID,
		"source_msg_id":    item.ev.MsgID,
		"forwarded_msg_id": forwardedID,
	})
}

// sendWithRetry wraps PlatformClient.Send in the documented retry policy:
// base 500ms, factor 2, cap 30s, at most retry_max retries after the first
// attempt, transient failures only. A permanent failure aborts the loop immediately.
func (e *Engine) sendWithRetry(ctx context.Context, client worker.PlatformClient, destChatID int64, payload worker.Payload) (int64, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second

	var forwardedID int64
	op := func() error {
		id, err := client.Send(ctx, destChatID, payload)
		if err != nil {
			if relayerr.Is(err, relayerr.KindPlatformTransient) {
				return err
			}
			return backoff.Permanent(err)
		}
		forwardedID = id
		return nil
	}
	// backoff.Retry unwraps Permanent errors back to their cause.
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.RetryMax)), ctx)); err != nil {
		return 0, err
	}
	return forwardedID, nil
}

// DispatchApproved delivers a pending message whose approval delay elapsed.
// Evaluation already ran when the message was parked, so the gates are
// bypassed; the tracker claim and retry policy still apply.
func (e *Engine) DispatchApproved(ctx context.Context, pm model.PendingMessage) error {
	m, err := e.store.GetMapping(ctx, e.store.Q(), pm.MappingID)
	if err != nil {
		return err
	}

	// Dispatch through whichever of the user's sessions currently holds a
	// worker; the original receiving session may have migrated since.
	sess, w, err := e.liveSessionFor(ctx, pm.UserID)
	if err != nil {
		return err
	}

	item := queuedEvent{
		ev: worker.Event{
			Kind:      worker.EventNew,
			SessionID: sess.ID,
			ChatID:    pm.SourceChatID,
			MsgID:     pm.SourceMsgID,
			MsgType:   "text",
			Text:      string(pm.OriginalContent),
		},
		sess: sess,
		w:    w,
	}

	unlock := e.locks.lock(pm.SourceChatID)
	defer unlock()
	e.dispatch(ctx, m, item, string(pm.ProcessedContent), nil, time.Now())
	return nil
}

func (e *Engine) liveSessionFor(ctx context.Context, userID string) (model.Session, model.Worker, error) {
	sessions, err := e.store.ListSessionsByUser(ctx, e.store.Q(), userID)
	if err != nil {
		return model.Session{}, model.Worker{}, err
	}
	for _, s := range sessions {
		if s.WorkerID == nil {
			continue
		}
		w, err := e.store.GetWorker(ctx, e.store.Q(), *s.WorkerID)
		if err != nil {
			continue
		}
		return s, w, nil
	}
	return model.Session{}, model.Worker{}, relayerr.New(relayerr.KindWorkerUnavailable, "user has no session on a worker")
}
