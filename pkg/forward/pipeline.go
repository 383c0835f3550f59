package forward

import (
	"context"
	"time"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/ruleengine"
	"github.com/relaymesh/relayd/pkg/worker"
)

// process runs one queued event through the pipeline under the per-source
// lock, so an edit for this chat can never interleave with the original's
// dispatch on a sibling mapping.
func (e *Engine) process(ctx context.Context, item queuedEvent) {
	unlock := e.locks.lock(item.ev.ChatID)
	defer unlock()

	switch item.ev.Kind {
	case worker.EventEdit:
		e.processEdit(ctx, item)
	case worker.EventDelete:
		e.processDelete(ctx, item)
	default:
		e.processNew(ctx, item)
	}

	now := time.Now()
	if _, err := e.store.UpdateSessionWith(ctx, e.store.Q(), item.sess.ID, func(s *model.Session) error {
		s.MsgCount++
		s.LastActivity = &now
		return nil
	}); err != nil {
		e.log.Warn("stamping session activity failed", "session_id", item.sess.ID, "error", err)
	}
}

// processNew fans one inbound message out to every active mapping on its
// source chat, in (priority desc, created_at asc) order. A per-mapping
// failure is recorded and the loop continues; the pipeline never aborts the
// whole session on a per-event error.
func (e *Engine) processNew(ctx context.Context, item queuedEvent) {
	mappings, err := e.store.ListActiveMappingsForChat(ctx, e.store.Q(), item.sess.UserID, item.ev.ChatID)
	if err != nil {
		e.log.Error("resolving mappings failed", "chat_id", item.ev.ChatID, "error", err)
		return
	}

	for _, m := range mappings {
		started := time.Now()
		policy, err := e.policies.PolicyFor(ctx, m)
		if err != nil {
			e.log.Error("loading policy failed", "mapping_id", m.ID, "error", err)
			continue
		}

		decision := ruleengine.Evaluate(evalEvent(item.ev), policy)
		switch decision.Kind {
		case ruleengine.DecisionFilter:
			e.writeLog(ctx, m, item.ev, model.LogFiltered, decision.Reason, "", nil, started)
		case ruleengine.DecisionBlock:
			e.writeLog(ctx, m, item.ev, model.LogError, "", decision.Reason, nil, started)
		case ruleengine.DecisionApprove:
			e.createPending(ctx, m, item, decision, started)
		case ruleengine.DecisionForward:
			e.dispatch(ctx, m, item, decision.ProcessedText, decision.MediaRefs, started)
		}
	}
}

// createPending parks an approval-gated message. scheduled_for is the
// delayed dispatch instant; expires_at, set only when the mapping has
// auto_approve_after_s, is the instant after which a still-pending message
// is auto-approved.
func (e *Engine) createPending(ctx context.Context, m model.Mapping, item queuedEvent, d ruleengine.Decision, started time.Time) {
	dest, err := e.store.GetDestination(ctx, e.store.Q(), m.DestinationID)
	if err != nil {
		e.writeLog(ctx, m, item.ev, model.LogError, "", err.Error(), nil, started)
		return
	}

	now := time.Now()
	pm := model.PendingMessage{
		MappingID:         m.ID,
		UserID:            m.UserID,
		OriginalContent:   []byte(item.ev.Text),
		ProcessedContent:  []byte(d.ProcessedText),
		Status:            model.PendingPending,
		ScheduledFor:      now.Add(time.Duration(m.Delay.Seconds) * time.Second),
		SourceMsgID:       item.ev.MsgID,
		SourceChatID:      item.ev.ChatID,
		DestinationChatID: dest.ChatID,
	}
	if m.Delay.AutoApproveAfterS != nil {
		exp := now.Add(time.Duration(*m.Delay.AutoApproveAfterS) * time.Second)
		pm.ExpiresAt = &exp
	}

	created, err := e.store.PutPending(ctx, e.store.Q(), pm)
	if err != nil {
		e.writeLog(ctx, m, item.ev, model.LogError, "", err.Error(), nil, started)
		return
	}
	e.publish(ctx, "pending.created", created)
	if e.notifier != nil {
		e.notifier.NotifyApprovalPending(ctx, created)
	}
}

// processEdit re-evaluates an edited source message and hands the new
// rendering to the sync dispatcher for every mapping that has update sync
// enabled and a tracker row for this message.
func (e *Engine) processEdit(ctx context.Context, item queuedEvent) {
	mappings, err := e.store.ListActiveMappingsForChat(ctx, e.store.Q(), item.sess.UserID, item.ev.ChatID)
	if err != nil {
		e.log.Error("resolving mappings for edit failed", "chat_id", item.ev.ChatID, "error", err)
		return
	}

	for _, m := range mappings {
		if !m.Sync.UpdateEnabled {
			continue
		}
		tracker, ok, err := e.store.FindTracker(ctx, e.store.Q(), m.ID, item.ev.ChatID, item.ev.MsgID)
		if err != nil {
			e.log.Error("tracker lookup for edit failed", "mapping_id", m.ID, "error", err)
			continue
		}
		if !ok {
			// Never forwarded (filtered at the time, or predates the mapping).
			continue
		}

		policy, err := e.policies.PolicyFor(ctx, m)
		if err != nil {
			e.log.Error("loading policy for edit failed", "mapping_id", m.ID, "error", err)
			continue
		}
		decision := ruleengine.Evaluate(evalEvent(item.ev), policy)
		if decision.Kind != ruleengine.DecisionForward && decision.Kind != ruleengine.DecisionApprove {
			continue
		}

		if e.syncer != nil {
			delay := time.Duration(m.Sync.UpdateDelayS) * time.Second
			e.syncer.EnqueueEdit(ctx, tracker, item.w,
				worker.Payload{Text: decision.ProcessedText, MediaRefs: decision.MediaRefs}, delay)
		}
	}
}

// processDelete asks the sync dispatcher to delete the forwarded copy for
// every mapping with delete sync enabled.
func (e *Engine) processDelete(ctx context.Context, item queuedEvent) {
	mappings, err := e.store.ListActiveMappingsForChat(ctx, e.store.Q(), item.sess.UserID, item.ev.ChatID)
	if err != nil {
		e.log.Error("resolving mappings for delete failed", "chat_id", item.ev.ChatID, "error", err)
		return
	}

	for _, m := range mappings {
		if !m.Sync.DeleteEnabled {
			continue
		}
		tracker, ok, err := e.store.FindTracker(ctx, e.store.Q(), m.ID, item.ev.ChatID, item.ev.MsgID)
		if err != nil || !ok {
			continue
		}
		if e.syncer != nil {
			e.syncer.EnqueueDelete(ctx, tracker, item.w)
		}
	}
}

// writeLog appends a forwarding-log row; failures to log are themselves only
// logged, never escalated.
func (e *Engine) writeLog(ctx context.Context, m model.Mapping, ev worker.Event, status model.LogStatus, filterReason, errText string, processed *string, started time.Time) {
	ms := time.Since(started).Milliseconds()
	l := model.ForwardingLog{
		MappingID:     &m.ID,
		SourceID:      &m.SourceID,
		DestinationID: &m.DestinationID,
		MsgType:       ev.MsgType,
		OriginalText:  &ev.Text,
		ProcessedText: processed,
		Status:        status,
		ProcessingMs:  &ms,
	}
	if filterReason != "" {
		l.FilterReason = &filterReason
	}
	if errText != "" {
		l.Error = &errText
	}
	if _, err := e.store.PutForwardingLog(ctx, e.store.Q(), l); err != nil {
		e.log.Error("writing forwarding log failed", "mapping_id", m.ID, "error", err)
	}
	e.publish(ctx, "forwarding.logged", l)
}

func evalEvent(ev worker.Event) ruleengine.Event {
	return ruleengine.Event{
		Type:      ev.MsgType,
		Text:      ev.Text,
		IsForward: ev.IsForward,
		Sender:    ev.Sender,
		MediaRefs: ev.MediaRefs,
	}
}
