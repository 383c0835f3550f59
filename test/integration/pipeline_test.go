package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/worker"
)

func (h *harness) waitFor(cond func() bool, msg string) {
	h.t.Helper()
	require.Eventually(h.t, cond, 5*time.Second, 20*time.Millisecond, msg)
}

func (h *harness) event(sessionID string, chatID, msgID int64, text string) worker.Event {
	return worker.Event{
		Kind:      worker.EventNew,
		SessionID: sessionID,
		ChatID:    chatID,
		MsgID:     msgID,
		MsgType:   "text",
		Text:      text,
	}
}

// A clean forward: one event, one send, a tracker row with the forwarded id,
// and a success log.
func TestPipeline_ForwardsAndTracks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.createWorker("w1", 10, 0, 10)
	u := h.createUser(model.RolePro)
	sess := h.createSession(u.ID)
	h.assignActive(sess)
	m := h.createPair(u.ID, 1000, 2000, nil)

	require.NoError(t, h.engine.HandleEvent(ctx, h.event(sess.ID, 1000, 100, "hello world")))

	h.waitFor(func() bool { return h.fake.sendCount() == 1 }, "message never dispatched")

	h.waitFor(func() bool {
		fresh, ok, _ := h.st.FindTracker(ctx, h.st.Q(), m.ID, 1000, 100)
		return ok && fresh.ForwardedMsgID != nil
	}, "forwarded_msg_id never recorded")

	logs, err := h.st.ListForwardingLogs(ctx, h.st.Q(), nil, 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	require.Equal(t, model.LogSuccess, logs[0].Status)
}

// Duplicate suppression: a retry storm delivering the same source event
// twice produces exactly one outbound send; the second attempt's tracker
// insert loses with Conflict and is logged as a duplicate.
func TestPipeline_DuplicateSuppression(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.createWorker("w1", 10, 0, 10)
	u := h.createUser(model.RolePro)
	sess := h.createSession(u.ID)
	h.assignActive(sess)
	h.createPair(u.ID, 1000, 2000, nil)

	ev := h.event(sess.ID, 1000, 100, "only once")
	require.NoError(t, h.engine.HandleEvent(ctx, ev))
	require.NoError(t, h.engine.HandleEvent(ctx, ev))

	// Both events drain through the session queue; only one send survives.
	h.waitFor(func() bool {
		logs, _ := h.st.ListForwardingLogs(ctx, h.st.Q(), nil, 10, 0)
		return len(logs) >= 2
	}, "second event never processed")
	require.Equal(t, 1, h.fake.sendCount())

	var sawDuplicate bool
	logs, err := h.st.ListForwardingLogs(ctx, h.st.Q(), nil, 10, 0)
	require.NoError(t, err)
	for _, l := range logs {
		if l.FilterReason != nil && *l.FilterReason == "duplicate" {
			require.Equal(t, model.LogSuccess, l.Status)
			sawDuplicate = true
		}
	}
	require.True(t, sawDuplicate, "duplicate drop was not logged")
}

// Edit sync: editing a forwarded source message re-renders it and edits the
// forwarded copy in place; no new tracker row appears.
func TestPipeline_EditSync(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.createWorker("w1", 10, 0, 10)
	u := h.createUser(model.RolePro)
	sess := h.createSession(u.ID)
	h.assignActive(sess)
	m := h.createPair(u.ID, 1000, 2000, func(m *model.Mapping) {
		m.Sync = model.Sync{UpdateEnabled: true}
	})

	require.NoError(t, h.engine.HandleEvent(ctx, h.event(sess.ID, 1000, 100, "original text")))
	h.waitFor(func() bool { return h.fake.sendCount() == 1 }, "original never dispatched")

	edit := h.event(sess.ID, 1000, 100, "edited text")
	edit.Kind = worker.EventEdit
	require.NoError(t, h.engine.HandleEvent(ctx, edit))

	h.waitFor(func() bool { return h.fake.editCount() == 1 }, "edit never propagated")

	h.fake.mu.Lock()
	editCall := h.fake.edits[0]
	sendCall := h.fake.sends[0]
	h.fake.mu.Unlock()
	require.Equal(t, sendCall.MsgID, editCall.ForwardedMsgID)
	require.Equal(t, "edited text", editCall.Payload.Text)

	// Still exactly one tracker row for (mapping, chat, msg).
	_, ok, err := h.st.FindTracker(ctx, h.st.Q(), m.ID, 1000, 100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, h.fake.sendCount())
}

// Delete sync: a delete event removes the forwarded copy and retires the
// tracker row.
func TestPipeline_DeleteSync(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.createWorker("w1", 10, 0, 10)
	u := h.createUser(model.RolePro)
	sess := h.createSession(u.ID)
	h.assignActive(sess)
	m := h.createPair(u.ID, 1000, 2000, func(m *model.Mapping) {
		m.Sync = model.Sync{DeleteEnabled: true}
	})

	require.NoError(t, h.engine.HandleEvent(ctx, h.event(sess.ID, 1000, 100, "doomed")))
	h.waitFor(func() bool { return h.fake.sendCount() == 1 }, "original never dispatched")

	del := h.event(sess.ID, 1000, 100, "")
	del.Kind = worker.EventDelete
	require.NoError(t, h.engine.HandleEvent(ctx, del))

	h.waitFor(func() bool {
		h.fake.mu.Lock()
		defer h.fake.mu.Unlock()
		return len(h.fake.deletes) == 1
	}, "delete never propagated")

	h.waitFor(func() bool {
		_, ok, _ := h.st.FindTracker(ctx, h.st.Q(), m.ID, 1000, 100)
		return !ok
	}, "tracker row never retired")
}

// Filter gates write a filtered log and nothing is dispatched.
func TestPipeline_FilterLogsAndSkips(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.createWorker("w1", 10, 0, 10)
	u := h.createUser(model.RolePro)
	sess := h.createSession(u.ID)
	h.assignActive(sess)
	h.createPair(u.ID, 1000, 2000, func(m *model.Mapping) {
		m.Filters.ExcludeKeywords = []string{"spam"}
	})

	require.NoError(t, h.engine.HandleEvent(ctx, h.event(sess.ID, 1000, 100, "this is spam content")))

	h.waitFor(func() bool {
		logs, _ := h.st.ListForwardingLogs(ctx, h.st.Q(), nil, 10, 0)
		return len(logs) == 1
	}, "filter outcome never logged")
	require.Equal(t, 0, h.fake.sendCount())

	filtered := model.LogFiltered
	logs, err := h.st.ListForwardingLogs(ctx, h.st.Q(), &filtered, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "exclude_kw", *logs[0].FilterReason)
}

// Approval delay: a mapping requiring approval parks the message; approving
// it lets the activation poll dispatch it once scheduled_for passes.
func TestPipeline_ApprovalFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.createWorker("w1", 10, 0, 10)
	u := h.createUser(model.RolePro)
	sess := h.createSession(u.ID)
	h.assignActive(sess)
	h.createPair(u.ID, 1000, 2000, func(m *model.Mapping) {
		m.Delay = model.Delay{Enabled: true, Seconds: 0, RequireApproval: true}
	})

	require.NoError(t, h.engine.HandleEvent(ctx, h.event(sess.ID, 1000, 100, "needs a nod")))

	var pm model.PendingMessage
	h.waitFor(func() bool {
		pending, err := h.st.ListPendingByUser(ctx, h.st.Q(), u.ID)
		if err != nil || len(pending) == 0 {
			return false
		}
		pm = pending[0]
		return true
	}, "pending message never created")
	require.Equal(t, model.PendingPending, pm.Status)
	require.Equal(t, 0, h.fake.sendCount())

	require.NoError(t, h.st.DecidePending(ctx, h.st.Q(), pm.ID, model.PendingApproved, u.ID))

	// Run the activation poll until the dispatch lands.
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go h.syncd.Run(pollCtx)

	h.waitFor(func() bool { return h.fake.sendCount() == 1 }, "approved message never dispatched")

	h.waitFor(func() bool {
		pending, _ := h.st.ListPendingByUser(ctx, h.st.Q(), u.ID)
		return len(pending) == 1 && pending[0].Status == model.PendingSent
	}, "pending message never marked sent")
}

// Ordering: events for one source drain in arrival order even when they fan
// out to multiple sibling mappings.
func TestPipeline_OrderWithinSource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.createWorker("w1", 10, 0, 10)
	u := h.createUser(model.RoleElite)
	sess := h.createSession(u.ID)
	h.assignActive(sess)
	h.createPair(u.ID, 1000, 2000, nil)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, h.engine.HandleEvent(ctx, h.event(sess.ID, 1000, 100+i, "msg")))
	}

	h.waitFor(func() bool { return h.fake.sendCount() == 5 }, "events never drained")

	h.fake.mu.Lock()
	defer h.fake.mu.Unlock()
	for i := 1; i < len(h.fake.sends); i++ {
		require.Greater(t, h.fake.sends[i].MsgID, h.fake.sends[i-1].MsgID,
			"dispatches out of arrival order")
	}
}
