package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/relayerr"
	"github.com/relaymesh/relayd/pkg/scheduler"
	"github.com/relaymesh/relayd/pkg/workerregistry"
)

// Free user assignment with headroom: the least-loaded worker wins when its
// free slots clear the threshold, and the plan counter moves.
func TestAssign_FreeUserWithHeadroom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	w1 := h.createWorker("w1", 10, 2, 10) // lowest load, 8 slots
	h.createWorker("w2", 10, 1, 40)
	h.createWorker("w3", 10, 0, 70)

	u := h.createUser(model.RoleFree)
	sess := h.createSession(u.ID)

	outcome, err := h.sched.Assign(ctx, sess.ID, u.ID)
	require.NoError(t, err)
	require.Equal(t, scheduler.OutcomeAssigned, outcome.Kind)
	require.Equal(t, w1.ID, outcome.WorkerID)

	require.Equal(t, 1, h.plan(u.ID).CurrentSessions)

	// The session row points at the same worker as the assignment.
	got, err := h.st.GetSession(ctx, h.st.Q(), sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.WorkerID)
	require.Equal(t, w1.ID, *got.WorkerID)
}

// Premium bias: a pro user takes the least-loaded worker even when it is
// near saturation; the next free user avoids it.
func TestAssign_PremiumBias(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	w1 := h.createWorker("w1", 10, 7, 5)  // low load, only 3 slots
	w2 := h.createWorker("w2", 12, 2, 80) // higher load, 10 slots

	pro := h.createUser(model.RolePro)
	proSess := h.createSession(pro.ID)
	outcome, err := h.sched.Assign(ctx, proSess.ID, pro.ID)
	require.NoError(t, err)
	require.Equal(t, w1.ID, outcome.WorkerID)

	free := h.createUser(model.RoleFree)
	freeSess := h.createSession(free.ID)
	outcome, err = h.sched.Assign(ctx, freeSess.ID, free.ID)
	require.NoError(t, err)
	require.Equal(t, w2.ID, outcome.WorkerID)
}

// Quota gate: the free tier admits exactly one session.
func TestAssign_QuotaExceeded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createWorker("w1", 10, 0, 10)

	u := h.createUser(model.RoleFree)
	first := h.createSession(u.ID)
	second := h.createSession(u.ID)

	_, err := h.sched.Assign(ctx, first.ID, u.ID)
	require.NoError(t, err)

	_, err = h.sched.Assign(ctx, second.ID, u.ID)
	requireKind(t, err, relayerr.KindQuotaExceeded)
	require.Equal(t, 1, h.plan(u.ID).CurrentSessions)
}

// Overflow and promotion: with the fleet at capacity, arrivals queue in
// (priority desc, queued_at asc) order and the elite user is promoted first
// when a slot frees.
func TestQueue_OverflowAndPromotion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// One worker, zero slots: everything queues.
	w := h.createWorker("w1", 1, 1, 10)

	free1 := h.createUser(model.RoleFree)
	free2 := h.createUser(model.RoleFree)
	elite := h.createUser(model.RoleElite)

	s1 := h.createSession(free1.ID)
	s2 := h.createSession(free2.ID)
	s3 := h.createSession(elite.ID)

	out1, err := h.sched.Assign(ctx, s1.ID, free1.ID)
	require.NoError(t, err)
	require.Equal(t, scheduler.OutcomeQueued, out1.Kind)
	out2, err := h.sched.Assign(ctx, s2.ID, free2.ID)
	require.NoError(t, err)
	require.Equal(t, scheduler.OutcomeQueued, out2.Kind)
	out3, err := h.sched.Assign(ctx, s3.ID, elite.ID)
	require.NoError(t, err)
	require.Equal(t, scheduler.OutcomeQueued, out3.Kind)

	// Elite outranks both earlier free arrivals.
	items, err := h.st.ListQueueByStatus(ctx, h.st.Q(), model.QueueQueued)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, s3.ID, items[0].SessionID)
	require.Equal(t, s1.ID, items[1].SessionID)
	require.Equal(t, s2.ID, items[2].SessionID)

	// A slot frees; drain promotes the elite session first.
	_, err = h.registry.Ingest(ctx, workerregistry.Heartbeat{WorkerID: w.WorkerID, UsedRAM: 1 << 30, ActiveSessions: 0, PingMs: 5})
	require.NoError(t, err)
	promoted, err := h.sched.DrainQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, promoted)

	a, err := h.st.GetAssignmentBySession(ctx, h.st.Q(), s3.ID)
	require.NoError(t, err)
	require.Equal(t, w.ID, a.WorkerID)

	// Remaining queue renumbers densely from 1.
	items, err = h.st.ListQueueByStatus(ctx, h.st.Q(), model.QueueQueued)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, 1, items[0].Position)
	require.Equal(t, 2, items[1].Position)
}

// Assign followed by terminate restores the plan counter and frees the
// worker slot for the next drain.
func TestAssignTerminate_RoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.createWorker("w1", 10, 0, 10)
	u := h.createUser(model.RolePro)
	sess := h.createSession(u.ID)

	h.assignActive(sess)
	require.Equal(t, 1, h.plan(u.ID).CurrentSessions)

	require.NoError(t, h.sched.Terminate(ctx, sess.ID))
	require.Equal(t, 0, h.plan(u.ID).CurrentSessions)

	_, err := h.st.GetAssignmentBySession(ctx, h.st.Q(), sess.ID)
	requireKind(t, err, relayerr.KindNotFound)

	got, err := h.st.GetSession(ctx, h.st.Q(), sess.ID)
	require.NoError(t, err)
	require.Nil(t, got.WorkerID)
	require.Equal(t, model.SessionStopped, got.Status)

	// Terminate queued a stop_session control for the worker.
	w, err := h.st.GetWorkerByWorkerID(ctx, h.st.Q(), "w1")
	require.NoError(t, err)
	controls, err := h.st.ClaimPendingControls(ctx, h.st.Q(), w.ID)
	require.NoError(t, err)
	require.Len(t, controls, 1)
	require.Equal(t, model.ControlStopSession, controls[0].Action)
}

// Worker loss: a lapsed heartbeat flips the worker offline on the next scan
// and its sessions migrate to the surviving worker with trackers intact.
func TestMigration_WorkerLoss(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	w1 := h.createWorker("w1", 10, 0, 10)
	u := h.createUser(model.RolePro)
	sess := h.createSession(u.ID)
	assignedTo := h.assignActive(sess)
	require.Equal(t, w1.ID, assignedTo)

	// A tracker row from a dispatch that already happened.
	fwd := int64(500)
	tr, err := h.createTrackerRow(u.ID, 1000, 100, fwd)
	require.NoError(t, err)

	// Second worker joins; first worker's heartbeat lapses.
	w2 := h.createWorker("w2", 10, 0, 20)
	time.Sleep(80 * time.Millisecond) // past the 50ms liveness window

	// Keep w2 fresh so only w1 lapses.
	_, err = h.registry.Ingest(ctx, workerregistry.Heartbeat{WorkerID: w2.WorkerID, UsedRAM: 1 << 30, PingMs: 5})
	require.NoError(t, err)

	require.NoError(t, h.registry.ScanLiveness(ctx))

	a, err := h.st.GetAssignmentBySession(ctx, h.st.Q(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, w2.ID, a.WorkerID)
	require.Equal(t, model.AssignmentAssigned, a.Status)

	got, err := h.st.GetSession(ctx, h.st.Q(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, w2.ID, *got.WorkerID)

	// Migration never drops tracker rows.
	fresh, ok, err := h.st.FindTracker(ctx, h.st.Q(), tr.MappingID, tr.SourceChatID, tr.SourceMsgID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, fwd, *fresh.ForwardedMsgID)
}

// Migration with no surviving capacity re-queues one priority band up.
func TestMigration_RequeuesWithPriorityBoost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.createWorker("w1", 10, 0, 10)
	u := h.createUser(model.RoleFree) // plan priority 1
	sess := h.createSession(u.ID)
	h.assignActive(sess)

	time.Sleep(80 * time.Millisecond)
	require.NoError(t, h.registry.ScanLiveness(ctx))

	items, err := h.st.ListQueueByStatus(ctx, h.st.Q(), model.QueueQueued)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, sess.ID, items[0].SessionID)
	require.Equal(t, 2, items[0].Priority) // free priority 1, boosted one band
}

// Scaling trigger: queue depth over the threshold writes an overflow event.
func TestScaling_HighQueueWritesEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.createWorker("w1", 1, 1, 10) // zero capacity

	for i := 0; i < 6; i++ {
		u := h.createUser(model.RolePro)
		sess := h.createSession(u.ID)
		out, err := h.sched.Assign(ctx, sess.ID, u.ID)
		require.NoError(t, err)
		require.Equal(t, scheduler.OutcomeQueued, out.Kind)
	}

	ev, ok, err := h.st.LastScalingEvent(ctx, h.st.Q())
	require.NoError(t, err)
	require.True(t, ok, "expected a scaling event once queue depth passed the threshold")
	require.Equal(t, "overflow_detected", ev.Type)
	require.Equal(t, model.TriggerHighQueue, ev.Trigger)
}
