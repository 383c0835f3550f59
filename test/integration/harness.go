// Package integration exercises the controller end-to-end against a real
// Postgres, with an in-memory fake standing in for the worker fleet's
// platform clients.
package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relayd/pkg/forward"
	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/quota"
	"github.com/relaymesh/relayd/pkg/relayerr"
	"github.com/relaymesh/relayd/pkg/ruleengine"
	"github.com/relaymesh/relayd/pkg/scheduler"
	"github.com/relaymesh/relayd/pkg/store"
	"github.com/relaymesh/relayd/pkg/syncer"
	"github.com/relaymesh/relayd/pkg/worker"
	"github.com/relaymesh/relayd/pkg/workerregistry"
	"github.com/relaymesh/relayd/test/util"
)

// sendCall records one fake dispatch.
type sendCall struct {
	ChatID  int64
	Payload worker.Payload
	MsgID   int64
}

type editCall struct {
	ChatID         int64
	ForwardedMsgID int64
	Payload        worker.Payload
}

type deleteCall struct {
	ChatID         int64
	ForwardedMsgID int64
}

// fakePlatform is the in-memory PlatformClient substituted for every worker.
type fakePlatform struct {
	mu        sync.Mutex
	nextMsgID int64
	sends     []sendCall
	edits     []editCall
	deletes   []deleteCall
	sendErr   error
	paused    map[string]bool
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{nextMsgID: 500, paused: make(map[string]bool)}
}

func (f *fakePlatform) StartSession(ctx context.Context, sessionID string, authBlob []byte) error {
	return nil
}
func (f *fakePlatform) StopSession(ctx context.Context, sessionID string) error { return nil }

func (f *fakePlatform) Send(ctx context.Context, chatID int64, payload worker.Payload) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	id := f.nextMsgID
	f.nextMsgID++
	f.sends = append(f.sends, sendCall{ChatID: chatID, Payload: payload, MsgID: id})
	return id, nil
}

func (f *fakePlatform) Edit(ctx context.Context, chatID, forwardedMsgID int64, payload worker.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editCall{ChatID: chatID, ForwardedMsgID: forwardedMsgID, Payload: payload})
	return nil
}

func (f *fakePlatform) Delete(ctx context.Context, chatID, forwardedMsgID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, deleteCall{ChatID: chatID, ForwardedMsgID: forwardedMsgID})
	return nil
}

func (f *fakePlatform) PauseUpdates(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused[sessionID] = true
	return nil
}

func (f *fakePlatform) ResumeUpdates(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused[sessionID] = false
	return nil
}

func (f *fakePlatform) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakePlatform) editCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.edits)
}

// harness wires a full controller core over a per-test database.
type harness struct {
	t        *testing.T
	st       *store.Store
	quota    *quota.Manager
	registry *workerregistry.Registry
	sched    *scheduler.Scheduler
	pool     *worker.Pool
	engine   *forward.Engine
	syncd    *syncer.Dispatcher
	fake     *fakePlatform
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := util.SetupTestStore(t)

	h := &harness{t: t, st: st, fake: newFakePlatform()}
	h.quota = quota.New(st, quota.DefaultTierLimits(), nil)
	h.pool = worker.NewPool(nil)

	h.registry = workerregistry.New(st, 50*time.Millisecond, func(ctx context.Context, w model.Worker) {
		_ = h.sched.MigrateWorker(ctx, w.ID)
		_, _ = h.sched.DrainQueue(ctx)
	}, nil)

	h.sched = scheduler.New(st, h.registry, h.quota, scheduler.DefaultConfig(), nil, nil, nil)

	policies := ruleengine.NewCache(st, nil)
	h.engine = forward.New(st, policies, h.pool, forward.DefaultConfig(), nil, nil)
	h.syncd = syncer.New(st, h.pool, syncer.Config{RetryMax: 3, PollInterval: 50 * time.Millisecond}, nil)
	h.syncd.SetApprovedDispatcher(h.engine)
	h.engine.SetSyncer(h.syncd)

	t.Cleanup(h.engine.Shutdown)
	return h
}

func (h *harness) createUser(tier model.Role) model.User {
	h.t.Helper()
	ctx := context.Background()
	limits := quota.DefaultTierLimits()[tier]

	var u model.User
	err := h.st.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
		created, err := h.st.PutUser(ctx, q, model.User{
			Username: fmt.Sprintf("user-%s-%d", tier, time.Now().UnixNano()),
			Email:    fmt.Sprintf("%d-%s@example.test", time.Now().UnixNano(), tier),
			Role:     tier,
			Active:   true,
		})
		if err != nil {
			return err
		}
		_, err = h.st.PutPlan(ctx, q, model.Plan{
			UserID:      created.ID,
			Tier:        tier,
			Status:      model.PlanStatusActive,
			MaxSessions: limits.MaxSessions,
			MaxPairs:    limits.MaxPairs,
			Priority:    limits.Priority,
			Start:       time.Now(),
		})
		u = created
		return err
	})
	require.NoError(h.t, err)
	return u
}

// createWorker registers a fleet node and heartbeats it online with the
// given utilisation shape. The fake platform client is primed for it.
func (h *harness) createWorker(label string, maxSessions, activeSessions int, cpuPct float64) model.Worker {
	h.t.Helper()
	ctx := context.Background()

	_, err := h.st.PutWorker(ctx, h.st.Q(), model.Worker{
		WorkerID:     label,
		Address:      "127.0.0.1:9090",
		Status:       model.WorkerOffline,
		TotalRAM:     16 << 30,
		MaxSessions:  maxSessions,
		RAMThreshold: 15 << 30,
		AuthToken:    "test-token-" + label,
	})
	require.NoError(h.t, err)

	updated, err := h.registry.Ingest(ctx, workerregistry.Heartbeat{
		WorkerID:       label,
		UsedRAM:        1 << 30,
		CPUPercent:     cpuPct,
		ActiveSessions: activeSessions,
		PingMs:         5,
	})
	require.NoError(h.t, err)

	h.pool.Put(updated.ID, h.fake)
	return updated
}

func (h *harness) createSession(userID string) model.Session {
	h.t.Helper()
	sess, err := h.st.PutSession(context.Background(), h.st.Q(), model.Session{
		UserID:      userID,
		SessionName: "sess",
		Phone:       "+100000",
		AuthBlob:    []byte("blob"),
	})
	require.NoError(h.t, err)
	return sess
}

// createPair creates a source, destination, and connecting mapping, and
// reserves the pair quota like the API does.
func (h *harness) createPair(userID string, chatID, destChatID int64, mutate func(*model.Mapping)) model.Mapping {
	h.t.Helper()
	ctx := context.Background()

	src, err := h.st.PutSource(ctx, h.st.Q(), model.Source{
		UserID: userID, ChatID: chatID, ChatTitle: "src", ChatType: model.ChatChannel, Active: true,
	})
	require.NoError(h.t, err)
	dst, err := h.st.PutDestination(ctx, h.st.Q(), model.Destination{
		UserID: userID, ChatID: destChatID, ChatTitle: "dst", ChatType: model.ChatChannel, Active: true,
	})
	require.NoError(h.t, err)

	require.NoError(h.t, h.quota.Reserve(ctx, userID, quota.KindPair))

	m := model.Mapping{
		UserID:        userID,
		SourceID:      src.ID,
		DestinationID: dst.ID,
		PairName:      "pair",
		PairType:      "default",
		Priority:      1,
		Active:        true,
		Filters:       model.Filters{KeywordMode: model.KeywordAny},
		Editing:       model.Editing{PreserveFormatting: true},
	}
	if mutate != nil {
		mutate(&m)
	}
	created, err := h.st.PutMapping(ctx, h.st.Q(), m)
	require.NoError(h.t, err)
	return created
}

// assignActive assigns a session and drives it to active, the state a
// running pipeline session is in.
func (h *harness) assignActive(sess model.Session) string {
	h.t.Helper()
	ctx := context.Background()

	outcome, err := h.sched.Assign(ctx, sess.ID, sess.UserID)
	require.NoError(h.t, err)
	require.Equal(h.t, scheduler.OutcomeAssigned, outcome.Kind)
	require.NoError(h.t, h.sched.Activate(ctx, sess.ID))
	return outcome.WorkerID
}

// createTrackerRow fabricates a mapping plus an already-dispatched tracker
// row, the state a forwarded message leaves behind.
func (h *harness) createTrackerRow(userID string, chatID, msgID, forwardedID int64) (model.MessageTracker, error) {
	h.t.Helper()
	ctx := context.Background()

	m := h.createPair(userID, chatID, chatID+9000, nil)
	tr, err := h.st.PutTracker(ctx, h.st.Q(), model.MessageTracker{
		MappingID:         m.ID,
		SourceMsgID:       msgID,
		SourceChatID:      chatID,
		DestinationChatID: chatID + 9000,
	})
	if err != nil {
		return model.MessageTracker{}, err
	}
	if err := h.st.UpdateTrackerSync(ctx, h.st.Q(), tr.ID, &forwardedID, nil); err != nil {
		return model.MessageTracker{}, err
	}
	fresh, _, err := h.st.FindTracker(ctx, h.st.Q(), m.ID, chatID, msgID)
	return fresh, err
}

func (h *harness) plan(userID string) model.Plan {
	h.t.Helper()
	p, err := h.st.GetPlan(context.Background(), h.st.Q(), userID)
	require.NoError(h.t, err)
	return p
}

func requireKind(t *testing.T, err error, kind relayerr.Kind) {
	t.Helper()
	require.Truef(t, relayerr.Is(err, kind), "expected %v, got %v", kind, err)
}
