// Package forward implements the message-forwarding pipeline (C6): the
// per-event state machine from ingress of a platform update through
// filtering, transformation, approval delay, dispatch, and the at-most-once
// tracker bookkeeping that edit/delete sync relies on.
package forward

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/ruleengine"
	"github.com/relaymesh/relayd/pkg/store"
	"github.com/relaymesh/relayd/pkg/worker"
)

// EditSyncer is the slice of the sync dispatcher (C7) the pipeline hands
// edit and delete propagation to.
type EditSyncer interface {
	EnqueueEdit(ctx context.Context, tracker model.MessageTracker, w model.Worker, payload worker.Payload, delay time.Duration)
	EnqueueDelete(ctx context.Context, tracker model.MessageTracker, w model.Worker)
}

// Publisher fans pipeline outcomes out to the live event stream; nil
// disables publishing.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any)
}

// ApprovalNotifier prompts operators when a message parks for approval;
// nil disables prompts.
type ApprovalNotifier interface {
	NotifyApprovalPending(ctx context.Context, pm model.PendingMessage)
}

// Config holds the pipeline tunables.
type Config struct {
	RetryMax      int // outbound dispatch retries, default 3
	QueueCapacity int // per-session in-memory event buffer, default 256
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{RetryMax: 3, QueueCapacity: 256}
}

// Engine is the forwarding pipeline. One Engine serves every session on the
// controller; per-session ordering comes from single-consumer queues and
// per-source locks, not from a goroutine per mapping.
type Engine struct {
	store    *store.Store
	policies *ruleengine.Cache
	pool     *worker.Pool
	syncer   EditSyncer
	notifier ApprovalNotifier
	cfg      Config
	events   Publisher
	log      *slog.Logger

	locks *keyLocks

	mu       sync.Mutex
	sessions map[string]*sessionQueue
}

// New builds an Engine. syncer may be set later via SetSyncer to break the
// construction cycle with the sync dispatcher.
func New(st *store.Store, policies *ruleengine.Cache, pool *worker.Pool, cfg Config, events Publisher, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	return &Engine{
		store:    st,
		policies: policies,
		pool:     pool,
		cfg:      cfg,
		events:   events,
		log:      log,
		locks:    newKeyLocks(),
		sessions: make(map[string]*sessionQueue),
	}
}

// SetSyncer wires the sync dispatcher after both sides are constructed.
func (e *Engine) SetSyncer(s EditSyncer) { e.syncer = s }

// SetApprovalNotifier wires the operator prompt for parked messages.
func (e *Engine) SetApprovalNotifier(n ApprovalNotifier) { e.notifier = n }

// HandleEvent is the ingress: the worker callback surface calls it for every
// inbound platform update. The event is appended to the session's
// single-consumer queue; a full queue applies backpressure by telling the
// worker to pause polling for that session.
func (e *Engine) HandleEvent(ctx context.Context, ev worker.Event) error {
	sess, err := e.store.GetSession(ctx, e.store.Q(), ev.SessionID)
	if err != nil {
		return err
	}
	if sess.WorkerID == nil {
		e.log.Warn("event for unassigned session dropped", "session_id", ev.SessionID)
		return nil
	}
	w, err := e.store.GetWorker(ctx, e.store.Q(), *sess.WorkerID)
	if err != nil {
		return err
	}

	q := e.queueFor(sess.ID)
	q.enqueue(ctx, e, sess, w, ev)
	return nil
}

// queueFor returns the session's queue, spawning its consumer on first use.
func (e *Engine) queueFor(sessionID string) *sessionQueue {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.sessions[sessionID]
	if !ok {
		q = newSessionQueue(sessionID, e.cfg.QueueCapacity)
		e.sessions[sessionID] = q
		go q.run(e)
	}
	return q
}

// CancelSession stops a session's pipeline task at its next suspension
// point, releasing the per-session queue.
func (e *Engine) CancelSession(sessionID string) {
	e.mu.Lock()
	q, ok := e.sessions[sessionID]
	if ok {
		delete(e.sessions, sessionID)
	}
	e.mu.Unlock()
	if ok {
		q.stop()
	}
}

// Shutdown stops every session queue.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	queues := make([]*sessionQueue, 0, len(e.sessions))
	for _, q := range e.sessions {
		queues = append(queues, q)
	}
	e.sessions = make(map[string]*sessionQueue)
	e.mu.Unlock()
	for _, q := range queues {
		q.stop()
	}
}

func (e *Engine) publish(ctx context.Context, topic string, payload any) {
	if e.events != nil {
		e.events.Publish(ctx, topic, payload)
	}
}
