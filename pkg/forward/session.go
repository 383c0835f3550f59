package forward

import (
	"context"
	"log/slog"
	"sync"

	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/worker"
)

// queuedEvent carries one inbound update plus the session/worker snapshot
// taken at ingress.
type queuedEvent struct {
	ev   worker.Event
	sess model.Session
	w    model.Worker
}

// sessionQueue is the single-consumer queue in front of one session's
// pipeline task. At most one goroutine processes a session at a time; a
// second event arriving while the first is in flight parks in the bounded
// channel. Overflow applies backpressure: the worker's PlatformClient is
// told to pause polling for this session, and resumed once the queue drains
// below half capacity.
type sessionQueue struct {
	sessionID string
	ch        chan queuedEvent
	ctx       context.Context
	cancel    context.CancelFunc

	mu     sync.Mutex
	paused bool
}

func newSessionQueue(sessionID string, capacity int) *sessionQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &sessionQueue{
		sessionID: sessionID,
		ch:        make(chan queuedEvent, capacity),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// enqueue appends an event, pausing the worker's polling when the buffer is
// full. The event itself is not dropped: once backpressure is signalled, the
// append blocks until the consumer frees a slot or the session is cancelled.
func (q *sessionQueue) enqueue(ctx context.Context, e *Engine, sess model.Session, w model.Worker, ev worker.Event) {
	item := queuedEvent{ev: ev, sess: sess, w: w}
	select {
	case q.ch <- item:
		return
	default:
	}

	q.setPaused(e, w, true)
	select {
	case q.ch <- item:
	case <-q.ctx.Done():
	case <-ctx.Done():
	}
}

// run is the consumer loop. Events for the session are processed strictly in
// arrival order; the loop exits when the session is cancelled.
func (q *sessionQueue) run(e *Engine) {
	for {
		select {
		case <-q.ctx.Done():
			return
		case item := <-q.ch:
			e.process(q.ctx, item)
			if q.isPaused() && len(q.ch) < cap(q.ch)/2 {
				q.setPaused(e, item.w, false)
			}
		}
	}
}

func (q *sessionQueue) stop() { q.cancel() }

func (q *sessionQueue) isPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// setPaused flips the flow-control state and tells the worker, idempotently.
func (q *sessionQueue) setPaused(e *Engine, w model.Worker, paused bool) {
	q.mu.Lock()
	if q.paused == paused {
		q.mu.Unlock()
		return
	}
	q.paused = paused
	q.mu.Unlock()

	client := e.pool.ClientFor(w)
	var err error
	if paused {
		err = client.PauseUpdates(q.ctx, q.sessionID)
	} else {
		err = client.ResumeUpdates(q.ctx, q.sessionID)
	}
	if err != nil {
		slog.Warn("flow control signal failed",
			"session_id", q.sessionID, "paused", paused, "error", err)
	}
}
