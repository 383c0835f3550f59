package worker

import (
	"log/slog"
	"sync"

	"github.com/relaymesh/relayd/pkg/model"
)

// Pool hands out one PlatformClient per worker, keeping the circuit breaker
// (and its failure history) stable across calls instead of rebuilding it per
// dispatch.
type Pool struct {
	mu      sync.Mutex
	clients map[string]PlatformClient // worker primary id → client
	log     *slog.Logger
}

// NewPool builds an empty client pool.
func NewPool(log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{clients: make(map[string]PlatformClient), log: log}
}

// ClientFor returns the cached client for a worker, constructing one on
// first use.
func (p *Pool) ClientFor(w model.Worker) PlatformClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[w.ID]; ok {
		return c
	}
	c := NewClient(w.Address, w.AuthToken, p.log.With("worker_id", w.WorkerID))
	p.clients[w.ID] = c
	return c
}

// Forget drops a worker's cached client, called when the worker is deleted.
func (p *Pool) Forget(workerID string) {
	p.mu.Lock()
	delete(p.clients, workerID)
	p.mu.Unlock()
}

// Put primes the pool with a pre-built client, used by tests to substitute
// an in-memory fake for the HTTP client.
func (p *Pool) Put(workerID string, c PlatformClient) {
	p.mu.Lock()
	p.clients[workerID] = c
	p.mu.Unlock()
}
