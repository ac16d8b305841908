package agent

import (
	"context"
	"sync"

	"github.com/natrelay/tunnel/internal/obs"
)

// Agent wraps a Pool with the readiness/shutdown bookkeeping cmd/agent needs
// for its health endpoint, mirroring how the relay tracks readiness.
type Agent struct {
	pool *Pool

	mu    sync.Mutex
	ready bool
}

// New constructs an Agent around a pool built from opts.
func New(opts Options) *Agent {
	return &Agent{pool: NewPool(opts)}
}

// Run starts the pool and blocks until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) {
	a.mu.Lock()
	a.ready = true
	a.mu.Unlock()
	obs.Info("agent.ready", obs.Fields{"relay": a.pool.opts.RelayAddr, "target": a.pool.opts.TargetAddr, "pool_size": a.pool.opts.Size})
	a.pool.Run(ctx)
}

// Ready reports whether the pool has started.
func (a *Agent) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}
