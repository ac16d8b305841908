// Package agent implements the warm-pool side of a tunnel: a fixed number
// of outbound connections held open against the relay, each idle until the
// relay pairs it with a public client, at which point it dials the local
// target and pumps bytes, while a replacement is spawned to keep the pool
// full.
package agent

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/natrelay/tunnel/internal/obs"
	"github.com/natrelay/tunnel/internal/tlsmaterial"
	"github.com/natrelay/tunnel/internal/tunnel"
)

// keepAlivePeriod is the fixed TCP keep-alive interval for both of the
// agent's outbound legs (relay and target), mirroring the relay's own
// accept-side keepAliveListener.
const keepAlivePeriod = 120 * time.Second

// Options configures a Pool.
type Options struct {
	RelayAddr string
	RelayTLS  tlsmaterial.Material

	TargetAddr string
	TargetTLS  tlsmaterial.Material

	Secret []byte
	Size   int

	// ReplaceDelay is the fixed delay before replacing a pool member that
	// closed unexpectedly while still warm (never consumed). Consumption
	// itself triggers an immediate replacement with no delay.
	ReplaceDelay time.Duration
	DialTimeout  time.Duration

	// RelayIdleTimeout bounds how long a relay-facing pipe may go without a
	// byte arriving, whether it is still warm in the pool or already pumping
	// for a consumed client. Zero disables it, matching the relay's own
	// default of waiting for a counterpart indefinitely.
	RelayIdleTimeout time.Duration
}

// Pool keeps Options.Size outbound connections to the relay open at all
// times, replacing each as it is consumed or unexpectedly dropped.
type Pool struct {
	opts Options
	done chan struct{}

	mu    sync.Mutex
	pipes map[*tunnel.Pipe]struct{}
}

// NewPool constructs a Pool from opts. It does not dial anything yet.
func NewPool(opts Options) *Pool {
	if opts.ReplaceDelay <= 0 {
		opts.ReplaceDelay = 5 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	return &Pool{opts: opts, done: make(chan struct{}), pipes: make(map[*tunnel.Pipe]struct{})}
}

// Run spawns Size pool members and keeps the pool replenished until ctx is
// cancelled, then destroys every pipe still open — warm, pumping, or
// anywhere in between — so no live RunPipe goroutine outlives Run.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.opts.Size; i++ {
		go p.spawnMember(ctx)
	}
	<-ctx.Done()
	p.closeAll()
}

// track registers pipe as open so closeAll can find it on shutdown.
func (p *Pool) track(pipe *tunnel.Pipe) {
	p.mu.Lock()
	p.pipes[pipe] = struct{}{}
	p.mu.Unlock()
}

// untrack removes pipe once its own RunPipe has returned and it has been
// closed by the caller already.
func (p *Pool) untrack(pipe *tunnel.Pipe) {
	p.mu.Lock()
	delete(p.pipes, pipe)
	p.mu.Unlock()
}

// closeAll closes every currently tracked pipe: relay-facing pool members,
// warm or consumed, and any target-facing pipes still pumping for them.
func (p *Pool) closeAll() {
	p.mu.Lock()
	pipes := make([]*tunnel.Pipe, 0, len(p.pipes))
	for pipe := range p.pipes {
		pipes = append(pipes, pipe)
	}
	p.mu.Unlock()
	for _, pipe := range pipes {
		_ = pipe.Close()
	}
}

// spawnMember is the single entry point both replacement triggers funnel
// through: it dials the relay, presents the shared secret, and then either
// waits for the connection to be consumed (first byte from the relay) or to
// close unexpectedly while still warm.
func (p *Pool) spawnMember(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	conn, err := p.dialRelay(ctx)
	if err != nil {
		obs.Error("agent.pool.dial_failed", obs.Fields{"err": err.Error()})
		obs.ErrorsTotal.WithLabelValues("relay_dial").Inc()
		p.scheduleReplace(ctx)
		return
	}
	if len(p.opts.Secret) > 0 {
		if _, err := conn.Write(p.opts.Secret); err != nil {
			_ = conn.Close()
			obs.Error("agent.pool.handshake_failed", obs.Fields{"err": err.Error()})
			p.scheduleReplace(ctx)
			return
		}
	}

	id := randomID()
	rp := tunnel.NewPipe(id, conn, tunnel.RoleRelay, nil)
	rp.SetIdleTimeout(p.opts.RelayIdleTimeout)
	p.track(rp)

	var consumed int32
	rp.SetOnFirstByte(func() {
		if atomic.CompareAndSwapInt32(&consumed, 0, 1) {
			obs.AgentPoolSize.Dec()
			obs.AgentPoolReplacementTotal.WithLabelValues("consumed").Inc()
			go p.spawnMember(ctx)
		}
		go p.connectTarget(ctx, rp)
	})

	obs.AgentPoolSize.Inc()
	obs.Debug("agent.pool.member.warm", obs.Fields{"id": id})

	err = rp.RunPipe()
	_ = rp.Close()
	p.untrack(rp)
	if peer := rp.Peer(); peer != nil {
		_ = peer.Close()
	}

	if atomic.LoadInt32(&consumed) == 0 {
		obs.AgentPoolSize.Dec()
		obs.AgentPoolReplacementTotal.WithLabelValues("unexpected_close").Inc()
		obs.Debug("agent.pool.member.unexpected_close", obs.Fields{"id": id, "err": errString(err)})
		p.scheduleReplace(ctx)
	}
}

// scheduleReplace waits the fixed replacement delay, expressed as a
// degenerate backoff.Backoff with Min == Max, before spawning a new member.
func (p *Pool) scheduleReplace(ctx context.Context) {
	b := &backoff.Backoff{Min: p.opts.ReplaceDelay, Max: p.opts.ReplaceDelay, Factor: 1}
	select {
	case <-time.After(b.Duration()):
		p.spawnMember(ctx)
	case <-ctx.Done():
	}
}

// connectTarget dials the local target once a pool member has been
// consumed, and pairs the relay-facing pipe with the target-facing one.
func (p *Pool) connectTarget(ctx context.Context, rp *tunnel.Pipe) {
	conn, err := p.dialTarget(ctx)
	if err != nil {
		obs.Error("agent.target.dial_failed", obs.Fields{"err": err.Error()})
		obs.ErrorsTotal.WithLabelValues("target_dial").Inc()
		_ = rp.Close()
		return
	}
	tp := tunnel.NewPipe(randomID(), conn, tunnel.RoleTarget, nil)
	p.track(tp)
	go func() {
		err := tp.RunPipe()
		_ = tp.Close()
		p.untrack(tp)
		if peer := tp.Peer(); peer != nil {
			_ = peer.Close()
		}
		_ = err
	}()
	if err := tunnel.PairPipes(rp, tp); err != nil {
		obs.Error("agent.pair.failed", obs.Fields{"err": err.Error()})
		_ = rp.Close()
		_ = tp.Close()
	}
}

func (p *Pool) dialRelay(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: p.opts.DialTimeout, KeepAlive: keepAlivePeriod}
	tlsCfg, err := p.opts.RelayTLS.Resolve()
	if err != nil {
		return nil, err
	}
	if tlsCfg == nil {
		return dialer.DialContext(ctx, "tcp", p.opts.RelayAddr)
	}
	return tls.DialWithDialer(dialer, "tcp", p.opts.RelayAddr, tlsCfg)
}

func (p *Pool) dialTarget(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: p.opts.DialTimeout, KeepAlive: keepAlivePeriod}
	tlsCfg, err := p.opts.TargetTLS.Resolve()
	if err != nil {
		return nil, err
	}
	if tlsCfg == nil {
		return dialer.DialContext(ctx, "tcp", p.opts.TargetAddr)
	}
	return tls.DialWithDialer(dialer, "tcp", p.opts.TargetAddr, tlsCfg)
}

func randomID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
