package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/natrelay/tunnel/internal/obs"
	"github.com/natrelay/tunnel/internal/ratelimit"
	"github.com/natrelay/tunnel/internal/tlsmaterial"
	"github.com/natrelay/tunnel/internal/tunnel"
)

// Options configures a Relay. Every field is a resolved value — flag/TOML
// parsing and defaulting are the caller's job (see internal/config).
type Options struct {
	PublicAddr string
	RelayAddr  string

	PublicTLS tlsmaterial.Material
	RelayTLS  tlsmaterial.Material

	// PublicIdleTimeout, if non-zero, bounds how long a public-side pipe may
	// go without a byte arriving — whether it is still waiting for an agent
	// or already pumping — before it is torn down. Zero disables it and the
	// pipe waits (and pumps) indefinitely.
	PublicIdleTimeout time.Duration
	// RelayIdleTimeout is the same bound applied to agent-facing pipes. It
	// also bounds how long the Authenticator waits for the shared secret:
	// an unauthenticated connection is just a pipe that hasn't sent its
	// first (valid) bytes yet. Zero disables both — a warm pool member
	// waits for a counterpart with no time limit, matching the agent's own
	// expectation that idle pool members are never reclaimed by the relay.
	RelayIdleTimeout time.Duration

	Secret  []byte
	KeyFunc KeyFunc

	KeepAlive time.Duration

	RateLimiter *ratelimit.RateLimiter

	Store *StateStore // optional cross-instance stats aggregation
}

// Relay is the pairing and forwarding engine: a public listener, an
// agent-facing listener, a Matcher partitioned by tunnel key, and the
// Authenticator gating the agent-facing side.
type Relay struct {
	opts    Options
	matcher *Matcher
	auth    *Authenticator

	mu         sync.Mutex
	ready      bool
	closing    bool
	publicAddr net.Addr
	relayAddr  net.Addr
}

// PublicAddr returns the bound address of the public listener, valid once
// ListenAndServe has started (after Ready() is true).
func (r *Relay) PublicAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.publicAddr
}

// RelayAddr returns the bound address of the agent-facing listener.
func (r *Relay) RelayAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.relayAddr
}

// New constructs a Relay from Options. It does not bind any sockets.
func New(opts Options) *Relay {
	return &Relay{
		opts:    opts,
		matcher: NewMatcher(),
		auth:    &Authenticator{Secret: opts.Secret, Timeout: opts.RelayIdleTimeout},
	}
}

// Ready reports whether both listeners are up and accepting.
func (r *Relay) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready && !r.closing
}

// ListenAndServe binds the public and agent-facing listeners and serves
// until ctx is cancelled, at which point both listeners are closed and any
// still-pending public connections are dropped.
func (r *Relay) ListenAndServe(ctx context.Context) error {
	publicLn, err := Listen(ListenerConfig{Addr: r.opts.PublicAddr, TLS: r.opts.PublicTLS, KeepAlive: r.opts.KeepAlive})
	if err != nil {
		return err
	}
	defer publicLn.Close()

	relayLn, err := Listen(ListenerConfig{Addr: r.opts.RelayAddr, TLS: r.opts.RelayTLS, KeepAlive: r.opts.KeepAlive})
	if err != nil {
		return err
	}
	defer relayLn.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); r.acceptLoop(ctx, publicLn, r.handlePublicConn) }()
	go func() { defer wg.Done(); r.acceptLoop(ctx, relayLn, r.handleRelayConn) }()

	r.mu.Lock()
	r.ready = true
	r.publicAddr = publicLn.Addr()
	r.relayAddr = relayLn.Addr()
	r.mu.Unlock()
	obs.Info("relay.ready", obs.Fields{"public": r.opts.PublicAddr, "relay": r.opts.RelayAddr})

	<-ctx.Done()
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()
	_ = publicLn.Close()
	_ = relayLn.Close()
	r.matcher.DestroyAll()
	wg.Wait()
	return nil
}

func (r *Relay) acceptLoop(ctx context.Context, ln net.Listener, handle func(net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				obs.Error("relay.accept.timeout", obs.Fields{"err": err.Error()})
				continue
			}
			return
		}
		go handle(conn)
	}
}

func (r *Relay) handlePublicConn(conn net.Conn) {
	remoteIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	if r.opts.RateLimiter != nil && !r.opts.RateLimiter.AllowConnection(remoteIP) {
		obs.Error("relay.public.rate_limited", obs.Fields{"remote": remoteIP})
		obs.ErrorsTotal.WithLabelValues("rate_limited").Inc()
		_ = conn.Close()
		return
	}

	state, err := handshakeState(conn)
	if err != nil {
		obs.Error("relay.public.handshake_failed", obs.Fields{"err": err.Error(), "remote": conn.RemoteAddr().String()})
		obs.ErrorsTotal.WithLabelValues("handshake").Inc()
		_ = conn.Close()
		return
	}

	id := randomID()
	key := DeriveKey(state, r.opts.KeyFunc)

	if r.opts.RateLimiter != nil && !r.opts.RateLimiter.AllowRequest(key) {
		obs.Error("relay.public.pair_rate_limited", obs.Fields{"key": key})
		obs.ErrorsTotal.WithLabelValues("pair_rate_limited").Inc()
		_ = conn.Close()
		return
	}

	p := tunnel.NewPipe(id, conn, tunnel.RolePublic, nil)
	p.SetIdleTimeout(r.opts.PublicIdleTimeout)
	go r.runAndCleanup(p)

	counterpart, wait := r.matcher.OfferPublic(key, p)
	r.refreshMetrics()
	if counterpart != nil {
		r.pair(p, counterpart)
		return
	}

	// No deadline here: a public connection waits for an agent for as long
	// as it stays alive on its own. PublicIdleTimeout (if configured) is
	// what eventually closes it, via its own RunPipe goroutine's read
	// deadline — Done fires as a consequence, not a cause. A match arriving
	// on wait was made by the agent side's OfferAgent, whose caller pairs
	// the two pipes, so receiving it here only ends this pipe's wait.
	select {
	case <-wait:
	case <-p.Done():
		if !r.matcher.CancelPublic(key, p) {
			<-wait
			return
		}
		r.refreshMetrics()
		obs.TunnelTimeoutTotal.Inc()
		obs.ErrorsTotal.WithLabelValues("timeout").Inc()
	}
}

func (r *Relay) handleRelayConn(conn net.Conn) {
	state, err := handshakeState(conn)
	if err != nil {
		obs.Error("relay.handshake_failed", obs.Fields{"err": err.Error(), "remote": conn.RemoteAddr().String()})
		obs.ErrorsTotal.WithLabelValues("handshake").Inc()
		_ = conn.Close()
		return
	}

	leftover, err := r.auth.Authenticate(conn)
	if err != nil {
		obs.Error("relay.auth.failed", obs.Fields{"err": err.Error(), "remote": conn.RemoteAddr().String()})
		obs.AuthFailuresTotal.Inc()
		obs.ErrorsTotal.WithLabelValues("auth").Inc()
		_ = conn.Close()
		return
	}

	id := randomID()
	key := DeriveKey(state, r.opts.KeyFunc)
	p := tunnel.NewPipe(id, conn, tunnel.RoleRelay, leftover)
	p.Authorized = true
	p.SetIdleTimeout(r.opts.RelayIdleTimeout)
	go r.runAndCleanup(p)

	counterpart, wait := r.matcher.OfferAgent(key, p)
	r.refreshMetrics()
	if counterpart != nil {
		r.pair(counterpart, p)
		return
	}

	// Agent pipes are warm pool members: they must wait for a public
	// counterpart indefinitely by default (RelayIdleTimeout == 0). There is
	// deliberately no separate pairing-wait deadline distinct from the
	// pipe's own idle timeout — an idle warm member and a member that has
	// waited too long for a match are the same observation from the
	// agent's side of the connection. As on the public side, the caller of
	// the OfferPublic that made the match pairs the two pipes.
	select {
	case <-wait:
	case <-p.Done():
		if !r.matcher.CancelAgent(key, p) {
			<-wait
			return
		}
		r.refreshMetrics()
	}
}

// pair joins a public pipe and an agent pipe and records the tunnel as
// established. Both pipes already have their own RunPipe goroutines live
// from acceptance, so pairing only needs to flip their routing.
func (r *Relay) pair(pub, agent *tunnel.Pipe) {
	if err := tunnel.PairPipes(pub, agent); err != nil {
		obs.Error("relay.pair.failed", obs.Fields{"err": err.Error(), "public_id": pub.ID, "agent_id": agent.ID})
		_ = pub.Close()
		_ = agent.Close()
		return
	}
	r.matcher.Activate(pub, agent)
	r.refreshMetrics()
	obs.Info("relay.tunnel.established", obs.Fields{"public_id": pub.ID, "agent_id": agent.ID})
	obs.TunnelEstablishedTotal.Inc()
	if r.opts.Store != nil {
		r.opts.Store.RecordTunnel()
	}
}

// runAndCleanup drives p's reader goroutine and closes its counterpart (if
// any) once it errors, so one side hanging up tears down the whole tunnel.
func (r *Relay) runAndCleanup(p *tunnel.Pipe) {
	start := time.Now()
	err := p.RunPipe()
	_ = p.Close()
	if peer := p.Peer(); peer != nil {
		_ = peer.Close()
	}
	if r.matcher.Deactivate(p) {
		r.refreshMetrics()
	}
	if !errors.Is(err, net.ErrClosed) {
		obs.Debug("relay.pipe.closed", obs.Fields{"id": p.ID, "role": p.Role.String(), "err": errString(err)})
	}
	obs.TunnelDurationSeconds.Observe(time.Since(start).Seconds())
}

func (r *Relay) refreshMetrics() {
	pub, agent := r.matcher.Counts()
	obs.PendingPublicPipes.Set(float64(pub))
	obs.PendingAgentPipes.Set(float64(agent))
	obs.ActiveClients.Set(float64(r.matcher.ActiveCount()))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func randomID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
