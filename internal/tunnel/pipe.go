// Package tunnel implements the socket-pairing primitive shared by the relay
// and the agent: a connection that buffers whatever arrives before it is
// paired with a counterpart, then forwards everything after.
package tunnel

import (
	"errors"
	"net"
	"sync"
	"time"
)

// Role records which leg of a tunnel a Pipe represents.
type Role int

const (
	RolePublic Role = iota
	RoleRelay
	RoleTarget
)

func (r Role) String() string {
	switch r {
	case RolePublic:
		return "public"
	case RoleRelay:
		return "relay"
	case RoleTarget:
		return "target"
	default:
		return "unknown"
	}
}

// ErrAlreadyPaired is returned by Pair when the pipe already has a counterpart.
var ErrAlreadyPaired = errors.New("tunnel: pipe already paired")

const readBufSize = 32 * 1024

// Pipe wraps a net.Conn with exactly one reader goroutine for its entire
// life. Before pairing, every read is appended to an ordered pending buffer.
// After pairing, every read is written straight to the counterpart. The
// switch from buffering to forwarding happens atomically with respect to the
// pipe's own reads, so bytes read before Pair is called are always delivered
// to the counterpart before any byte read after.
type Pipe struct {
	ID   string
	Role Role
	conn net.Conn

	mu      sync.Mutex
	writeMu sync.Mutex

	paired  *Pipe
	pending [][]byte

	closed bool

	firstByteFired bool
	onFirstByte    func()

	idleTimeout time.Duration
	closedCh    chan struct{}

	// Authorized is set by the relay's authenticator once a relay-side pipe
	// has presented the shared secret. Unused by public/target pipes.
	Authorized bool
}

// NewPipe wraps conn in a Pipe. seed, if non-nil, is treated as bytes already
// read from conn (e.g. the remainder of an authentication chunk) and is
// placed at the front of the pending buffer.
func NewPipe(id string, conn net.Conn, role Role, seed []byte) *Pipe {
	p := &Pipe{ID: id, conn: conn, Role: role, closedCh: make(chan struct{})}
	if len(seed) > 0 {
		p.pending = append(p.pending, seed)
	}
	return p
}

// SetIdleTimeout bounds how long RunPipe may go without a successful read
// before it returns with a timeout error; closing the pipe is left to
// RunPipe's caller. It applies for the pipe's whole life —
// while buffering pending bytes or while forwarding to a paired counterpart
// — and is renewed on every read. Zero disables it. Must be set before
// RunPipe starts reading.
func (p *Pipe) SetIdleTimeout(d time.Duration) {
	p.mu.Lock()
	p.idleTimeout = d
	p.mu.Unlock()
}

// Done returns a channel that is closed by the first Close call, whether
// that call comes from the caller's cleanup after RunPipe returned (idle
// timeout, read error) or from a counterpart tearing the tunnel down.
// RunPipe itself never closes the pipe.
func (p *Pipe) Done() <-chan struct{} {
	return p.closedCh
}

// Conn returns the underlying connection.
func (p *Pipe) Conn() net.Conn { return p.conn }

// Peer returns the pipe's counterpart, or nil if not yet paired.
func (p *Pipe) Peer() *Pipe {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paired
}

// SetOnFirstByte registers a callback fired exactly once, the first time a
// byte is read off the underlying connection (whether or not the pipe is
// paired yet). It must be set before RunPipe starts reading.
func (p *Pipe) SetOnFirstByte(fn func()) {
	p.mu.Lock()
	p.onFirstByte = fn
	p.mu.Unlock()
}

// PendingLen reports the number of bytes currently buffered and undelivered.
func (p *Pipe) PendingLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.pending {
		n += len(c)
	}
	return n
}

// Pair links p to other: once paired, bytes read from p.conn are written
// directly to other.conn (and vice versa, if other.Pair(p) is also called).
// Any bytes already buffered on p are flushed to other before Pair returns,
// and before RunPipe can deliver anything read after the pairing decision.
func (p *Pipe) Pair(other *Pipe) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	if p.paired != nil {
		p.mu.Unlock()
		return ErrAlreadyPaired
	}
	p.paired = other
	backlog := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, chunk := range backlog {
		if _, err := other.conn.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

// PairPipes pairs a and b with each other, in both directions.
func PairPipes(a, b *Pipe) error {
	if err := a.Pair(b); err != nil {
		return err
	}
	return b.Pair(a)
}

// RunPipe reads from the underlying connection until it errors (including
// io.EOF) and delivers every chunk read, in order, either to the pending
// buffer or to the paired counterpart. The returned error is whatever ended
// the read loop.
func (p *Pipe) RunPipe() error {
	buf := make([]byte, readBufSize)
	for {
		p.mu.Lock()
		idleTimeout := p.idleTimeout
		p.mu.Unlock()
		if idleTimeout > 0 {
			_ = p.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		}

		n, err := p.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			p.mu.Lock()
			fireFirst := !p.firstByteFired
			p.firstByteFired = true
			cb := p.onFirstByte
			p.mu.Unlock()
			if fireFirst && cb != nil {
				cb()
			}

			if derr := p.deliver(chunk); derr != nil {
				return derr
			}
		}
		if err != nil {
			return err
		}
	}
}

func (p *Pipe) deliver(chunk []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	peer := p.paired
	if peer == nil {
		p.pending = append(p.pending, chunk)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	_, err := peer.conn.Write(chunk)
	return err
}

// Close closes the underlying connection. Safe to call more than once.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closedCh)
	p.mu.Unlock()
	return p.conn.Close()
}
