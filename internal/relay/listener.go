package relay

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/natrelay/tunnel/internal/tlsmaterial"
)

// ListenerConfig describes one of the relay's two listening endpoints
// (public or agent-facing). Per-pipe idle timeouts are not part of this
// config: they apply to the SocketPipe built from each accepted connection,
// not to the listener itself, and are set via Pipe.SetIdleTimeout once the
// connection is handed off (see Relay.Options.PublicIdleTimeout /
// RelayIdleTimeout).
type ListenerConfig struct {
	Addr      string
	TLS       tlsmaterial.Material
	KeepAlive time.Duration
}

// Listen binds addr, wrapping it with TCP keep-alive and, if configured,
// TLS. Bind failures are reported as ErrBindFailure and TLS material
// failures as ErrTLSMaterial so callers can treat both as fatal startup
// errors without string-matching.
func Listen(cfg ListenerConfig) (net.Listener, error) {
	tlsCfg, err := cfg.TLS.Resolve()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTLSMaterial, err)
	}
	raw, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBindFailure, err)
	}
	tcpLn, ok := raw.(*net.TCPListener)
	if !ok {
		return nil, fmt.Errorf("%w: not a tcp listener", ErrBindFailure)
	}
	ln := net.Listener(&keepAliveListener{tcpLn, cfg.KeepAlive})
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	return ln, nil
}

// keepAliveListener mirrors net/http's tcpKeepAliveListener: every accepted
// connection gets TCP keep-alive enabled so idle tunnel-pool members don't
// get silently dropped by intermediate NAT/firewall state tables.
type keepAliveListener struct {
	*net.TCPListener
	period time.Duration
}

func (l *keepAliveListener) Accept() (net.Conn, error) {
	c, err := l.AcceptTCP()
	if err != nil {
		return nil, err
	}
	if l.period > 0 {
		_ = c.SetKeepAlive(true)
		_ = c.SetKeepAlivePeriod(l.period)
	}
	return c, nil
}

// handshakeState completes the TLS handshake on conn, if it is a TLS
// connection, and returns its resulting connection state. tls.Listener.Accept
// does not itself perform the handshake — it is otherwise deferred to the
// first Read/Write — so callers that need PeerCertificates before doing
// either (tunnel-key derivation) must force it here. Returns (nil, nil) for
// a plain, non-TLS connection.
func handshakeState(conn net.Conn) (*tls.ConnectionState, error) {
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return nil, nil
	}
	if err := tlsConn.Handshake(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailure, err)
	}
	state := tlsConn.ConnectionState()
	return &state, nil
}
