package relay

import (
	"bytes"
	"net"
	"time"
)

// Authenticator gates relay-side connections with a shared-secret byte
// prefix. A secret arriving split across multiple reads is accumulated and
// still accepted; only a prefix that has actually diverged from the secret
// once enough bytes are in hand is rejected as a mismatch.
type Authenticator struct {
	Secret  []byte
	Timeout time.Duration
}

// Authenticate reads from conn, accumulating bytes until either enough have
// arrived to compare against the configured secret or the deadline fires,
// and verifies the accumulated prefix matches. It returns the bytes read
// past the secret, which the caller should seed into the pipe's pending
// buffer so they are not lost. An empty Secret disables authentication
// entirely.
func (a *Authenticator) Authenticate(conn net.Conn) ([]byte, error) {
	if len(a.Secret) == 0 {
		return nil, nil
	}
	if a.Timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(a.Timeout))
		defer conn.SetReadDeadline(time.Time{})
	}

	var buf []byte
	chunk := make([]byte, 4096)
	for len(buf) < len(a.Secret) {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, ErrAuthTimeout
			}
			return nil, err
		}
	}

	if !bytes.Equal(buf[:len(a.Secret)], a.Secret) {
		return nil, ErrAuthMismatch
	}
	rest := buf[len(a.Secret):]
	if len(rest) == 0 {
		return nil, nil
	}
	return rest, nil
}
