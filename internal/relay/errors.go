package relay

import "errors"

var (
	// ErrBindFailure is a fatal startup error: a listener could not bind its address.
	ErrBindFailure = errors.New("relay: listener bind failed")
	// ErrTLSMaterial is a fatal startup error: key/cert/pfx/ca material could not be loaded.
	ErrTLSMaterial = errors.New("relay: tls material load failed")
	// ErrHandshakeFailure is a per-connection error: the TLS handshake did not complete.
	ErrHandshakeFailure = errors.New("relay: tls handshake failed")
	// ErrAuthMismatch is a per-connection error: the relay-side secret did not match.
	ErrAuthMismatch = errors.New("relay: auth secret mismatch")
	// ErrAuthTimeout is a per-connection error: the full secret had not arrived by the deadline.
	ErrAuthTimeout = errors.New("relay: auth timeout waiting for secret")
)
