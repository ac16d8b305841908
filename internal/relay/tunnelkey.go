package relay

import (
	"crypto/tls"
)

// KeyFunc derives an opaque tunnel key from a verified TLS peer certificate
// subject. It partitions the Matcher's FIFO queues: public and agent pipes
// only match each other when they derive the same key.
type KeyFunc func(commonName string) string

// IdentityKeyFunc is the default KeyFunc: the tunnel key is the certificate's
// common name, unchanged.
func IdentityKeyFunc(commonName string) string { return commonName }

// DeriveKey extracts the tunnel key for a connection's TLS state. When no
// client certificate was presented (plain TCP, or a listener that does not
// request one), it returns NullKey so every connection shares one partition.
func DeriveKey(state *tls.ConnectionState, fn KeyFunc) string {
	if state == nil || len(state.PeerCertificates) == 0 {
		return NullKey
	}
	if fn == nil {
		fn = IdentityKeyFunc
	}
	return fn(state.PeerCertificates[0].Subject.CommonName)
}
