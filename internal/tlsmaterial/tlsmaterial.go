// Package tlsmaterial loads and, failing that, fabricates the TLS key
// material the relay and agent listeners and dialers need: plain key+cert
// pairs, PFX/PKCS12 bundles, CA pools for client-cert verification, and a
// short-lived self-signed certificate when no material is configured at all.
package tlsmaterial

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"os"
	"time"

	"golang.org/x/crypto/pkcs12"
)

// SelfSignedValidity is how long an autogenerated certificate is valid for.
// Short-lived by design: the binaries regenerate one on every restart rather
// than persisting it.
const SelfSignedValidity = 7 * 24 * time.Hour

// LoadKeyPair loads a PEM-encoded certificate and private key from disk.
func LoadKeyPair(certFile, keyFile string) (tls.Certificate, error) {
	return tls.LoadX509KeyPair(certFile, keyFile)
}

// LoadPFX loads a PKCS#12 archive (as produced by openssl pkcs12 -export)
// protected by passphrase, returning the first certificate/key pair found.
func LoadPFX(path, passphrase string) (tls.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, err
	}
	key, cert, err := pkcs12.Decode(raw, passphrase)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}

// LoadCAPool reads a PEM-encoded CA certificate (or bundle) from path and
// returns a pool suitable for tls.Config.ClientCAs / RootCAs.
func LoadCAPool(path string) (*x509.CertPool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(raw) {
		return nil, errors.New("tlsmaterial: no certificates found in CA file")
	}
	return pool, nil
}

// GenerateSelfSigned creates a short-lived ECDSA P-256 certificate/key pair
// for cn, valid for SelfSignedValidity. Used when a listener is configured
// for TLS but no key material was supplied: the relay and agent still need
// something to present, and regenerating it per-process is simpler and safer
// than asking the operator to provision one for a throwaway deployment.
func GenerateSelfSigned(cn string) (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              now.Add(SelfSignedValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
		Leaf:        leaf,
	}, nil
}

// Material is the resolved set of options needed to build a *tls.Config for
// one listener or dialer leg.
type Material struct {
	Enabled     bool
	PfxPath     string
	Passphrase  string
	KeyPath     string
	CertPath    string
	CertCN      string // used only when autogenerating
	CAPath      string
	RequestCert bool // require a peer certificate; with CAPath set, also verify it against that pool
	SkipVerify  bool // client-side only: skip verifying the remote's certificate
	ServerName  string
}

// Resolve turns a Material description into a *tls.Config, loading real key
// material when configured and falling back to a self-signed certificate
// otherwise. It returns (nil, nil) when Enabled is false.
func (m Material) Resolve() (*tls.Config, error) {
	if !m.Enabled {
		return nil, nil
	}
	var cert tls.Certificate
	var err error
	switch {
	case m.PfxPath != "":
		cert, err = LoadPFX(m.PfxPath, m.Passphrase)
	case m.KeyPath != "" && m.CertPath != "":
		cert, err = LoadKeyPair(m.CertPath, m.KeyPath)
	default:
		cn := m.CertCN
		if cn == "" {
			cn = "relay.local"
		}
		cert, err = GenerateSelfSigned(cn)
	}
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	if m.CAPath != "" {
		pool, err := LoadCAPool(m.CAPath)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.RootCAs = pool
		if m.RequestCert {
			cfg.ClientAuth = tls.RequireAndVerifyClientCert
		}
	} else if m.RequestCert {
		// No CA pool to verify against, but the caller still asked for
		// client certs to be mandatory: require one without verifying it,
		// rather than silently admitting connections with none at all.
		cfg.ClientAuth = tls.RequireAnyClientCert
	}
	cfg.InsecureSkipVerify = m.SkipVerify
	cfg.ServerName = m.ServerName
	return cfg, nil
}
