package tlsmaterial

import (
	"crypto/tls"
	"encoding/pem"
	"os"
	"testing"
	"time"
)

func writeSelfSignedCA(t *testing.T, path string) {
	t.Helper()
	cert, err := GenerateSelfSigned("test-ca")
	if err != nil {
		t.Fatalf("generate ca: %v", err)
	}
	block := &pem.Block{Type: "CERTIFICATE", Bytes: cert.Leaf.Raw}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write ca: %v", err)
	}
}

func TestGenerateSelfSignedIsValidNow(t *testing.T) {
	cert, err := GenerateSelfSigned("agent.local")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if cert.Leaf == nil {
		t.Fatalf("expected parsed leaf certificate")
	}
	now := time.Now()
	if now.Before(cert.Leaf.NotBefore) || now.After(cert.Leaf.NotAfter) {
		t.Fatalf("generated certificate not valid now: %v - %v", cert.Leaf.NotBefore, cert.Leaf.NotAfter)
	}
	if cert.Leaf.Subject.CommonName != "agent.local" {
		t.Fatalf("expected CN agent.local, got %q", cert.Leaf.Subject.CommonName)
	}
}

func TestMaterialResolveDisabled(t *testing.T) {
	m := Material{Enabled: false}
	cfg, err := m.Resolve()
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config with no error when disabled")
	}
}

func TestMaterialResolveSelfSignedFallback(t *testing.T) {
	m := Material{Enabled: true, CertCN: "fallback.local"}
	cfg, err := m.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected one certificate")
	}
}

func TestMaterialResolveRequestCertWithoutCARequiresClientCert(t *testing.T) {
	m := Material{Enabled: true, CertCN: "fallback.local", RequestCert: true}
	cfg, err := m.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.ClientAuth != tls.RequireAnyClientCert {
		t.Fatalf("expected RequireAnyClientCert, got %v", cfg.ClientAuth)
	}
}

func TestMaterialResolveRequestCertWithCARequiresAndVerifies(t *testing.T) {
	ca := t.TempDir() + "/ca.pem"
	writeSelfSignedCA(t, ca)
	m := Material{Enabled: true, CertCN: "fallback.local", RequestCert: true, CAPath: ca}
	cfg, err := m.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Fatalf("expected RequireAndVerifyClientCert, got %v", cfg.ClientAuth)
	}
}

func TestMaterialResolveCAWithoutRequestCertDoesNotRequireClientCert(t *testing.T) {
	ca := t.TempDir() + "/ca.pem"
	writeSelfSignedCA(t, ca)
	m := Material{Enabled: true, CertCN: "fallback.local", CAPath: ca}
	cfg, err := m.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.ClientAuth != tls.NoClientCert {
		t.Fatalf("expected NoClientCert when RequestCert is unset, got %v", cfg.ClientAuth)
	}
}
