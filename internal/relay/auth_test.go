package relay

import (
	"net"
	"testing"
	"time"
)

func TestAuthenticatorAcceptsMatchingPrefix(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	a := &Authenticator{Secret: []byte("sesame"), Timeout: time.Second}
	go c1.Write([]byte("sesameHELLO"))
	rest, err := a.Authenticate(c2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(rest) != "HELLO" {
		t.Fatalf("expected leftover HELLO, got %q", rest)
	}
}

func TestAuthenticatorRejectsMismatch(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	a := &Authenticator{Secret: []byte("sesame"), Timeout: time.Second}
	go c1.Write([]byte("wrongsecret"))
	_, err := a.Authenticate(c2)
	if err != ErrAuthMismatch {
		t.Fatalf("expected ErrAuthMismatch, got %v", err)
	}
}

func TestAuthenticatorAcceptsSplitSecret(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	a := &Authenticator{Secret: []byte("sesame"), Timeout: time.Second}
	go func() {
		c1.Write([]byte("sesa"))
		time.Sleep(10 * time.Millisecond)
		c1.Write([]byte("meHELLO"))
	}()
	// A secret split across two reads must still succeed: a short first
	// chunk means more data is coming, not that the secret is wrong.
	rest, err := a.Authenticate(c2)
	if err != nil {
		t.Fatalf("unexpected error for split secret: %v", err)
	}
	if string(rest) != "HELLO" {
		t.Fatalf("expected leftover HELLO, got %q", rest)
	}
}

func TestAuthenticatorRejectsSplitSecretOnceDiverged(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	a := &Authenticator{Secret: []byte("sesame"), Timeout: time.Second}
	go func() {
		c1.Write([]byte("sesa"))
		time.Sleep(10 * time.Millisecond)
		c1.Write([]byte("XX"))
	}()
	_, err := a.Authenticate(c2)
	if err != ErrAuthMismatch {
		t.Fatalf("expected ErrAuthMismatch once the accumulated prefix diverges, got %v", err)
	}
}

func TestAuthenticatorTimesOutWaitingForRestOfSecret(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	a := &Authenticator{Secret: []byte("sesame"), Timeout: 20 * time.Millisecond}
	go c1.Write([]byte("sesa"))
	_, err := a.Authenticate(c2)
	if err != ErrAuthTimeout {
		t.Fatalf("expected ErrAuthTimeout waiting for the rest of a short first chunk, got %v", err)
	}
}

func TestAuthenticatorDisabledWhenSecretEmpty(t *testing.T) {
	a := &Authenticator{}
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	rest, err := a.Authenticate(c2)
	if err != nil || rest != nil {
		t.Fatalf("expected no-op when secret is empty, got rest=%v err=%v", rest, err)
	}
}
