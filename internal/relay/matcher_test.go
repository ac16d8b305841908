package relay

import (
	"net"
	"testing"
	"time"

	"github.com/natrelay/tunnel/internal/tunnel"
)

func newTestPipe(role tunnel.Role) *tunnel.Pipe {
	_, s := net.Pipe()
	return tunnel.NewPipe("t", s, role, nil)
}

func TestMatcherPublicThenAgent(t *testing.T) {
	m := NewMatcher()
	pub := newTestPipe(tunnel.RolePublic)
	counterpart, wait := m.OfferPublic("k1", pub)
	if counterpart != nil {
		t.Fatalf("expected no immediate match")
	}
	ag := newTestPipe(tunnel.RoleRelay)
	matchedPub, wait2 := m.OfferAgent("k1", ag)
	if wait2 != nil || matchedPub != pub {
		t.Fatalf("expected agent to match waiting public pipe")
	}
	select {
	case got := <-wait:
		if got != ag {
			t.Fatalf("expected public side to be notified of agent pipe")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for match notification")
	}
}

func TestMatcherAgentThenPublic(t *testing.T) {
	m := NewMatcher()
	ag := newTestPipe(tunnel.RoleRelay)
	counterpart, _ := m.OfferAgent("k1", ag)
	if counterpart != nil {
		t.Fatalf("expected no immediate match")
	}
	pub := newTestPipe(tunnel.RolePublic)
	matchedAgent, wait := m.OfferPublic("k1", pub)
	if wait != nil || matchedAgent != ag {
		t.Fatalf("expected public to match waiting agent pipe")
	}
}

func TestMatcherPartitionsByKey(t *testing.T) {
	m := NewMatcher()
	agA := newTestPipe(tunnel.RoleRelay)
	m.OfferAgent("keyA", agA)
	pubB := newTestPipe(tunnel.RolePublic)
	if counterpart, wait := m.OfferPublic("keyB", pubB); counterpart != nil || wait == nil {
		t.Fatalf("pipes in different partitions must not match")
	}
}

func TestMatcherFIFOOrder(t *testing.T) {
	m := NewMatcher()
	pub1 := newTestPipe(tunnel.RolePublic)
	pub2 := newTestPipe(tunnel.RolePublic)
	m.OfferPublic("k", pub1)
	m.OfferPublic("k", pub2)

	ag := newTestPipe(tunnel.RoleRelay)
	matched, wait := m.OfferAgent("k", ag)
	if wait != nil || matched != pub1 {
		t.Fatalf("expected FIFO: first-enqueued public pipe matches first")
	}
}

func TestMatcherCancelRemovesFromQueue(t *testing.T) {
	m := NewMatcher()
	pub := newTestPipe(tunnel.RolePublic)
	m.OfferPublic("k", pub)
	if !m.CancelPublic("k", pub) {
		t.Fatalf("expected cancel to find pipe")
	}
	ag := newTestPipe(tunnel.RoleRelay)
	if counterpart, wait := m.OfferAgent("k", ag); counterpart != nil || wait == nil {
		t.Fatalf("cancelled pipe must not still be matchable")
	}
}

func TestMatcherCancelRacesMatch(t *testing.T) {
	m := NewMatcher()
	pub := newTestPipe(tunnel.RolePublic)
	_, wait := m.OfferPublic("k", pub)
	ag := newTestPipe(tunnel.RoleRelay)
	m.OfferAgent("k", ag)
	// The entry is already gone by the time Cancel runs, simulating a
	// timeout that lost the race to a concurrent match.
	if m.CancelPublic("k", pub) {
		t.Fatalf("expected cancel to report the entry already matched")
	}
	select {
	case got := <-wait:
		if got != ag {
			t.Fatalf("expected the race-losing cancel path to still observe the match")
		}
	default:
		t.Fatalf("expected match notification to be immediately available")
	}
}

func TestMatcherActivateDeactivate(t *testing.T) {
	m := NewMatcher()
	pub := newTestPipe(tunnel.RolePublic)
	ag := newTestPipe(tunnel.RoleRelay)

	if got := m.ActiveCount(); got != 0 {
		t.Fatalf("expected zero active tunnels before Activate, got %d", got)
	}
	m.Activate(pub, ag)
	if got := m.ActiveCount(); got != 1 {
		t.Fatalf("expected one active tunnel after Activate, got %d", got)
	}

	if !m.Deactivate(pub) {
		t.Fatalf("expected first Deactivate call to find and remove the tunnel")
	}
	if got := m.ActiveCount(); got != 0 {
		t.Fatalf("expected zero active tunnels after Deactivate, got %d", got)
	}
	if m.Deactivate(ag) {
		t.Fatalf("expected second Deactivate call (other side of the same pair) to report false")
	}
}

func TestMatcherDeactivateUnknownPipe(t *testing.T) {
	m := NewMatcher()
	p := newTestPipe(tunnel.RolePublic)
	if m.Deactivate(p) {
		t.Fatalf("expected Deactivate on a never-activated pipe to report false")
	}
}

func TestMatcherDestroyAllClosesPendingAndActive(t *testing.T) {
	m := NewMatcher()

	pendingPub := newTestPipe(tunnel.RolePublic)
	m.OfferPublic("k1", pendingPub)

	pendingAgent := newTestPipe(tunnel.RoleRelay)
	m.OfferAgent("k2", pendingAgent)

	activePub := newTestPipe(tunnel.RolePublic)
	activeAgent := newTestPipe(tunnel.RoleRelay)
	m.Activate(activePub, activeAgent)

	m.DestroyAll()

	for _, p := range []*tunnel.Pipe{pendingPub, pendingAgent, activePub, activeAgent} {
		select {
		case <-p.Done():
		default:
			t.Fatalf("expected pipe to be closed by DestroyAll")
		}
		if err := p.Close(); err != nil {
			t.Fatalf("expected pipe already closed by DestroyAll, Close returned: %v", err)
		}
	}
}
