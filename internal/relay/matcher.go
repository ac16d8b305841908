package relay

import (
	"sync"

	"github.com/natrelay/tunnel/internal/tunnel"
)

// NullKey is the partition of the matcher's FIFO queues used by connections
// that carry no peer certificate (plain TCP, or a listener that does not
// request one). See DeriveKey.
const NullKey = ""

type waitEntry struct {
	pipe    *tunnel.Pipe
	matched chan *tunnel.Pipe // buffered 1; receives the counterpart once paired
}

// activeTunnel records one paired public/agent pipe pair while it pumps.
// Both pipes index to the same record so either side's teardown can find
// and remove it exactly once.
type activeTunnel struct {
	pub, agent *tunnel.Pipe
}

// Matcher holds, per tunnel key, a FIFO of public-side pipes waiting for an
// agent and a FIFO of agent-side pipes waiting for a public client, plus the
// set of pipes that have since been paired and are pumping. A single mutex
// guards all of it: the lookup-dequeue-enqueue sequence must be atomic
// across the listener pair, not just within one listener, otherwise two
// offers arriving at the same instant on opposite sides could each enqueue
// instead of one of them matching the other.
type Matcher struct {
	mu            sync.Mutex
	pendingPublic map[string][]*waitEntry
	pendingAgent  map[string][]*waitEntry
	active        map[*tunnel.Pipe]*activeTunnel
}

// NewMatcher creates an empty Matcher.
func NewMatcher() *Matcher {
	return &Matcher{
		pendingPublic: make(map[string][]*waitEntry),
		pendingAgent:  make(map[string][]*waitEntry),
		active:        make(map[*tunnel.Pipe]*activeTunnel),
	}
}

// OfferPublic registers a public-side pipe wanting an agent for key. If an
// agent pipe is already waiting for that key, it is dequeued and returned
// immediately as counterpart (the caller pairs them); otherwise p is
// enqueued and the caller must wait on the returned channel (or call
// CancelPublic on timeout/shutdown) for a counterpart to arrive later.
func (m *Matcher) OfferPublic(key string, p *tunnel.Pipe) (counterpart *tunnel.Pipe, wait <-chan *tunnel.Pipe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.pendingAgent[key]
	if len(q) > 0 {
		entry := q[0]
		m.pendingAgent[key] = q[1:]
		entry.matched <- p
		return entry.pipe, nil
	}
	ch := make(chan *tunnel.Pipe, 1)
	m.pendingPublic[key] = append(m.pendingPublic[key], &waitEntry{pipe: p, matched: ch})
	return nil, ch
}

// OfferAgent registers an agent-side pipe available for key. Symmetric to
// OfferPublic.
func (m *Matcher) OfferAgent(key string, p *tunnel.Pipe) (counterpart *tunnel.Pipe, wait <-chan *tunnel.Pipe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.pendingPublic[key]
	if len(q) > 0 {
		entry := q[0]
		m.pendingPublic[key] = q[1:]
		entry.matched <- p
		return entry.pipe, nil
	}
	ch := make(chan *tunnel.Pipe, 1)
	m.pendingAgent[key] = append(m.pendingAgent[key], &waitEntry{pipe: p, matched: ch})
	return nil, ch
}

// CancelPublic removes p from the public-pending queue for key, e.g. after a
// wait timeout. It returns false if p was not found, which means a match
// raced the cancel and already sent on its wait channel — the caller must
// then receive from that channel instead of treating p as unmatched.
func (m *Matcher) CancelPublic(key string, p *tunnel.Pipe) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return removeFromQueue(m.pendingPublic, key, p)
}

// CancelAgent removes p from the agent-pending queue for key. See CancelPublic.
func (m *Matcher) CancelAgent(key string, p *tunnel.Pipe) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return removeFromQueue(m.pendingAgent, key, p)
}

func removeFromQueue(queues map[string][]*waitEntry, key string, p *tunnel.Pipe) bool {
	q := queues[key]
	for i, entry := range q {
		if entry.pipe == p {
			queues[key] = append(q[:i], q[i+1:]...)
			return true
		}
	}
	return false
}

// Counts reports the total number of pipes currently waiting on each side,
// across all tunnel keys, for metrics.
func (m *Matcher) Counts() (pendingPublic, pendingAgent int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.pendingPublic {
		pendingPublic += len(q)
	}
	for _, q := range m.pendingAgent {
		pendingAgent += len(q)
	}
	return
}

// Activate records that pub and agent have been paired and are now pumping.
// Called once, right after a successful Pair.
func (m *Matcher) Activate(pub, agent *tunnel.Pipe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &activeTunnel{pub: pub, agent: agent}
	m.active[pub] = t
	m.active[agent] = t
}

// Deactivate removes p's tunnel from the active set. Either pipe of a pair
// may call it as its RunPipe exits; it reports true for whichever of the
// two calls arrives first (the one that actually found and removed the
// record) and false for the other, so callers know whether to count this as
// the tunnel's teardown.
func (m *Matcher) Deactivate(p *tunnel.Pipe) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[p]
	if !ok {
		return false
	}
	delete(m.active, t.pub)
	delete(m.active, t.agent)
	return true
}

// ActiveCount reports the number of tunnels currently paired and pumping.
func (m *Matcher) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[*activeTunnel]struct{}, len(m.active))
	for _, t := range m.active {
		seen[t] = struct{}{}
	}
	return len(seen)
}

// DestroyAll closes every pipe currently pending or active. Used on operator
// shutdown: the matcher's own queues and active set are the only record of
// which pipes still exist once the listeners themselves have stopped
// accepting.
func (m *Matcher) DestroyAll() {
	m.mu.Lock()
	var pipes []*tunnel.Pipe
	for _, q := range m.pendingPublic {
		for _, e := range q {
			pipes = append(pipes, e.pipe)
		}
	}
	for _, q := range m.pendingAgent {
		for _, e := range q {
			pipes = append(pipes, e.pipe)
		}
	}
	seen := make(map[*activeTunnel]struct{}, len(m.active))
	for _, t := range m.active {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		pipes = append(pipes, t.pub, t.agent)
	}
	m.mu.Unlock()

	for _, p := range pipes {
		_ = p.Close()
	}
}
