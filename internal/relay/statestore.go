package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/natrelay/tunnel/internal/obs"
	"github.com/redis/go-redis/v9"
)

// StateStore aggregates cross-instance stats in Redis for relays deployed
// behind a load balancer. It is purely informational: the pairing queues
// that the Matcher owns stay strictly in-process on whichever instance
// accepted the two halves of a tunnel, since the FIFO/mutual-exclusion
// invariant only makes sense within one Matcher.
type StateStore struct {
	client     *redis.Client
	instanceID string
	keyTTL     time.Duration
}

// NewStateStore connects to addr and pings it once to fail fast on
// misconfiguration.
func NewStateStore(addr, password string, db int) (*StateStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("relay: redis connection failed: %w", err)
	}
	return &StateStore{
		client:     rdb,
		instanceID: fmt.Sprintf("relay-%d", time.Now().UnixNano()),
		keyTTL:     24 * time.Hour,
	}, nil
}

// RecordTunnel increments the cluster-wide established-tunnel counter.
func (s *StateStore) RecordTunnel() {
	ctx := context.Background()
	if err := s.client.Incr(ctx, "tunnelrelay:tunnels_established").Err(); err != nil {
		obs.Error("statestore.record_tunnel", obs.Fields{"err": err.Error()})
	}
}

// Heartbeat refreshes this instance's liveness key, which expires after
// keyTTL. Nothing in the relay calls it on a schedule.
func (s *StateStore) Heartbeat(ctx context.Context) {
	if err := s.client.Set(ctx, "tunnelrelay:instance:"+s.instanceID, time.Now().Format(time.RFC3339), s.keyTTL).Err(); err != nil {
		obs.Error("statestore.heartbeat", obs.Fields{"err": err.Error()})
	}
}

// ClusterTunnelsEstablished returns the cluster-wide established-tunnel
// count, for dashboards/health endpoints.
func (s *StateStore) ClusterTunnelsEstablished(ctx context.Context) (int64, error) {
	return s.client.Get(ctx, "tunnelrelay:tunnels_established").Int64()
}

// Close releases the underlying Redis client.
func (s *StateStore) Close() error {
	return s.client.Close()
}
