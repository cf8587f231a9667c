// Package replay records which verified callbacks have already been applied,
// keyed by providerRef and outcome. The state machine alone guarantees
// idempotency; the recorder exists so duplicate deliveries are visible in
// logs and monitoring, including across instances when Redis is configured.
package replay

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Recorder marks a callback delivery and reports whether that exact delivery
// was seen before.
type Recorder interface {
	// MarkSeen records (providerRef, outcome) and returns true when it was
	// already recorded.
	MarkSeen(ctx context.Context, providerRef, outcome string) (bool, error)
}

// Memory is a process-local recorder for tests and single-instance runs.
type Memory struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

func (m *Memory) MarkSeen(_ context.Context, providerRef, outcome string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := providerRef + ":" + outcome
	if _, ok := m.seen[key]; ok {
		return true, nil
	}
	m.seen[key] = struct{}{}
	return false, nil
}

// Redis shares delivery records across instances with a TTL; duplicates
// older than the window are uninteresting.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(addr string, ttl time.Duration) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func (r *Redis) MarkSeen(ctx context.Context, providerRef, outcome string) (bool, error) {
	key := "callback:" + providerRef + ":" + outcome
	set, err := r.client.SetNX(ctx, key, "1", r.ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}
