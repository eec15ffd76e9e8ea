package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Denylist records revoked refresh token identifiers. Entries carry a TTL
// equal to the token's remaining life, so an entry never outlives the token
// it revokes and the store needs no explicit cleanup.
type Denylist interface {
	// SetIfAbsent marks jti revoked for ttl. Re-marking an existing entry is
	// a no-op, which is what makes revocation idempotent under concurrent
	// redemption.
	SetIfAbsent(ctx context.Context, jti string, ttl time.Duration) error

	// Exists reports whether jti is currently revoked.
	Exists(ctx context.Context, jti string) (bool, error)
}

// RedisDenylist is the production denylist backed by expiring Redis keys.
type RedisDenylist struct {
	client *redis.Client
	prefix string
}

// NewRedisDenylist verifies connectivity and returns a Redis-backed denylist.
func NewRedisDenylist(client *redis.Client, prefix string) (*RedisDenylist, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisDenylist{client: client, prefix: prefix}, nil
}

func (d *RedisDenylist) key(jti string) string {
	return d.prefix + ":" + jti
}

func (d *RedisDenylist) SetIfAbsent(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return fmt.Errorf("jti cannot be empty")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	return d.client.SetNX(ctx, d.key(jti), "1", ttl).Err()
}

func (d *RedisDenylist) Exists(ctx context.Context, jti string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	return n > 0, nil
}

type denyEntry struct {
	expiresAt time.Time
}

// MemoryDenylist is an in-process denylist for tests and single-instance
// deployments without Redis. Expired entries are swept lazily on access.
type MemoryDenylist struct {
	mu      sync.RWMutex
	entries map[string]denyEntry
}

// NewMemoryDenylist constructs an empty in-memory denylist.
func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{entries: make(map[string]denyEntry)}
}

func (d *MemoryDenylist) SetIfAbsent(_ context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return fmt.Errorf("jti cannot be empty")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[jti]; ok && time.Now().Before(e.expiresAt) {
		return nil
	}
	d.entries[jti] = denyEntry{expiresAt: time.Now().Add(ttl)}
	return nil
}

func (d *MemoryDenylist) Exists(_ context.Context, jti string) (bool, error) {
	d.mu.RLock()
	e, ok := d.entries[jti]
	d.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if time.Now().After(e.expiresAt) {
		d.mu.Lock()
		delete(d.entries, jti)
		d.mu.Unlock()
		return false, nil
	}
	return true, nil
}
