package auth

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"simjur/internal/config"
	"simjur/internal/simjur"
)

// Revoker remembers logged-out token IDs until the tokens expire.
type Revoker interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryRevoker keeps revoked IDs in process memory.
type MemoryRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	clock   simjur.Clock
}

func NewMemoryRevoker(clock simjur.Clock) *MemoryRevoker {
	return &MemoryRevoker{revoked: make(map[string]time.Time), clock: clock}
}

func (m *MemoryRevoker) Revoke(_ context.Context, jti string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for id, exp := range m.revoked {
		if !exp.After(now) {
			delete(m.revoked, id)
		}
	}
	if until.After(now) {
		m.revoked[jti] = until
	}
	return nil
}

func (m *MemoryRevoker) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.revoked[jti]
	return ok && exp.After(m.clock.Now()), nil
}

// RedisRevoker stores revoked IDs as expiring keys so every API instance
// sees the same logouts.
type RedisRevoker struct {
	client redis.Cmdable
	prefix string
	clock  simjur.Clock
}

func NewRedisRevoker(client redis.Cmdable, clock simjur.Clock) *RedisRevoker {
	return &RedisRevoker{client: client, prefix: "simjur:revoked:", clock: clock}
}

func (r *RedisRevoker) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := until.Sub(r.clock.Now())
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.prefix+jti, 1, ttl).Err(); err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("checking revocation: %w", err)
	}
	return n > 0, nil
}

// Close releases the Redis connection pool when the revoker owns one.
func (r *RedisRevoker) Close() error {
	if c, ok := r.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var (
	_ Revoker = (*MemoryRevoker)(nil)
	_ Revoker = (*RedisRevoker)(nil)
)

// NewRevokerFromConfig selects the revoker named by cfg.Revoker.
func NewRevokerFromConfig(cfg config.AuthConfig, redisCfg config.RedisConfig, clock simjur.Clock) (Revoker, error) {
	switch cfg.Revoker {
	case "", "memory":
		return NewMemoryRevoker(clock), nil
	case "redis":
		if redisCfg.Addr == "" {
			return nil, fmt.Errorf("redis revoker requires redis.addr")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
		return NewRedisRevoker(client, clock), nil
	default:
		return nil, fmt.Errorf("unknown revoker type: %s", cfg.Revoker)
	}
}
