package integrity

import (
	"context"
	"time"

	"claw-companion/backend/pkg/cache"
	"claw-companion/backend/pkg/logger"
	"claw-companion/backend/shared/redis"
)

// Gate decides whether a finding with the given fingerprint may be reported
// now. A true result starts the cooldown for that fingerprint.
type Gate interface {
	Allow(ctx context.Context, fingerprint string) bool
}

// MemoryGate keeps cooldowns in process memory
type MemoryGate struct {
	cooldown time.Duration
	seen     *cache.Cache
}

// NewMemoryGate creates a gate; now may be nil
func NewMemoryGate(cooldown time.Duration, now func() time.Time) *MemoryGate {
	return &MemoryGate{
		cooldown: cooldown,
		seen: cache.New(cache.Options{
			DefaultExpiration: cooldown,
			CleanupInterval:   cooldown,
			MaxItems:          10000,
			Now:               now,
		}),
	}
}

func (g *MemoryGate) Allow(_ context.Context, fingerprint string) bool {
	return g.seen.SetIfAbsent(fingerprint, struct{}{}, g.cooldown)
}

// Close stops the expiry janitor
func (g *MemoryGate) Close() {
	g.seen.Close()
}

// RedisGate shares cooldowns between processes with SETNX. When redis is
// unreachable it defers to the fallback gate.
type RedisGate struct {
	client   *redis.RedisClient
	prefix   string
	cooldown time.Duration
	fallback Gate
	log      *logger.Logger
}

func NewRedisGate(client *redis.RedisClient, prefix string, cooldown time.Duration, fallback Gate, log *logger.Logger) *RedisGate {
	if fallback == nil {
		fallback = NewMemoryGate(cooldown, nil)
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &RedisGate{client: client, prefix: prefix, cooldown: cooldown, fallback: fallback, log: log}
}

func (g *RedisGate) Allow(ctx context.Context, fingerprint string) bool {
	ok, err := g.client.SetNX(ctx, g.prefix+fingerprint, time.Now().UnixMilli(), g.cooldown)
	if err != nil {
		g.log.Warn("cooldown gate unavailable, using local gate", "error", err.Error())
		return g.fallback.Allow(ctx, fingerprint)
	}
	return ok
}
