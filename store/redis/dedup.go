// Package redis provides a Redis-backed settlement.DedupLedger, for
// deployments where several server or worker processes share one set of
// processed event ids.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/payment-engine/settlement"
)

const defaultPrefix = "payments:events:"

// Dedup records event ids with SET NX so the check and the write are one
// atomic command. Keys expire after TTL; zero keeps them forever.
type Dedup struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewDedup(client *redis.Client, ttl time.Duration) *Dedup {
	return &Dedup{client: client, prefix: defaultPrefix, ttl: ttl}
}

// WithPrefix returns a copy writing under a different key prefix.
func (d *Dedup) WithPrefix(prefix string) *Dedup {
	cp := *d
	cp.prefix = prefix
	return &cp
}

// Connect initializes a Redis client from URL or host:port input.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (d *Dedup) key(id settlement.EventID) string {
	return d.prefix + string(id)
}

func (d *Dedup) MarkProcessed(ctx context.Context, id settlement.EventID, typ settlement.EventType, at time.Time) (bool, error) {
	value := string(typ) + "@" + at.UTC().Format(time.RFC3339Nano)
	ok, err := d.client.SetNX(ctx, d.key(id), value, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", id, err)
	}
	return ok, nil
}

func (d *Dedup) IsProcessed(ctx context.Context, id settlement.EventID) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", id, err)
	}
	return n > 0, nil
}
