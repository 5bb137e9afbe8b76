// Package cache holds a Redis record of recently processed gateway events.
// Postgres stays authoritative; the cache only saves a transaction when a
// gateway retries an event that has already committed.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "paysync:processed:"

type ProcessedEvents struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewProcessedEvents returns a cache whose entries live for ttl. A zero ttl
// keeps entries until Redis evicts them.
func NewProcessedEvents(client redis.UniversalClient, ttl time.Duration) *ProcessedEvents {
	return &ProcessedEvents{client: client, ttl: ttl}
}

// NewClient connects to a single Redis node.
func NewClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
}

func (c *ProcessedEvents) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := c.client.Exists(ctx, keyPrefix+eventID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return n > 0, nil
}

func (c *ProcessedEvents) Mark(ctx context.Context, eventID string) error {
	return c.client.Set(ctx, keyPrefix+eventID, 1, c.ttl).Err()
}

// Ping checks connectivity at startup.
func (c *ProcessedEvents) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
