// Package usage counts billable validations per client in Redis.
package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cuongbtq/contact-validation/internal/worker/domain"
	"github.com/redis/go-redis/v9"
)

// defaultRetention keeps a monthly hash long enough for invoicing
const defaultRetention = 400 * 24 * time.Hour

// RedisCounter keeps one hash per client and month, one field per validation type
type RedisCounter struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// NewRedisCounter creates a counter writing keys "<prefix>:<client>:<yyyy-mm>"
func NewRedisCounter(client redis.UniversalClient, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "usage"
	}
	return &RedisCounter{
		client:    client,
		prefix:    prefix,
		retention: defaultRetention,
		now:       time.Now,
	}
}

func (c *RedisCounter) key(clientID string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, clientID, at.UTC().Format("2006-01"))
}

// Increment adds one performed validation of type t to clientID's current month
func (c *RedisCounter) Increment(ctx context.Context, clientID string, t domain.ValidationType) error {
	if clientID == "" {
		return errors.New("client id cannot be empty")
	}

	key := c.key(clientID, c.now())
	pipe := c.client.TxPipeline()
	pipe.HIncrBy(ctx, key, string(t), 1)
	pipe.Expire(ctx, key, c.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis usage increment: %w", err)
	}
	return nil
}

// Month returns clientID's counters for the month containing at
func (c *RedisCounter) Month(ctx context.Context, clientID string, at time.Time) (map[domain.ValidationType]int64, error) {
	raw, err := c.client.HGetAll(ctx, c.key(clientID, at)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis usage read: %w", err)
	}

	counts := make(map[domain.ValidationType]int64, len(raw))
	for field, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse usage counter %s: %w", field, err)
		}
		counts[domain.ValidationType(field)] = n
	}
	return counts, nil
}
