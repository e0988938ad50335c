package metrics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cuongbtq/contact-validation/internal/worker/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisSink_Keys(t *testing.T) {
	sink := NewRedisSink(nil, "")
	assert.Equal(t, "processor:snapshot", sink.SnapshotKey())
	assert.Equal(t, "processor:runs", sink.RunsKey())
}

func TestRedisSink_RecordRun(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	sink := NewRedisSink(client, "test-processor")
	t.Cleanup(func() {
		client.Del(ctx, sink.SnapshotKey(), sink.RunsKey(), "test-processor:status_counts")
	})

	stats := &domain.RunStats{
		Status:    domain.RunCompleted,
		StartedAt: time.Now(),
		Runtime:   2 * time.Second,
		Processed: 5,
	}
	snapshot := domain.MetricsSnapshot{
		TotalRuns:       1,
		TotalProcessed:  5,
		AverageItemTime: 120 * time.Millisecond,
		LastRunStatus:   domain.RunCompleted,
	}

	require.NoError(t, sink.RecordRun(ctx, stats, snapshot))
	require.NoError(t, sink.RecordRun(ctx, stats, snapshot))

	values, err := sink.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "5", values["total_processed"])
	assert.Equal(t, "120", values["average_item_ms"])
	assert.Equal(t, "completed", values["last_run_status"])

	runs, err := client.LLen(ctx, sink.RunsKey()).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), runs)
}
