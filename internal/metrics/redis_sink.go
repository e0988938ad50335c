// Package metrics publishes batch run statistics to Redis for dashboards.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/contact-validation/internal/worker/domain"
	"github.com/redis/go-redis/v9"
)

// historyLength is how many recent runs are kept in the run list
const historyLength = 100

// RedisSink writes the latest snapshot to a hash and appends each run to a capped list
type RedisSink struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSink creates a sink writing under "<prefix>:snapshot" and "<prefix>:runs"
func NewRedisSink(client redis.UniversalClient, prefix string) *RedisSink {
	if prefix == "" {
		prefix = "processor"
	}
	return &RedisSink{client: client, prefix: prefix}
}

// SnapshotKey is the hash holding the rolling totals
func (s *RedisSink) SnapshotKey() string { return s.prefix + ":snapshot" }

// RunsKey is the list holding recent run statistics, newest first
func (s *RedisSink) RunsKey() string { return s.prefix + ":runs" }

// RecordRun implements the coordinator's metrics sink
func (s *RedisSink) RecordRun(ctx context.Context, stats *domain.RunStats, snapshot domain.MetricsSnapshot) error {
	run, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal run stats: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.SnapshotKey(),
		"total_runs", snapshot.TotalRuns,
		"total_processed", snapshot.TotalProcessed,
		"total_failed", snapshot.TotalFailed,
		"average_item_ms", snapshot.AverageItemTime.Milliseconds(),
		"last_run_at", snapshot.LastRunAt.UTC().Format(time.RFC3339),
		"last_run_status", string(snapshot.LastRunStatus),
		"last_run_processed", snapshot.LastRunProcessed,
		"last_run_failed", snapshot.LastRunFailed,
		"last_run_ms", snapshot.LastRunDuration.Milliseconds(),
	)
	pipe.HIncrBy(ctx, s.prefix+":status_counts", string(stats.Status), 1)
	pipe.LPush(ctx, s.RunsKey(), run)
	pipe.LTrim(ctx, s.RunsKey(), 0, historyLength-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record run: %w", err)
	}
	return nil
}

// Snapshot reads the stored rolling totals
func (s *RedisSink) Snapshot(ctx context.Context) (map[string]string, error) {
	values, err := s.client.HGetAll(ctx, s.SnapshotKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read snapshot: %w", err)
	}
	return values, nil
}
