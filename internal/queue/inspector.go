package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Snapshot is one point-in-time view of a queue's counters. The worker fleet
// maintains the underlying keys; this service only reads them.
type Snapshot struct {
	Queue         string     `json:"queue"`
	Waiting       int64      `json:"waiting"`
	Active        int64      `json:"active"`
	Completed     int64      `json:"completed"`
	Failed        int64      `json:"failed"`
	Delayed       int64      `json:"delayed"`
	Paused        bool       `json:"paused"`
	OldestWaiting *time.Time `json:"oldest_waiting,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// StatsClient is the subset of redis commands the inspector needs. Satisfied
// by *redis.Client.
type StatsClient interface {
	ZCard(ctx context.Context, key string) *redis.IntCmd
	SCard(ctx context.Context, key string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// Inspector reads queue counters out of redis. Waiting and delayed jobs live
// in sorted sets scored by enqueue time (unix millis), active jobs in a set,
// completed/failed as plain counters.
type Inspector struct {
	rdb StatsClient
}

func NewInspector(rdb StatsClient) *Inspector {
	return &Inspector{rdb: rdb}
}

func (i *Inspector) Snapshot(ctx context.Context, queueName string) (*Snapshot, error) {
	s := &Snapshot{
		Queue:     queueName,
		Timestamp: time.Now(),
	}

	var err error
	if s.Waiting, err = i.rdb.ZCard(ctx, key(queueName, "waiting")).Result(); err != nil {
		return nil, fmt.Errorf("failed to read waiting count: %w", err)
	}
	if s.Active, err = i.rdb.SCard(ctx, key(queueName, "active")).Result(); err != nil {
		return nil, fmt.Errorf("failed to read active count: %w", err)
	}
	if s.Delayed, err = i.rdb.ZCard(ctx, key(queueName, "delayed")).Result(); err != nil {
		return nil, fmt.Errorf("failed to read delayed count: %w", err)
	}
	if s.Completed, err = i.counter(ctx, key(queueName, "completed")); err != nil {
		return nil, fmt.Errorf("failed to read completed count: %w", err)
	}
	if s.Failed, err = i.counter(ctx, key(queueName, "failed")); err != nil {
		return nil, fmt.Errorf("failed to read failed count: %w", err)
	}

	paused, err := i.rdb.Exists(ctx, key(queueName, "paused")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read paused flag: %w", err)
	}
	s.Paused = paused > 0

	// Oldest waiting job is the lowest score in the waiting zset.
	entries, err := i.rdb.ZRangeWithScores(ctx, key(queueName, "waiting"), 0, 0).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read oldest waiting job: %w", err)
	}
	if len(entries) > 0 {
		enqueued := time.UnixMilli(int64(entries[0].Score))
		s.OldestWaiting = &enqueued
	}

	return s, nil
}

func (i *Inspector) counter(ctx context.Context, k string) (int64, error) {
	val, err := i.rdb.Get(ctx, k).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

func key(queueName, field string) string {
	return fmt.Sprintf("queue:%s:%s", queueName, field)
}
