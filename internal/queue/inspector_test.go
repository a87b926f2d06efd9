package queue

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct {
	zcards  map[string]int64
	scards  map[string]int64
	strings map[string]string
	oldest  map[string]float64
}

func (f *fakeStats) ZCard(ctx context.Context, key string) *redis.IntCmd {
	return redis.NewIntResult(f.zcards[key], nil)
}

func (f *fakeStats) SCard(ctx context.Context, key string) *redis.IntCmd {
	return redis.NewIntResult(f.scards[key], nil)
}

func (f *fakeStats) Get(ctx context.Context, key string) *redis.StringCmd {
	val, ok := f.strings[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(val, nil)
}

func (f *fakeStats) ZRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd {
	score, ok := f.oldest[key]
	if !ok {
		return redis.NewZSliceCmdResult(nil, nil)
	}
	return redis.NewZSliceCmdResult([]redis.Z{{Score: score, Member: "job-1"}}, nil)
}

func (f *fakeStats) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.strings[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestSnapshotReadsAllCounters(t *testing.T) {
	enqueued := time.Now().Add(-10 * time.Minute).Truncate(time.Millisecond)

	stats := &fakeStats{
		zcards: map[string]int64{
			"queue:browser-tests:waiting": 12,
			"queue:browser-tests:delayed": 3,
		},
		scards: map[string]int64{
			"queue:browser-tests:active": 4,
		},
		strings: map[string]string{
			"queue:browser-tests:completed": "250",
			"queue:browser-tests:failed":    "7",
		},
		oldest: map[string]float64{
			"queue:browser-tests:waiting": float64(enqueued.UnixMilli()),
		},
	}

	snap, err := NewInspector(stats).Snapshot(context.Background(), "browser-tests")
	require.NoError(t, err)

	assert.Equal(t, "browser-tests", snap.Queue)
	assert.Equal(t, int64(12), snap.Waiting)
	assert.Equal(t, int64(4), snap.Active)
	assert.Equal(t, int64(3), snap.Delayed)
	assert.Equal(t, int64(250), snap.Completed)
	assert.Equal(t, int64(7), snap.Failed)
	assert.False(t, snap.Paused)
	require.NotNil(t, snap.OldestWaiting)
	assert.Equal(t, enqueued.UnixMilli(), snap.OldestWaiting.UnixMilli())
}

func TestSnapshotEmptyQueue(t *testing.T) {
	stats := &fakeStats{
		zcards:  map[string]int64{},
		scards:  map[string]int64{},
		strings: map[string]string{},
		oldest:  map[string]float64{},
	}

	snap, err := NewInspector(stats).Snapshot(context.Background(), "load-tests")
	require.NoError(t, err)

	assert.Zero(t, snap.Waiting)
	assert.Zero(t, snap.Completed)
	assert.Nil(t, snap.OldestWaiting)
	assert.False(t, snap.Paused)
}

func TestSnapshotPausedFlag(t *testing.T) {
	stats := &fakeStats{
		zcards:  map[string]int64{},
		scards:  map[string]int64{},
		strings: map[string]string{"queue:load-tests:paused": "1"},
		oldest:  map[string]float64{},
	}

	snap, err := NewInspector(stats).Snapshot(context.Background(), "load-tests")
	require.NoError(t, err)
	assert.True(t, snap.Paused)
}
