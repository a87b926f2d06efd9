package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// MaxReservationTTL bounds how long a crashed holder can pin reserved
// minutes before the ledger self-heals.
const MaxReservationTTL = 5 * time.Minute

// RedisCmdable is the subset of redis commands the ledger needs. Satisfied
// by *redis.Client.
type RedisCmdable interface {
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	DecrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Ledger tracks in-flight reserved minutes per (tenant, kind) using redis
// atomic counters with a bounded TTL. No application-level lock is ever
// taken; the counter itself serializes concurrent mutations.
type Ledger struct {
	rdb RedisCmdable
	ttl time.Duration
}

type reservation struct {
	TenantID  string       `json:"tenant_id"`
	Kind      ResourceKind `json:"kind"`
	Minutes   int64        `json:"minutes"`
	CreatedAt time.Time    `json:"created_at"`
}

func NewLedger(rdb RedisCmdable, ttl time.Duration) *Ledger {
	if ttl <= 0 || ttl > MaxReservationTTL {
		ttl = MaxReservationTTL
	}
	return &Ledger{rdb: rdb, ttl: ttl}
}

func aggregateKey(tenantID string, kind ResourceKind) string {
	return fmt.Sprintf("quota:reserved:%s:%s", tenantID, kind)
}

func detailKey(id string) string {
	return fmt.Sprintf("quota:reservation:%s", id)
}

// Reserve atomically adds minutes to the (tenant, kind) aggregate and writes
// a detail record so the reservation can later be released by ID alone.
func (l *Ledger) Reserve(ctx context.Context, tenantID string, kind ResourceKind, minutes int64) (string, error) {
	if minutes <= 0 {
		return "", fmt.Errorf("invalid reservation of %d minutes", minutes)
	}

	key := aggregateKey(tenantID, kind)
	if err := l.rdb.IncrBy(ctx, key, minutes).Err(); err != nil {
		return "", fmt.Errorf("failed to increment reservation aggregate: %w", err)
	}
	// Refresh on every mutation so a busy aggregate never expires mid-flight.
	l.rdb.Expire(ctx, key, l.ttl)

	id := uuid.New().String()
	rec := reservation{
		TenantID:  tenantID,
		Kind:      kind,
		Minutes:   minutes,
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal reservation: %w", err)
	}

	if err := l.rdb.Set(ctx, detailKey(id), data, l.ttl).Err(); err != nil {
		// Without a detail record the reservation could never be released;
		// undo the increment rather than leave it pinned for a full TTL.
		l.rdb.DecrBy(ctx, key, minutes)
		return "", fmt.Errorf("failed to store reservation detail: %w", err)
	}

	return id, nil
}

// Release decrements the aggregate by the reservation's minutes and removes
// the detail record. Idempotent: releasing an unknown or already-expired
// reservation is a no-op, since expiry already healed the aggregate.
func (l *Ledger) Release(ctx context.Context, reservationID string) error {
	data, err := l.rdb.Get(ctx, detailKey(reservationID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read reservation detail: %w", err)
	}

	var rec reservation
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return fmt.Errorf("failed to unmarshal reservation detail: %w", err)
	}

	key := aggregateKey(rec.TenantID, rec.Kind)
	remaining, err := l.rdb.DecrBy(ctx, key, rec.Minutes).Result()
	if err != nil {
		return fmt.Errorf("failed to decrement reservation aggregate: %w", err)
	}
	if remaining < 0 {
		// Aggregate expired before its detail record did; clamp to zero.
		l.rdb.Set(ctx, key, 0, l.ttl)
	}

	l.rdb.Del(ctx, detailKey(reservationID))
	return nil
}

// Reserved returns the live aggregate for one (tenant, kind). A missing key
// reads as zero.
func (l *Ledger) Reserved(ctx context.Context, tenantID string, kind ResourceKind) (int64, error) {
	val, err := l.rdb.Get(ctx, aggregateKey(tenantID, kind)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read reservation aggregate: %w", err)
	}

	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt reservation aggregate %q: %w", val, err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// ReservedAll reads the aggregates for every kind of one tenant.
func (l *Ledger) ReservedAll(ctx context.Context, tenantID string) (map[ResourceKind]int64, error) {
	out := make(map[ResourceKind]int64, len(Kinds()))
	for _, kind := range Kinds() {
		n, err := l.Reserved(ctx, tenantID, kind)
		if err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, nil
}
