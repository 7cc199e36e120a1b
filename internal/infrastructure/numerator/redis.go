package numerator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	corenumerator "bizledger/internal/core/numerator"
)

const redisKeyPrefix = "bizledger:seq"

// RedisStore keeps each counter in a hash and advances it with an optimistic
// WATCH/MULTI transaction. A concurrent writer aborts the EXEC, which is
// reported as ErrConflict so the allocator retries. Increments commit
// immediately, so numbers are unique but not gapless.
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// Ensure compile-time interface compliance.
var _ corenumerator.Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed counter store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func counterKey(tenantID string, dt corenumerator.DocumentType) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, tenantID, dt)
}

func indexKey(tenantID string) string {
	return fmt.Sprintf("%s:%s:_types", redisKeyPrefix, tenantID)
}

// Take implements Store.
func (s *RedisStore) Take(ctx context.Context, tenantID string, dt corenumerator.DocumentType, seed corenumerator.Config) (corenumerator.Taken, error) {
	key := counterKey(tenantID, dt)
	var taken corenumerator.Taken

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		c, found, err := readCounter(ctx, tx, tenantID, dt)
		if err != nil {
			return err
		}
		if !found {
			c = corenumerator.Counter{NextNumber: seed.Seed, Format: seed.Format, Prefix: seed.Prefix}
		}
		taken = corenumerator.Taken{Number: c.NextNumber, Format: c.Format, Prefix: c.Prefix}
		c.NextNumber++

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.writeCounter(ctx, pipe, tenantID, dt, c)
			return nil
		})
		return err
	}, key)

	if err != nil {
		return corenumerator.Taken{}, mapRedisError("take", err)
	}
	return taken, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, tenantID string, dt corenumerator.DocumentType) (corenumerator.Counter, error) {
	c, found, err := readCounter(ctx, s.client, tenantID, dt)
	if err != nil {
		return corenumerator.Counter{}, mapRedisError("get", err)
	}
	if !found {
		return corenumerator.Counter{}, corenumerator.ErrCounterNotFound
	}
	return c, nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, tenantID string) ([]corenumerator.Counter, error) {
	members, err := s.client.SMembers(ctx, indexKey(tenantID)).Result()
	if err != nil {
		return nil, mapRedisError("list", err)
	}
	sort.Strings(members)

	counters := make([]corenumerator.Counter, 0, len(members))
	for _, m := range members {
		c, found, err := readCounter(ctx, s.client, tenantID, corenumerator.DocumentType(m))
		if err != nil {
			return nil, mapRedisError("list", err)
		}
		if found {
			counters = append(counters, c)
		}
	}
	return counters, nil
}

// Ensure implements Store.
func (s *RedisStore) Ensure(ctx context.Context, tenantID string, dt corenumerator.DocumentType, cfg corenumerator.Config) (bool, error) {
	created := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		_, found, err := readCounter(ctx, tx, tenantID, dt)
		if err != nil || found {
			return err
		}
		c := corenumerator.Counter{NextNumber: cfg.Seed, Format: cfg.Format, Prefix: cfg.Prefix}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.writeCounter(ctx, pipe, tenantID, dt, c)
			return nil
		})
		created = err == nil
		return err
	}, counterKey(tenantID, dt))
	if err != nil {
		return false, mapRedisError("ensure", err)
	}
	return created, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, c corenumerator.Counter, allowLower bool) error {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, found, err := readCounter(ctx, tx, c.TenantID, c.DocumentType)
		if err != nil {
			return err
		}
		if found && !allowLower && current.NextNumber > c.NextNumber {
			c.NextNumber = current.NextNumber
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.writeCounter(ctx, pipe, c.TenantID, c.DocumentType, c)
			return nil
		})
		return err
	}, counterKey(c.TenantID, c.DocumentType))
	if err != nil {
		return mapRedisError("set", err)
	}
	return nil
}

func (s *RedisStore) writeCounter(ctx context.Context, pipe redis.Pipeliner, tenantID string, dt corenumerator.DocumentType, c corenumerator.Counter) {
	pipe.HSet(ctx, counterKey(tenantID, dt),
		"next_number", c.NextNumber,
		"format", c.Format,
		"prefix", c.Prefix,
		"updated_at", s.now().UTC().Format(time.RFC3339Nano),
	)
	pipe.SAdd(ctx, indexKey(tenantID), string(dt))
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func readCounter(ctx context.Context, cmd hashReader, tenantID string, dt corenumerator.DocumentType) (corenumerator.Counter, bool, error) {
	vals, err := cmd.HGetAll(ctx, counterKey(tenantID, dt)).Result()
	if err != nil {
		return corenumerator.Counter{}, false, err
	}
	if len(vals) == 0 {
		return corenumerator.Counter{}, false, nil
	}

	next, err := strconv.ParseInt(vals["next_number"], 10, 64)
	if err != nil {
		return corenumerator.Counter{}, false, fmt.Errorf("parse next_number of %s/%s: %w", tenantID, dt, err)
	}
	c := corenumerator.Counter{
		TenantID:     tenantID,
		DocumentType: dt,
		NextNumber:   next,
		Format:       vals["format"],
		Prefix:       vals["prefix"],
	}
	if ts, err := time.Parse(time.RFC3339Nano, vals["updated_at"]); err == nil {
		c.UpdatedAt = ts
	}
	return c, true, nil
}

func mapRedisError(op string, err error) error {
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%s counter: %w: %v", op, corenumerator.ErrConflict, err)
	}
	return fmt.Errorf("%s counter: %w", op, err)
}
