package numerator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corenumerator "bizledger/internal/core/numerator"
	"bizledger/internal/infrastructure/storage/memory"
)

// newTestRedis connects to REDIS_TEST_ADDR or skips the test.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStore_ConcurrentTake(t *testing.T) {
	client := newTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()
	tenantID := fmt.Sprintf("test-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		client.Del(ctx, counterKey(tenantID, corenumerator.TypeInvoice), indexKey(tenantID))
	})

	seed := corenumerator.DefaultConfig(corenumerator.TypeInvoice)
	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				taken, err := store.Take(ctx, tenantID, corenumerator.TypeInvoice, seed)
				if err != nil {
					assert.ErrorIs(t, err, corenumerator.ErrConflict)
					continue
				}
				mu.Lock()
				numbers = append(numbers, taken.Number)
				mu.Unlock()
				return
			}
		}()
	}
	wg.Wait()

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	require.Len(t, numbers, n)
	for i, num := range numbers {
		assert.Equal(t, int64(i+1), num)
	}

	c, err := store.Get(ctx, tenantID, corenumerator.TypeInvoice)
	require.NoError(t, err)
	assert.Equal(t, int64(n+1), c.NextNumber)
}

func TestRedisStore_SetNeverLowersWithoutForce(t *testing.T) {
	client := newTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()
	tenantID := fmt.Sprintf("test-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		client.Del(ctx, counterKey(tenantID, corenumerator.TypeQuote), indexKey(tenantID))
	})

	created, err := store.Ensure(ctx, tenantID, corenumerator.TypeQuote, corenumerator.Config{Seed: 50, Format: "AN-{number}"})
	require.NoError(t, err)
	assert.True(t, created)

	require.NoError(t, store.Set(ctx, corenumerator.Counter{
		TenantID: tenantID, DocumentType: corenumerator.TypeQuote, NextNumber: 10, Format: "Q-{number}",
	}, false))

	c, err := store.Get(ctx, tenantID, corenumerator.TypeQuote)
	require.NoError(t, err)
	assert.Equal(t, int64(50), c.NextNumber)
	assert.Equal(t, "Q-{number}", c.Format)

	list, err := store.List(ctx, tenantID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRedisStore_TakeSurvivesCallerRollback(t *testing.T) {
	client := newTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()
	tenantID := fmt.Sprintf("test-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		client.Del(ctx, counterKey(tenantID, corenumerator.TypeInvoice), indexKey(tenantID))
	})
	seed := corenumerator.DefaultConfig(corenumerator.TypeInvoice)

	txm := memory.New()
	err := txm.RunInTransaction(ctx, func(ctx context.Context) error {
		taken, err := store.Take(ctx, tenantID, corenumerator.TypeInvoice, seed)
		require.NoError(t, err)
		assert.Equal(t, int64(1), taken.Number)
		return errors.New("insert failed")
	})
	require.Error(t, err)

	taken, err := store.Take(ctx, tenantID, corenumerator.TypeInvoice, seed)
	require.NoError(t, err)
	assert.Equal(t, int64(2), taken.Number, "redis numbers are unique, not gapless")
}
