package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizledger/internal/core/entity"
	"bizledger/internal/core/id"
	"bizledger/internal/core/numerator"
	"bizledger/internal/core/types"
	"bizledger/internal/domain/audit"
	"bizledger/internal/domain/events"
	"bizledger/internal/domain/registers/stock"
)

var seed = numerator.Config{Seed: 1000, Format: "RE-{number}"}

func TestRunInTransaction_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	seqs := s.Sequences()

	boom := errors.New("boom")
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		taken, err := seqs.Take(ctx, "t1", numerator.TypeInvoice, seed)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), taken.Number)
		require.NoError(t, s.Outbox().Publish(ctx, events.DomainEvent{TenantID: "t1", EventType: "x"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = seqs.Get(ctx, "t1", numerator.TypeInvoice)
	assert.ErrorIs(t, err, numerator.ErrCounterNotFound)
	assert.Empty(t, s.Outbox().Events(ctx, "t1"))

	taken, err := seqs.Take(ctx, "t1", numerator.TypeInvoice, seed)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), taken.Number, "rolled back number is reissued")
}

func TestRunInTransaction_NestedReusesOuter(t *testing.T) {
	ctx := context.Background()
	s := New()
	seqs := s.Sequences()

	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			_, err := seqs.Take(ctx, "t1", numerator.TypeQuote, seed)
			return err
		})
	})
	require.NoError(t, err)

	c, err := seqs.Get(ctx, "t1", numerator.TypeQuote)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), c.NextNumber)
}

func TestSequences_ConcurrentTakeIsUnique(t *testing.T) {
	ctx := context.Background()
	seqs := New().Sequences()

	const n = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int64]bool, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			taken, err := seqs.Take(ctx, "t1", numerator.TypeInvoice, seed)
			assert.NoError(t, err)
			mu.Lock()
			seen[taken.Number] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, n)
	for i := int64(1000); i < 1000+n; i++ {
		assert.True(t, seen[i], "missing %d", i)
	}
}

func TestSequences_SetNeverLowersWithoutForce(t *testing.T) {
	ctx := context.Background()
	seqs := New().Sequences()

	_, err := seqs.Ensure(ctx, "t1", numerator.TypeInvoice, seed)
	require.NoError(t, err)

	require.NoError(t, seqs.Set(ctx, numerator.Counter{
		TenantID: "t1", DocumentType: numerator.TypeInvoice, NextNumber: 5, Format: "{number}",
	}, false))
	c, err := seqs.Get(ctx, "t1", numerator.TypeInvoice)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), c.NextNumber)
	assert.Equal(t, "{number}", c.Format)

	require.NoError(t, seqs.Set(ctx, numerator.Counter{
		TenantID: "t1", DocumentType: numerator.TypeInvoice, NextNumber: 5, Format: "{number}",
	}, true))
	c, err = seqs.Get(ctx, "t1", numerator.TypeInvoice)
	require.NoError(t, err)
	assert.Equal(t, int64(5), c.NextNumber)
}

func TestSequences_TenantsAreIsolated(t *testing.T) {
	ctx := context.Background()
	seqs := New().Sequences()

	a, err := seqs.Take(ctx, "a", numerator.TypeInvoice, seed)
	require.NoError(t, err)
	b, err := seqs.Take(ctx, "b", numerator.TypeInvoice, seed)
	require.NoError(t, err)
	assert.Equal(t, a.Number, b.Number)

	list, err := seqs.List(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStockRepository_TenantScopedReads(t *testing.T) {
	ctx := context.Background()
	repo := New().Stock()

	item := &stock.Item{BaseEntity: entity.NewBaseEntity("t1"), Name: "Schraube", CurrentStock: types.NewQuantity(3)}
	require.NoError(t, repo.CreateItem(ctx, item))

	_, err := repo.GetItem(ctx, "t2", item.ID)
	assert.Error(t, err)

	got, err := repo.GetItem(ctx, "t1", item.ID)
	require.NoError(t, err)
	got.CurrentStock = 0

	again, err := repo.GetItem(ctx, "t1", item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantity(3), again.CurrentStock, "reads return copies")
}

func TestAuditLog_HistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	log := s.Audit()
	docID := id.New()

	for _, to := range []string{"draft", "sent", "paid"} {
		require.NoError(t, log.Record(ctx, audit.Entry{
			TenantID: "t1", EntityType: "Invoice", EntityID: docID,
			Action: audit.ActionTransition, ToStatus: to, Snapshot: map[string]string{"status": to},
		}))
	}
	require.NoError(t, log.Record(ctx, audit.Entry{TenantID: "t2", EntityType: "Invoice", EntityID: docID, Action: audit.ActionCreate}))
	require.NoError(t, log.Record(ctx, audit.Entry{TenantID: "t1", EntityType: "Quote", EntityID: docID, Action: audit.ActionCreate}))

	records, err := log.History(ctx, "t1", "Invoice", docID, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "paid", records[0].ToStatus)
	assert.Equal(t, "sent", records[1].ToStatus)
	assert.JSONEq(t, `{"status":"paid"}`, string(records[0].Snapshot))

	all, err := log.History(ctx, "t1", "Invoice", docID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
