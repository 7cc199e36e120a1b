package stock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizledger/internal/core/apperror"
	"bizledger/internal/core/id"
	"bizledger/internal/core/types"
	"bizledger/internal/domain/registers/stock"
	"bizledger/internal/infrastructure/storage/memory"
)

const tenant = "t1"

func q(n int64) types.Quantity { return types.NewQuantity(n) }

func newService(t *testing.T) (*stock.Service, *memory.Store) {
	t.Helper()
	mem := memory.New()
	return stock.NewService(mem.Stock(), mem), mem
}

func createItem(t *testing.T, svc *stock.Service, initial int64) *stock.Item {
	t.Helper()
	item, err := svc.CreateItem(context.Background(), tenant, stock.NewItem{
		SKU:           "SKU-" + id.New().String(),
		Name:          "Schraube M4",
		Unit:          "Stk",
		InitialStock:  q(initial),
		MinStock:      q(2),
		PurchasePrice: types.MustMoney("1.50"),
		SellingPrice:  types.MustMoney("2.50"),
	})
	require.NoError(t, err)
	return item
}

func TestReserveSellScenario(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	item := createItem(t, svc, 10)

	got, err := svc.Reserve(ctx, tenant, item.ID, q(4), "Reservierung", "quote-1")
	require.NoError(t, err)
	assert.Equal(t, q(10), got.CurrentStock)
	assert.Equal(t, q(4), got.ReservedStock)
	assert.Equal(t, q(6), got.AvailableStock())

	_, err = svc.Reserve(ctx, tenant, item.ID, q(7), "Reservierung", "quote-2")
	require.Error(t, err)
	assert.True(t, apperror.IsInsufficientStock(err))

	unchanged, err := svc.GetItem(ctx, tenant, item.ID)
	require.NoError(t, err)
	assert.Equal(t, q(4), unchanged.ReservedStock, "failed reserve writes nothing")

	got, err = svc.Sell(ctx, tenant, item.ID, q(4), "Verkauf", "quote-1")
	require.NoError(t, err)
	assert.Equal(t, q(6), got.CurrentStock)
	assert.Equal(t, q(0), got.ReservedStock)

	movements, err := svc.Movements(ctx, tenant, stock.MovementFilter{ItemID: &item.ID})
	require.NoError(t, err)
	require.Len(t, movements, 3, "initial stock, reserve, sell")
	assert.Equal(t, stock.MovementOut, movements[0].Type)
	assert.Equal(t, stock.MovementReserve, movements[1].Type)
	assert.Equal(t, stock.MovementIn, movements[2].Type)
	assert.Equal(t, stock.InitialStockReason, movements[2].Reason)
}

func TestRelease_ClampsToReserved(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	item := createItem(t, svc, 5)

	_, err := svc.Reserve(ctx, tenant, item.ID, q(2), "", "r")
	require.NoError(t, err)

	got, err := svc.Release(ctx, tenant, item.ID, q(5), "", "r")
	require.NoError(t, err)
	assert.Equal(t, q(0), got.ReservedStock)
	assert.Equal(t, q(5), got.CurrentStock)

	movements, err := svc.Movements(ctx, tenant, stock.MovementFilter{ItemID: &item.ID, Types: []stock.MovementType{stock.MovementRelease}})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, q(2), movements[0].Quantity)
	assert.Equal(t, q(-2), movements[0].ReservedDelta())
}

func TestSell_ClampsAtZero(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	item := createItem(t, svc, 3)

	got, err := svc.Sell(ctx, tenant, item.ID, q(5), "", "")
	require.NoError(t, err)
	assert.Equal(t, q(0), got.CurrentStock)
	assert.Equal(t, q(0), got.ReservedStock)
}

func TestIssueAndReceive(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	item := createItem(t, svc, 5)

	_, err := svc.Reserve(ctx, tenant, item.ID, q(3), "", "r")
	require.NoError(t, err)

	_, err = svc.Issue(ctx, tenant, item.ID, q(3), "", "")
	assert.True(t, apperror.IsInsufficientStock(err), "reserved stock cannot be issued")

	got, err := svc.Issue(ctx, tenant, item.ID, q(2), "", "")
	require.NoError(t, err)
	assert.Equal(t, q(3), got.CurrentStock)

	got, err = svc.Receive(ctx, tenant, item.ID, q(7), "Wareneingang", "")
	require.NoError(t, err)
	assert.Equal(t, q(10), got.CurrentStock)
	assert.Equal(t, q(3), got.ReservedStock)
}

func TestAdjust(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	item := createItem(t, svc, 10)

	_, err := svc.Reserve(ctx, tenant, item.ID, q(4), "", "r")
	require.NoError(t, err)

	_, err = svc.Adjust(ctx, tenant, item.ID, q(3), "Inventur")
	require.Error(t, err)
	assert.True(t, apperror.IsInsufficientStock(err))

	_, err = svc.Adjust(ctx, tenant, item.ID, q(-1), "Inventur")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	got, err := svc.Adjust(ctx, tenant, item.ID, q(6), "Inventur")
	require.NoError(t, err)
	assert.Equal(t, q(6), got.CurrentStock)
	assert.Equal(t, q(4), got.ReservedStock)
}

func TestMutations_RejectNonPositiveQuantity(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	item := createItem(t, svc, 10)

	_, err := svc.Reserve(ctx, tenant, item.ID, q(0), "", "")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
	_, err = svc.Sell(ctx, tenant, item.ID, q(-1), "", "")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestReserve_ConcurrentCallersNeverOversell(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	item := createItem(t, svc, 10)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Reserve(ctx, tenant, item.ID, q(1), "", ""); err == nil {
				ok.Add(1)
			} else {
				assert.True(t, apperror.IsInsufficientStock(err))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), ok.Load())
	got, err := svc.GetItem(ctx, tenant, item.ID)
	require.NoError(t, err)
	assert.Equal(t, q(10), got.ReservedStock)
	assert.Equal(t, q(0), got.AvailableStock())
}

func TestDeductForDeliveryNote_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	a := createItem(t, svc, 5)
	b := createItem(t, svc, 1)

	_, err := svc.DeductForDeliveryNote(ctx, tenant, "LI-1", []stock.Line{
		{ItemID: a.ID, Quantity: q(2)},
		{ItemID: b.ID, Quantity: q(3)},
	})
	require.Error(t, err)
	assert.True(t, apperror.IsInsufficientStock(err))

	got, err := svc.GetItem(ctx, tenant, a.ID)
	require.NoError(t, err)
	assert.Equal(t, q(5), got.CurrentStock, "no line deducted")

	items, err := svc.DeductForDeliveryNote(ctx, tenant, "LI-2", []stock.Line{
		{ItemID: a.ID, Quantity: q(2)},
		{ItemID: b.ID, Quantity: q(1)},
	})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	movements, err := svc.Movements(ctx, tenant, stock.MovementFilter{Reference: "LI-2"})
	require.NoError(t, err)
	assert.Len(t, movements, 2)
}

func TestReconstruct_MatchesLiveAggregate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	item := createItem(t, svc, 10)

	_, err := svc.Reserve(ctx, tenant, item.ID, q(4), "", "r")
	require.NoError(t, err)
	_, err = svc.Receive(ctx, tenant, item.ID, q(3), "", "")
	require.NoError(t, err)
	_, err = svc.Release(ctx, tenant, item.ID, q(1), "", "r")
	require.NoError(t, err)
	_, err = svc.Sell(ctx, tenant, item.ID, q(3), "", "r")
	require.NoError(t, err)

	r, err := svc.Reconstruct(ctx, tenant, item.ID)
	require.NoError(t, err)
	assert.False(t, r.Drifted())
	assert.Equal(t, 5, r.Entries)
	assert.Equal(t, q(10), r.LiveCurrent)
	assert.Equal(t, q(0), r.LiveReserved)
	assert.Equal(t, r.LiveCurrent, r.LoggedCurrent)
	assert.Equal(t, r.LiveReserved, r.LoggedReserved)
}

func TestUpdateDetails_WritesNoMovement(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	item := createItem(t, svc, 1)

	name := "Schraube M5"
	inactive := false
	got, err := svc.UpdateDetails(ctx, tenant, item.ID, stock.DetailsInput{Name: &name, Active: &inactive})
	require.NoError(t, err)
	assert.Equal(t, name, got.Name)
	assert.Equal(t, stock.StatusInactive, got.Status())

	movements, err := svc.Movements(ctx, tenant, stock.MovementFilter{ItemID: &item.ID})
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	createItem(t, svc, 10) // 15.00
	createItem(t, svc, 2)  // 3.00, low stock
	createItem(t, svc, 0)  // out of stock

	st, err := svc.Stats(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalItems)
	assert.True(t, st.TotalValue.Equal(types.MustMoney("18")), st.TotalValue.String())
	assert.Equal(t, 1, st.LowStockItems)
	assert.Equal(t, 1, st.OutOfStockItems)
	assert.True(t, st.AverageValue.Equal(types.MustMoney("6")))
}

func TestItemStatus(t *testing.T) {
	item := stock.Item{CurrentStock: q(5), ReservedStock: q(3), MinStock: q(2), Active: true}
	assert.Equal(t, stock.StatusLowStock, item.Status())

	item.ReservedStock = q(5)
	assert.Equal(t, stock.StatusOutOfStock, item.Status())

	item.ReservedStock = 0
	assert.Equal(t, stock.StatusActive, item.Status())
}

func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	item := createItem(t, svc, 5)

	_, err := svc.Reserve(ctx, "other", item.ID, q(1), "", "")
	assert.True(t, apperror.IsNotFound(err))
}
