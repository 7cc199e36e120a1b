package quote_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizledger/internal/core/apperror"
	"bizledger/internal/core/entity"
	"bizledger/internal/core/id"
	"bizledger/internal/core/numerator"
	"bizledger/internal/core/types"
	"bizledger/internal/domain/documents/invoice"
	"bizledger/internal/domain/documents/quote"
	"bizledger/internal/domain/events"
	"bizledger/internal/domain/numbering"
	"bizledger/internal/domain/registers/stock"
	"bizledger/internal/domain/reservation"
	"bizledger/internal/infrastructure/storage/memory"
)

const tenant = "t1"

func qty(n int64) types.Quantity { return types.NewQuantity(n) }

type env struct {
	mem         *memory.Store
	stock       *stock.Service
	coordinator *reservation.Coordinator
	invoices    *invoice.Service
	quotes      *quote.Service
}

func newEnv(t *testing.T, policy reservation.Policy) *env {
	t.Helper()
	return newEnvWithRepo(t, policy, nil)
}

// newEnvWithRepo lets wrap decorate the quote repository.
func newEnvWithRepo(t *testing.T, policy reservation.Policy, wrap func(quote.Repository) quote.Repository) *env {
	t.Helper()
	mem := memory.New()
	numbers := numbering.NewService(mem.Sequences(), nil, nil, nil, numbering.DefaultOptions())
	ledger := stock.NewService(mem.Stock(), mem)
	invoices := invoice.NewService(mem.Invoices(), numbers, mem, mem.Audit(), mem.Outbox(), invoice.DefaultOptions())
	coordinator := reservation.NewCoordinator(ledger, policy)

	var repo quote.Repository = mem.Quotes()
	if wrap != nil {
		repo = wrap(repo)
	}
	quotes := quote.NewService(repo, numbers, coordinator, invoices, mem, mem.Audit(), mem.Outbox(),
		quote.Options{Validity: 14 * 24 * time.Hour})
	return &env{mem: mem, stock: ledger, coordinator: coordinator, invoices: invoices, quotes: quotes}
}

// failingUpdates fails the Update calls whose 1-based index is listed.
type failingUpdates struct {
	quote.Repository
	fail  map[int]bool
	calls int
}

func (r *failingUpdates) Update(ctx context.Context, q *quote.Quote) error {
	r.calls++
	if r.fail[r.calls] {
		return errors.New("connection reset")
	}
	return r.Repository.Update(ctx, q)
}

func (e *env) item(t *testing.T, initial int64) *stock.Item {
	t.Helper()
	item, err := e.stock.CreateItem(context.Background(), tenant, stock.NewItem{Name: "Artikel", InitialStock: qty(initial)})
	require.NoError(t, err)
	return item
}

func (e *env) level(t *testing.T, item *stock.Item) (current, reserved types.Quantity) {
	t.Helper()
	got, err := e.stock.GetItem(context.Background(), tenant, item.ID)
	require.NoError(t, err)
	return got.CurrentStock, got.ReservedStock
}

func line(item *stock.Item, n int64) entity.DocumentLine {
	return entity.DocumentLine{ItemID: item.ID, Quantity: qty(n), UnitPrice: types.MustMoney("10")}
}

func (e *env) create(t *testing.T, reserve bool, lines ...entity.DocumentLine) *quote.Quote {
	t.Helper()
	q, err := e.quotes.Create(context.Background(), tenant, quote.CreateInput{
		CustomerName: "Muster GmbH",
		Lines:        lines,
		Reserve:      reserve,
	}, "alice")
	require.NoError(t, err)
	return q
}

// netReserved sums the reserved deltas of every movement the quote caused.
func (e *env) netReserved(t *testing.T, q *quote.Quote) types.Quantity {
	t.Helper()
	movements, err := e.stock.Movements(context.Background(), tenant, stock.MovementFilter{Reference: q.ID.String()})
	require.NoError(t, err)
	var net types.Quantity
	for _, m := range movements {
		net += m.ReservedDelta()
	}
	return net
}

func TestCreate(t *testing.T) {
	e := newEnv(t, reservation.PolicyCompensate)
	item := e.item(t, 10)

	q := e.create(t, false, line(item, 2))
	assert.Equal(t, "AN-1001", q.Number)
	assert.Equal(t, quote.StatusDraft, q.Status)
	assert.Equal(t, quote.ReservationNone, q.ReservationState)
	assert.True(t, q.Total.Equal(types.MustMoney("20")))
	assert.WithinDuration(t, time.Now().Add(14*24*time.Hour), q.ValidUntil, time.Minute)

	_, reserved := e.level(t, item)
	assert.Equal(t, qty(0), reserved)

	_, err := e.quotes.Create(context.Background(), tenant, quote.CreateInput{}, "alice")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestCreate_WithReservation(t *testing.T) {
	e := newEnv(t, reservation.PolicyCompensate)
	item := e.item(t, 10)

	q := e.create(t, true, line(item, 4))
	assert.Equal(t, quote.ReservationReserved, q.ReservationState)
	assert.Equal(t, []stock.Line{{ItemID: item.ID, Quantity: qty(4)}}, q.ReservedLines)

	_, reserved := e.level(t, item)
	assert.Equal(t, qty(4), reserved)

	_, _, err := e.quotes.Reserve(context.Background(), tenant, q.ID, "alice")
	assert.True(t, apperror.HasCode(err, apperror.CodeAlreadyReserved))
	_, reserved = e.level(t, item)
	assert.Equal(t, qty(4), reserved, "second reserve changes nothing")
}

func TestReserve_CompensateLeavesNothingReserved(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, reservation.PolicyCompensate)
	a := e.item(t, 10)
	b := e.item(t, 1)

	q := e.create(t, false, line(a, 3), line(b, 5))
	got, res, err := e.quotes.Reserve(ctx, tenant, q.ID, "alice")
	require.Error(t, err)
	assert.True(t, apperror.IsPartialReservationFailure(err))
	assert.Len(t, res.Compensated, 1)
	assert.Equal(t, quote.ReservationNone, got.ReservationState)
	assert.Empty(t, got.ReservedLines)

	_, reservedA := e.level(t, a)
	assert.Equal(t, qty(0), reservedA)
	assert.Equal(t, types.Quantity(0), e.netReserved(t, q))
}

func TestReserve_KeepPartialRetriesOnlyMissingLines(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, reservation.PolicyKeepPartial)
	a := e.item(t, 10)
	b := e.item(t, 1)

	q := e.create(t, false, line(a, 3), line(b, 5))
	got, _, err := e.quotes.Reserve(ctx, tenant, q.ID, "alice")
	require.Error(t, err)
	assert.Equal(t, quote.ReservationPartial, got.ReservationState)
	assert.Equal(t, []stock.Line{{ItemID: a.ID, Quantity: qty(3)}}, got.ReservedLines)

	_, err = e.stock.Receive(ctx, tenant, b.ID, qty(10), "Wareneingang", "")
	require.NoError(t, err)

	got, _, err = e.quotes.Reserve(ctx, tenant, q.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, quote.ReservationReserved, got.ReservationState)
	assert.Len(t, got.ReservedLines, 2)

	_, reservedA := e.level(t, a)
	_, reservedB := e.level(t, b)
	assert.Equal(t, qty(3), reservedA, "line a reserved once")
	assert.Equal(t, qty(5), reservedB)
}

func TestAccept_SellsReservedLinesAndCreatesInvoice(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, reservation.PolicyCompensate)
	item := e.item(t, 10)

	q := e.create(t, true, line(item, 4))
	_, err := e.quotes.Transition(ctx, tenant, q.ID, quote.StatusSent, "alice")
	require.NoError(t, err)

	got, err := e.quotes.Transition(ctx, tenant, q.ID, quote.StatusAccepted, "alice")
	require.NoError(t, err)
	assert.Equal(t, quote.StatusAccepted, got.Status)
	assert.Equal(t, quote.ReservationSold, got.ReservationState)
	assert.Empty(t, got.ReservedLines)
	assert.NotNil(t, got.ClosedAt)
	require.NotNil(t, got.InvoiceID)
	assert.Equal(t, "RE-1", got.InvoiceNumber)

	current, reserved := e.level(t, item)
	assert.Equal(t, qty(6), current)
	assert.Equal(t, qty(0), reserved)
	assert.Equal(t, types.Quantity(0), e.netReserved(t, q))

	inv, err := e.invoices.Get(ctx, tenant, *got.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusDraft, inv.Status)
	require.NotNil(t, inv.QuoteID)
	assert.Equal(t, q.ID, *inv.QuoteID)
	assert.True(t, inv.Total.Equal(q.Total))

	evts := e.mem.Outbox().Events(ctx, tenant)
	assert.Equal(t, events.TypeQuoteAccepted, evts[len(evts)-1].EventType)
}

func TestAccept_ReservesMissingLinesFirst(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, reservation.PolicyCompensate)
	item := e.item(t, 10)

	q := e.create(t, false, line(item, 3))
	_, err := e.quotes.Transition(ctx, tenant, q.ID, quote.StatusAccepted, "alice")
	require.NoError(t, err)

	current, reserved := e.level(t, item)
	assert.Equal(t, qty(7), current)
	assert.Equal(t, qty(0), reserved)
}

func TestAccept_InsufficientStockRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, reservation.PolicyCompensate)
	item := e.item(t, 2)

	q := e.create(t, false, line(item, 5))
	_, err := e.quotes.Transition(ctx, tenant, q.ID, quote.StatusAccepted, "alice")
	require.Error(t, err)
	assert.True(t, apperror.IsPartialReservationFailure(err))

	got, err := e.quotes.Get(ctx, tenant, q.ID)
	require.NoError(t, err)
	assert.Equal(t, quote.StatusDraft, got.Status)
	assert.Nil(t, got.InvoiceID)

	current, reserved := e.level(t, item)
	assert.Equal(t, qty(2), current)
	assert.Equal(t, qty(0), reserved)

	_, err = e.mem.Sequences().Get(ctx, tenant, numerator.TypeInvoice)
	assert.ErrorIs(t, err, numerator.ErrCounterNotFound, "no invoice number consumed")
}

func TestReject_ReleasesReservation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, reservation.PolicyCompensate)
	item := e.item(t, 10)

	q := e.create(t, true, line(item, 4))
	got, err := e.quotes.Transition(ctx, tenant, q.ID, quote.StatusRejected, "alice")
	require.NoError(t, err)
	assert.Equal(t, quote.ReservationReleased, got.ReservationState)

	current, reserved := e.level(t, item)
	assert.Equal(t, qty(10), current)
	assert.Equal(t, qty(0), reserved)
	assert.Equal(t, types.Quantity(0), e.netReserved(t, q))

	_, err = e.quotes.Transition(ctx, tenant, q.ID, quote.StatusAccepted, "alice")
	assert.True(t, apperror.IsInvalidTransition(err))

	_, _, err = e.quotes.Reserve(ctx, tenant, q.ID, "alice")
	assert.True(t, apperror.IsInvalidTransition(err))
}

func TestCancel_WithoutReservation(t *testing.T) {
	e := newEnv(t, reservation.PolicyCompensate)
	item := e.item(t, 10)

	q := e.create(t, false, line(item, 4))
	got, err := e.quotes.Transition(context.Background(), tenant, q.ID, quote.StatusCancelled, "alice")
	require.NoError(t, err)
	assert.Equal(t, quote.StatusCancelled, got.Status)
	assert.Equal(t, quote.ReservationNone, got.ReservationState)
}

func TestExpire_OnlyFromSent(t *testing.T) {
	e := newEnv(t, reservation.PolicyCompensate)
	item := e.item(t, 10)

	q := e.create(t, false, line(item, 1))
	_, err := e.quotes.Transition(context.Background(), tenant, q.ID, quote.StatusExpired, "system")
	assert.True(t, apperror.IsInvalidTransition(err))
}

func TestTransition_PendingReservationConflicts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, reservation.PolicyCompensate)
	item := e.item(t, 10)

	q := e.create(t, false, line(item, 1))
	q.ReservationState = quote.ReservationPending
	require.NoError(t, e.mem.Quotes().Update(ctx, q))

	_, err := e.quotes.Transition(ctx, tenant, q.ID, quote.StatusAccepted, "alice")
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))

	_, _, err = e.quotes.Reserve(ctx, tenant, q.ID, "alice")
	assert.True(t, apperror.HasCode(err, apperror.CodeAlreadyReserved))
}

func TestReserve_FailedSettleReleasesStock(t *testing.T) {
	ctx := context.Background()
	repo := &failingUpdates{fail: map[int]bool{2: true}}
	e := newEnvWithRepo(t, reservation.PolicyCompensate, func(r quote.Repository) quote.Repository {
		repo.Repository = r
		return repo
	})
	item := e.item(t, 10)
	q := e.create(t, false, line(item, 4))

	_, _, err := e.quotes.Reserve(ctx, tenant, q.ID, "alice")
	require.Error(t, err)

	_, reserved := e.level(t, item)
	assert.Equal(t, qty(0), reserved)
	assert.Equal(t, qty(0), e.netReserved(t, q))

	got, err := e.quotes.Get(ctx, tenant, q.ID)
	require.NoError(t, err)
	assert.Equal(t, quote.ReservationNone, got.ReservationState)
	assert.Empty(t, got.ReservedLines)

	got, _, err = e.quotes.Reserve(ctx, tenant, q.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, quote.ReservationReserved, got.ReservationState)

	_, err = e.quotes.Transition(ctx, tenant, q.ID, quote.StatusCancelled, "alice")
	require.NoError(t, err)
	_, reserved = e.level(t, item)
	assert.Equal(t, qty(0), reserved)
}

func TestRecoverPending_RebuildsReservedLinesFromMovementLog(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, reservation.PolicyCompensate)
	first := e.item(t, 10)
	second := e.item(t, 10)
	q := e.create(t, false, line(first, 2), line(second, 3))

	// Stock reserved for the quote but never recorded on it.
	_, err := e.coordinator.ReserveForOwner(ctx, tenant, q.ID.String(), []stock.Line{{ItemID: first.ID, Quantity: qty(2)}})
	require.NoError(t, err)
	q.ReservationState = quote.ReservationPending
	require.NoError(t, e.mem.Quotes().Update(ctx, q))

	n, err := e.quotes.RecoverPending(ctx, tenant, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n, "fresh claims are left alone")

	n, err = e.quotes.RecoverPending(ctx, tenant, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.quotes.Get(ctx, tenant, q.ID)
	require.NoError(t, err)
	assert.Equal(t, quote.ReservationPartial, got.ReservationState)
	assert.Equal(t, []stock.Line{{ItemID: first.ID, Quantity: qty(2)}}, got.ReservedLines)

	_, err = e.quotes.Transition(ctx, tenant, q.ID, quote.StatusCancelled, "alice")
	require.NoError(t, err)
	_, reserved := e.level(t, first)
	assert.Equal(t, qty(0), reserved)
	assert.Equal(t, qty(0), e.netReserved(t, q))
}

func TestCancel_ClosesDespiteUnreleasableLine(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, reservation.PolicyCompensate)
	item := e.item(t, 10)
	q := e.create(t, true, line(item, 4))

	ghost := stock.Line{ItemID: id.New(), Quantity: qty(1)}
	q.ReservedLines = append(q.ReservedLines, ghost)
	require.NoError(t, e.mem.Quotes().Update(ctx, q))

	got, err := e.quotes.Transition(ctx, tenant, q.ID, quote.StatusCancelled, "alice")
	require.NoError(t, err)
	assert.Equal(t, quote.StatusCancelled, got.Status)
	assert.Equal(t, quote.ReservationReleased, got.ReservationState)
	assert.Equal(t, []stock.Line{ghost}, got.ReservedLines)

	_, reserved := e.level(t, item)
	assert.Equal(t, qty(0), reserved)
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, reservation.PolicyCompensate)
	item := e.item(t, 10)

	past := time.Now().Add(-time.Hour)
	create := func(reserve bool) *quote.Quote {
		q, err := e.quotes.Create(ctx, tenant, quote.CreateInput{
			Lines: []entity.DocumentLine{line(item, 2)}, ValidUntil: &past, Reserve: reserve,
		}, "alice")
		require.NoError(t, err)
		return q
	}

	sent := create(true)
	_, err := e.quotes.Transition(ctx, tenant, sent.ID, quote.StatusSent, "alice")
	require.NoError(t, err)
	draft := create(false)

	n, err := e.quotes.SweepExpired(ctx, tenant, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.quotes.Get(ctx, tenant, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, quote.StatusExpired, got.Status)
	assert.Equal(t, quote.ReservationReleased, got.ReservationState)

	got, err = e.quotes.Get(ctx, tenant, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, quote.StatusDraft, got.Status)

	_, reserved := e.level(t, item)
	assert.Equal(t, qty(0), reserved)
}

func TestUnreservedLines(t *testing.T) {
	e := newEnv(t, reservation.PolicyCompensate)
	a := e.item(t, 1)
	b := e.item(t, 1)

	q := &quote.Quote{
		Lines:         []entity.DocumentLine{line(a, 3), line(b, 2), line(a, 1)},
		ReservedLines: []stock.Line{{ItemID: a.ID, Quantity: qty(3)}},
	}
	assert.Equal(t, []stock.Line{
		{ItemID: b.ID, Quantity: qty(2)},
		{ItemID: a.ID, Quantity: qty(1)},
	}, q.UnreservedLines())
}
