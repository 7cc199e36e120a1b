// Package memory is an in-process storage backend for development and tests.
//
// A single mutex serialises every transaction, which trivially satisfies the
// atomicity and isolation the domain services rely on. Writes made inside
// RunInTransaction are discarded when fn returns an error.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"bizledger/internal/core/id"
	"bizledger/internal/core/numerator"
	"bizledger/internal/core/tx"
	"bizledger/internal/domain/audit"
	"bizledger/internal/domain/documents/invoice"
	"bizledger/internal/domain/documents/quote"
	"bizledger/internal/domain/events"
	"bizledger/internal/domain/numbering"
	"bizledger/internal/domain/registers/stock"
)

var (
	_ tx.SerializableManager = (*Store)(nil)
	_ numerator.Store        = (*Sequences)(nil)
	_ numbering.DegradedLog  = (*DegradedLog)(nil)
	_ stock.Repository       = (*StockRepository)(nil)
	_ quote.Repository       = (*QuoteRepository)(nil)
	_ invoice.Repository     = (*InvoiceRepository)(nil)
	_ audit.Recorder         = (*AuditLog)(nil)
	_ audit.Reader           = (*AuditLog)(nil)
	_ events.Publisher       = (*Outbox)(nil)
)

type counterKey struct {
	tenantID string
	dt       numerator.DocumentType
}

type state struct {
	counters  map[counterKey]numerator.Counter
	degraded  []numbering.DegradedAllocation
	items     map[id.ID]stock.Item
	movements []stock.Movement
	quotes    map[id.ID]quote.Quote
	quoteSeq  []id.ID
	invoices  map[id.ID]invoice.Invoice
	invSeq    []id.ID
	outbox    []OutboxMessage
	audit     []auditRow
}

func newState() *state {
	return &state{
		counters: make(map[counterKey]numerator.Counter),
		items:    make(map[id.ID]stock.Item),
		quotes:   make(map[id.ID]quote.Quote),
		invoices: make(map[id.ID]invoice.Invoice),
	}
}

// clone copies the containers. Stored values are never mutated in place, so
// sharing them between snapshots is safe.
func (s *state) clone() *state {
	return &state{
		counters:  maps.Clone(s.counters),
		degraded:  slices.Clone(s.degraded),
		items:     maps.Clone(s.items),
		movements: slices.Clone(s.movements),
		quotes:    maps.Clone(s.quotes),
		quoteSeq:  slices.Clone(s.quoteSeq),
		invoices:  maps.Clone(s.invoices),
		invSeq:    slices.Clone(s.invSeq),
		outbox:    slices.Clone(s.outbox),
		audit:     slices.Clone(s.audit),
	}
}

// Store holds every table of the ledger in memory.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

// Sequences returns the counter table.
func (s *Store) Sequences() *Sequences { return &Sequences{s: s} }

// DegradedLog returns the degraded allocation table.
func (s *Store) DegradedLog() *DegradedLog { return &DegradedLog{s: s} }

// Stock returns the item and movement tables.
func (s *Store) Stock() *StockRepository { return &StockRepository{s: s} }

// Quotes returns the quote table.
func (s *Store) Quotes() *QuoteRepository { return &QuoteRepository{s: s} }

// Invoices returns the invoice table.
func (s *Store) Invoices() *InvoiceRepository { return &InvoiceRepository{s: s} }

// Outbox returns the event outbox.
func (s *Store) Outbox() *Outbox { return &Outbox{s: s} }

// Audit returns the audit log.
func (s *Store) Audit() *AuditLog { return &AuditLog{s: s} }

// txKey marks a context that already holds the store lock.
type txKey struct{ store *Store }

func (s *Store) inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{store: s}).(bool)
	return ok
}

// RunInTransaction runs fn while holding the store lock. Nested calls reuse
// the outer transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(context.WithValue(ctx, txKey{store: s}, true)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// RunSerializable is RunInTransaction: transactions never overlap.
func (s *Store) RunSerializable(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.RunInTransaction(ctx, fn)
}

// read runs fn against the state, taking the lock unless ctx holds it already.
func (s *Store) read(ctx context.Context, fn func(st *state) error) error {
	if s.inTx(ctx) {
		return fn(s.state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

// write is read for mutations. Outside a transaction a failed fn discards its
// changes, like an auto-committed statement.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	return s.RunInTransaction(ctx, func(context.Context) error {
		return fn(s.state)
	})
}

func paginate[T any](list []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(list) {
			return nil
		}
		list = list[offset:]
	}
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}
