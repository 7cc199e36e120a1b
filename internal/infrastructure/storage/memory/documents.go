package memory

import (
	"context"
	"slices"

	"bizledger/internal/core/apperror"
	"bizledger/internal/core/id"
	"bizledger/internal/domain/documents/invoice"
	"bizledger/internal/domain/documents/quote"
)

func cloneQuote(q quote.Quote) quote.Quote {
	q.Lines = slices.Clone(q.Lines)
	q.ReservedLines = slices.Clone(q.ReservedLines)
	return q
}

func cloneInvoice(inv invoice.Invoice) invoice.Invoice {
	inv.Lines = slices.Clone(inv.Lines)
	return inv
}

// QuoteRepository is the in-memory quote.Repository.
type QuoteRepository struct{ s *Store }

// Create implements quote.Repository.
func (r *QuoteRepository) Create(ctx context.Context, q *quote.Quote) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.quotes[q.ID]; ok {
			return apperror.NewConflict("quote already exists").WithDetail("id", q.ID)
		}
		st.quotes[q.ID] = cloneQuote(*q)
		st.quoteSeq = append(st.quoteSeq, q.ID)
		return nil
	})
}

// Get implements quote.Repository.
func (r *QuoteRepository) Get(ctx context.Context, tenantID string, quoteID id.ID) (*quote.Quote, error) {
	var out *quote.Quote
	err := r.s.read(ctx, func(st *state) error {
		q, ok := st.quotes[quoteID]
		if !ok || q.TenantID != tenantID {
			return apperror.NewNotFound("Quote", quoteID)
		}
		q = cloneQuote(q)
		out = &q
		return nil
	})
	return out, err
}

// GetForUpdate implements quote.Repository.
func (r *QuoteRepository) GetForUpdate(ctx context.Context, tenantID string, quoteID id.ID) (*quote.Quote, error) {
	return r.Get(ctx, tenantID, quoteID)
}

// Update implements quote.Repository.
func (r *QuoteRepository) Update(ctx context.Context, q *quote.Quote) error {
	return r.s.write(ctx, func(st *state) error {
		cur, ok := st.quotes[q.ID]
		if !ok || cur.TenantID != q.TenantID {
			return apperror.NewNotFound("Quote", q.ID)
		}
		st.quotes[q.ID] = cloneQuote(*q)
		return nil
	})
}

// List implements quote.Repository.
func (r *QuoteRepository) List(ctx context.Context, tenantID string, filter quote.ListFilter) ([]quote.Quote, error) {
	var out []quote.Quote
	err := r.s.read(ctx, func(st *state) error {
		for i := len(st.quoteSeq) - 1; i >= 0; i-- {
			q := st.quotes[st.quoteSeq[i]]
			if q.TenantID != tenantID {
				continue
			}
			if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, q.Status) {
				continue
			}
			if filter.ValidBefore != nil && !q.ValidUntil.Before(*filter.ValidBefore) {
				continue
			}
			if len(filter.ReservationStates) > 0 && !slices.Contains(filter.ReservationStates, q.ReservationState) {
				continue
			}
			if filter.UpdatedBefore != nil && !q.UpdatedAt.Before(*filter.UpdatedBefore) {
				continue
			}
			out = append(out, cloneQuote(q))
		}
		return nil
	})
	return paginate(out, filter.Limit, filter.Offset), err
}

// InvoiceRepository is the in-memory invoice.Repository.
type InvoiceRepository struct{ s *Store }

// Create implements invoice.Repository.
func (r *InvoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.invoices[inv.ID]; ok {
			return apperror.NewConflict("invoice already exists").WithDetail("id", inv.ID)
		}
		st.invoices[inv.ID] = cloneInvoice(*inv)
		st.invSeq = append(st.invSeq, inv.ID)
		return nil
	})
}

// Get implements invoice.Repository.
func (r *InvoiceRepository) Get(ctx context.Context, tenantID string, invoiceID id.ID) (*invoice.Invoice, error) {
	var out *invoice.Invoice
	err := r.s.read(ctx, func(st *state) error {
		inv, ok := st.invoices[invoiceID]
		if !ok || inv.TenantID != tenantID {
			return apperror.NewNotFound("Invoice", invoiceID)
		}
		inv = cloneInvoice(inv)
		out = &inv
		return nil
	})
	return out, err
}

// GetForUpdate implements invoice.Repository.
func (r *InvoiceRepository) GetForUpdate(ctx context.Context, tenantID string, invoiceID id.ID) (*invoice.Invoice, error) {
	return r.Get(ctx, tenantID, invoiceID)
}

// Update implements invoice.Repository.
func (r *InvoiceRepository) Update(ctx context.Context, inv *invoice.Invoice) error {
	return r.s.write(ctx, func(st *state) error {
		cur, ok := st.invoices[inv.ID]
		if !ok || cur.TenantID != inv.TenantID {
			return apperror.NewNotFound("Invoice", inv.ID)
		}
		st.invoices[inv.ID] = cloneInvoice(*inv)
		return nil
	})
}

// List implements invoice.Repository.
func (r *InvoiceRepository) List(ctx context.Context, tenantID string, filter invoice.ListFilter) ([]invoice.Invoice, error) {
	var out []invoice.Invoice
	err := r.s.read(ctx, func(st *state) error {
		for i := len(st.invSeq) - 1; i >= 0; i-- {
			inv := st.invoices[st.invSeq[i]]
			if inv.TenantID != tenantID {
				continue
			}
			if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, inv.Status) {
				continue
			}
			if filter.QuoteID != nil && (inv.QuoteID == nil || *inv.QuoteID != *filter.QuoteID) {
				continue
			}
			if filter.OriginalInvoiceID != nil &&
				(inv.OriginalInvoiceID == nil || *inv.OriginalInvoiceID != *filter.OriginalInvoiceID) {
				continue
			}
			if filter.OnlyStorno && !inv.IsStorno {
				continue
			}
			out = append(out, cloneInvoice(inv))
		}
		return nil
	})
	return paginate(out, filter.Limit, filter.Offset), err
}
