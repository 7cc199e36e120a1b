package document_repo

import (
	"context"

	"github.com/Masterminds/squirrel"

	"bizledger/internal/core/id"
	"bizledger/internal/domain/documents/invoice"
	"bizledger/internal/infrastructure/storage/postgres"
)

const invoicesTable = "doc_invoices"

type invoiceRow struct {
	invoice.Invoice
	LinesJSON []byte `db:"lines"`
}

func newInvoiceRow(inv *invoice.Invoice) (*invoiceRow, error) {
	lines, err := marshalLines(inv.Lines)
	if err != nil {
		return nil, err
	}
	return &invoiceRow{Invoice: *inv, LinesJSON: lines}, nil
}

func (r *invoiceRow) toDomain() (*invoice.Invoice, error) {
	inv := r.Invoice
	if err := unmarshalLines(r.LinesJSON, &inv.Lines); err != nil {
		return nil, err
	}
	return &inv, nil
}

// InvoiceRepo implements invoice.Repository.
type InvoiceRepo struct {
	*BaseDocumentRepo[invoiceRow]
}

var _ invoice.Repository = (*InvoiceRepo)(nil)

// NewInvoiceRepo creates a new invoice repository.
func NewInvoiceRepo(txManager *postgres.TxManager) *InvoiceRepo {
	return &InvoiceRepo{
		BaseDocumentRepo: NewBaseDocumentRepo[invoiceRow](txManager, invoicesTable, "Invoice"),
	}
}

// Create implements invoice.Repository.
func (r *InvoiceRepo) Create(ctx context.Context, inv *invoice.Invoice) error {
	row, err := newInvoiceRow(inv)
	if err != nil {
		return err
	}
	return r.Insert(ctx, row)
}

// Get implements invoice.Repository.
func (r *InvoiceRepo) Get(ctx context.Context, tenantID string, invoiceID id.ID) (*invoice.Invoice, error) {
	row, err := r.BaseDocumentRepo.Get(ctx, tenantID, invoiceID, false)
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

// GetForUpdate implements invoice.Repository.
func (r *InvoiceRepo) GetForUpdate(ctx context.Context, tenantID string, invoiceID id.ID) (*invoice.Invoice, error) {
	row, err := r.BaseDocumentRepo.Get(ctx, tenantID, invoiceID, true)
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

// Update implements invoice.Repository.
func (r *InvoiceRepo) Update(ctx context.Context, inv *invoice.Invoice) error {
	row, err := newInvoiceRow(inv)
	if err != nil {
		return err
	}
	return r.BaseDocumentRepo.Update(ctx, row)
}

// List implements invoice.Repository. Newest invoices come first.
func (r *InvoiceRepo) List(ctx context.Context, tenantID string, filter invoice.ListFilter) ([]invoice.Invoice, error) {
	q := r.SelectBuilder(tenantID)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where(squirrel.Eq{"status": statuses})
	}
	if filter.QuoteID != nil {
		q = q.Where(squirrel.Eq{"quote_id": *filter.QuoteID})
	}
	if filter.OriginalInvoiceID != nil {
		q = q.Where(squirrel.Eq{"original_invoice_id": *filter.OriginalInvoiceID})
	}
	if filter.OnlyStorno {
		q = q.Where(squirrel.Eq{"is_storno": true})
	}
	q = Paginate(q.OrderBy("created_at DESC", "id DESC"), filter.Limit, filter.Offset)

	rows, err := r.Select(ctx, q)
	if err != nil {
		return nil, err
	}

	out := make([]invoice.Invoice, 0, len(rows))
	for i := range rows {
		inv, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, nil
}
