package document_repo

import (
	"context"

	"github.com/Masterminds/squirrel"

	"bizledger/internal/core/id"
	"bizledger/internal/domain/documents/quote"
	"bizledger/internal/infrastructure/storage/postgres"
)

const quotesTable = "doc_quotes"

type quoteRow struct {
	quote.Quote
	LinesJSON         []byte `db:"lines"`
	ReservedLinesJSON []byte `db:"reserved_lines"`
}

func newQuoteRow(q *quote.Quote) (*quoteRow, error) {
	lines, err := marshalLines(q.Lines)
	if err != nil {
		return nil, err
	}
	reserved, err := marshalLines(q.ReservedLines)
	if err != nil {
		return nil, err
	}
	return &quoteRow{Quote: *q, LinesJSON: lines, ReservedLinesJSON: reserved}, nil
}

func (r *quoteRow) toDomain() (*quote.Quote, error) {
	q := r.Quote
	if err := unmarshalLines(r.LinesJSON, &q.Lines); err != nil {
		return nil, err
	}
	if err := unmarshalLines(r.ReservedLinesJSON, &q.ReservedLines); err != nil {
		return nil, err
	}
	return &q, nil
}

// QuoteRepo implements quote.Repository.
type QuoteRepo struct {
	*BaseDocumentRepo[quoteRow]
}

var _ quote.Repository = (*QuoteRepo)(nil)

// NewQuoteRepo creates a new quote repository.
func NewQuoteRepo(txManager *postgres.TxManager) *QuoteRepo {
	return &QuoteRepo{
		BaseDocumentRepo: NewBaseDocumentRepo[quoteRow](txManager, quotesTable, "Quote"),
	}
}

// Create implements quote.Repository.
func (r *QuoteRepo) Create(ctx context.Context, q *quote.Quote) error {
	row, err := newQuoteRow(q)
	if err != nil {
		return err
	}
	return r.Insert(ctx, row)
}

// Get implements quote.Repository.
func (r *QuoteRepo) Get(ctx context.Context, tenantID string, quoteID id.ID) (*quote.Quote, error) {
	row, err := r.BaseDocumentRepo.Get(ctx, tenantID, quoteID, false)
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

// GetForUpdate implements quote.Repository.
func (r *QuoteRepo) GetForUpdate(ctx context.Context, tenantID string, quoteID id.ID) (*quote.Quote, error) {
	row, err := r.BaseDocumentRepo.Get(ctx, tenantID, quoteID, true)
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

// Update implements quote.Repository.
func (r *QuoteRepo) Update(ctx context.Context, q *quote.Quote) error {
	row, err := newQuoteRow(q)
	if err != nil {
		return err
	}
	return r.BaseDocumentRepo.Update(ctx, row)
}

// List implements quote.Repository. Newest quotes come first.
func (r *QuoteRepo) List(ctx context.Context, tenantID string, filter quote.ListFilter) ([]quote.Quote, error) {
	q := r.SelectBuilder(tenantID)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where(squirrel.Eq{"status": statuses})
	}
	if filter.ValidBefore != nil {
		q = q.Where(squirrel.Lt{"valid_until": *filter.ValidBefore})
	}
	if len(filter.ReservationStates) > 0 {
		states := make([]string, len(filter.ReservationStates))
		for i, rs := range filter.ReservationStates {
			states[i] = string(rs)
		}
		q = q.Where(squirrel.Eq{"reservation_state": states})
	}
	if filter.UpdatedBefore != nil {
		q = q.Where(squirrel.Lt{"updated_at": *filter.UpdatedBefore})
	}
	q = Paginate(q.OrderBy("created_at DESC", "id DESC"), filter.Limit, filter.Offset)

	rows, err := r.Select(ctx, q)
	if err != nil {
		return nil, err
	}

	out := make([]quote.Quote, 0, len(rows))
	for i := range rows {
		qt, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *qt)
	}
	return out, nil
}
