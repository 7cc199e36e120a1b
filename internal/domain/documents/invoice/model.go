// Package invoice implements the invoice state machine and storno pairing.
package invoice

import (
	"context"
	"time"

	"bizledger/internal/core/entity"
	"bizledger/internal/core/id"
	"bizledger/internal/core/numerator"
	"bizledger/internal/core/types"
	"bizledger/internal/domain/numbering"
)

// Status of an invoice.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
	StatusStorno    Status = "storno"
)

// transitions lists the statuses reachable through Transition. Issued
// invoices are cancelled only through CreateStorno.
var transitions = map[Status][]Status{
	StatusDraft:   {StatusSent, StatusCancelled},
	StatusSent:    {StatusPaid, StatusOverdue},
	StatusOverdue: {StatusPaid},
}

// CanTransition reports whether from -> to is a valid Transition.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Reversible reports whether an invoice in this status can be stornoed.
func (s Status) Reversible() bool {
	switch s {
	case StatusDraft, StatusSent, StatusPaid, StatusOverdue:
		return true
	}
	return false
}

// Invoice is an invoice or a storno document.
type Invoice struct {
	entity.Document

	CustomerName string                `db:"customer_name" json:"customerName,omitempty"`
	Status       Status                `db:"status" json:"status"`
	DueDate      *time.Time            `db:"due_date" json:"dueDate,omitempty"`
	Lines        []entity.DocumentLine `db:"-" json:"lines"`
	Total        types.Money           `db:"total" json:"total"`
	PaidAt       *time.Time            `db:"paid_at" json:"paidAt,omitempty"`

	// QuoteID links an invoice created by accepting a quote.
	QuoteID *id.ID `db:"quote_id" json:"quoteId,omitempty"`

	IsStorno          bool       `db:"is_storno" json:"isStorno"`
	OriginalInvoiceID *id.ID     `db:"original_invoice_id" json:"originalInvoiceId,omitempty"`
	StornoInvoiceID   *id.ID     `db:"storno_invoice_id" json:"stornoInvoiceId,omitempty"`
	StornoReason      string     `db:"storno_reason" json:"stornoReason,omitempty"`
	StornoBy          string     `db:"storno_by" json:"stornoBy,omitempty"`
	StornoDate        *time.Time `db:"storno_date" json:"stornoDate,omitempty"`
}

// CreateInput is the input of Create.
type CreateInput struct {
	CustomerName string
	DueDate      *time.Time
	Lines        []entity.DocumentLine
	Comment      string
}

// FromQuote is the input of CreateFromQuote.
type FromQuote struct {
	QuoteID      id.ID
	QuoteNumber  string
	CustomerName string
	Lines        []entity.DocumentLine
}

// ListFilter narrows List.
type ListFilter struct {
	Statuses          []Status
	QuoteID           *id.ID
	OriginalInvoiceID *id.ID
	OnlyStorno        bool
	Limit             int
	Offset            int
}

// Repository persists invoices together with their lines.
type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, tenantID string, invoiceID id.ID) (*Invoice, error)
	// GetForUpdate locks the invoice row until the transaction ends.
	GetForUpdate(ctx context.Context, tenantID string, invoiceID id.ID) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	List(ctx context.Context, tenantID string, filter ListFilter) ([]Invoice, error)
}

// NumberAllocator hands out document numbers.
type NumberAllocator interface {
	NextNumber(ctx context.Context, tenantID string, dt numerator.DocumentType) (numbering.Allocation, error)
}
