// Package quote implements the quote state machine. A quote is the
// reservation owner: its transitions drive reserve, sell and release of
// its inventory lines.
package quote

import (
	"context"
	"time"

	"bizledger/internal/core/entity"
	"bizledger/internal/core/id"
	"bizledger/internal/core/numerator"
	"bizledger/internal/core/types"
	"bizledger/internal/domain/documents/invoice"
	"bizledger/internal/domain/numbering"
	"bizledger/internal/domain/registers/stock"
	"bizledger/internal/domain/reservation"
)

// Status of a quote.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusDraft: {StatusSent, StatusAccepted, StatusRejected, StatusCancelled},
	StatusSent:  {StatusAccepted, StatusRejected, StatusExpired, StatusCancelled},
}

// IsTerminal reports whether no transition leaves the status.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is valid.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ReservationState tracks the owner's reservation so that lines are reserved
// at most once and resolved at most once.
type ReservationState string

const (
	ReservationNone     ReservationState = "none"
	ReservationPending  ReservationState = "pending"
	ReservationPartial  ReservationState = "partial"
	ReservationReserved ReservationState = "reserved"
	ReservationSold     ReservationState = "sold"
	ReservationReleased ReservationState = "released"
)

// Quote is a numbered offer with inventory lines.
type Quote struct {
	entity.Document

	CustomerName string                `db:"customer_name" json:"customerName,omitempty"`
	Status       Status                `db:"status" json:"status"`
	ValidUntil   time.Time             `db:"valid_until" json:"validUntil"`
	Lines        []entity.DocumentLine `db:"-" json:"lines"`
	Total        types.Money           `db:"total" json:"total"`

	ReservationState ReservationState `db:"reservation_state" json:"reservationState"`
	// ReservedLines are the lines currently reserved for this quote. Release and
	// sell act on these, never on more than the quote itself reserved.
	ReservedLines []stock.Line `db:"-" json:"reservedLines,omitempty"`

	InvoiceID     *id.ID     `db:"invoice_id" json:"invoiceId,omitempty"`
	InvoiceNumber string     `db:"invoice_number" json:"invoiceNumber,omitempty"`
	ClosedAt      *time.Time `db:"closed_at" json:"closedAt,omitempty"`
}

// StockLines converts the document lines into ledger lines.
func (q *Quote) StockLines() []stock.Line {
	out := make([]stock.Line, 0, len(q.Lines))
	for _, l := range q.Lines {
		out = append(out, stock.Line{ItemID: l.ItemID, Quantity: l.Quantity})
	}
	return out
}

// UnreservedLines returns the part of the lines not covered by ReservedLines.
func (q *Quote) UnreservedLines() []stock.Line {
	reserved := make(map[id.ID]types.Quantity, len(q.ReservedLines))
	for _, l := range q.ReservedLines {
		reserved[l.ItemID] += l.Quantity
	}
	var out []stock.Line
	for _, l := range q.StockLines() {
		covered := types.MinQuantity(reserved[l.ItemID], l.Quantity)
		reserved[l.ItemID] -= covered
		if rest := l.Quantity - covered; rest.IsPositive() {
			out = append(out, stock.Line{ItemID: l.ItemID, Quantity: rest})
		}
	}
	return out
}

// CreateInput is the input of Create.
type CreateInput struct {
	CustomerName string
	ValidUntil   *time.Time
	Lines        []entity.DocumentLine
	Comment      string
	// Reserve reserves the lines right after creation.
	Reserve bool
}

// ListFilter narrows List.
type ListFilter struct {
	Statuses          []Status
	ReservationStates []ReservationState
	ValidBefore       *time.Time
	UpdatedBefore     *time.Time
	Limit             int
	Offset            int
}

// Repository persists quotes with their lines and reserved lines.
type Repository interface {
	Create(ctx context.Context, q *Quote) error
	Get(ctx context.Context, tenantID string, quoteID id.ID) (*Quote, error)
	// GetForUpdate locks the quote row until the transaction ends.
	GetForUpdate(ctx context.Context, tenantID string, quoteID id.ID) (*Quote, error)
	Update(ctx context.Context, q *Quote) error
	List(ctx context.Context, tenantID string, filter ListFilter) ([]Quote, error)
}

// NumberAllocator hands out document numbers.
type NumberAllocator interface {
	NextNumber(ctx context.Context, tenantID string, dt numerator.DocumentType) (numbering.Allocation, error)
}

// Reservations is the reservation coordinator as seen by the quote lifecycle.
type Reservations interface {
	ReserveForOwner(ctx context.Context, tenantID, ownerID string, lines []stock.Line) (reservation.Result, error)
	ReleaseForOwner(ctx context.Context, tenantID, ownerID string, lines []stock.Line) (reservation.Result, error)
	SellForOwner(ctx context.Context, tenantID, ownerID string, lines []stock.Line) (reservation.Result, error)
	ReservedForOwner(ctx context.Context, tenantID, ownerID string) ([]stock.Line, error)
}

// InvoiceIssuer creates the invoice of an accepted quote.
type InvoiceIssuer interface {
	CreateFromQuote(ctx context.Context, tenantID string, in invoice.FromQuote, actor string) (*invoice.Invoice, error)
}
