// Package events defines the domain events the ledger emits through the outbox.
package events

import (
	"context"

	"bizledger/internal/core/id"
)

// Event types.
const (
	TypeQuoteReserved        = "quote.reserved"
	TypeQuoteAccepted        = "quote.accepted"
	TypeQuoteClosed          = "quote.closed"
	TypeInvoiceStatusChanged = "invoice.status_changed"
	TypeInvoiceReversed      = "invoice.reversed"
	TypeSequenceDegraded     = "sequence.degraded"
)

// Aggregate types.
const (
	AggregateQuote    = "Quote"
	AggregateInvoice  = "Invoice"
	AggregateSequence = "Sequence"
)

// DomainEvent is an event to be delivered after the surrounding transaction commits.
type DomainEvent struct {
	TenantID      string
	AggregateType string
	AggregateID   id.ID
	EventType     string
	Payload       any
}

// Publisher records events. Implementations must be called inside a
// transaction so that the event commits or rolls back with the state change.
type Publisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, DomainEvent) error { return nil }
