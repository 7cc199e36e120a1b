// Package numerator provides domain contracts for document auto-numbering.
// Implementations live in infrastructure layer.
package numerator

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrConflict marks a retryable failure: a concurrent writer touched the
	// same counter and the atomic read-modify-write did not commit.
	ErrConflict = errors.New("numerator: concurrent counter update")

	// ErrCounterNotFound is returned by Get for an unknown key.
	ErrCounterNotFound = errors.New("numerator: counter not found")
)

// Counter is the durable state of one (tenant, document type) sequence.
type Counter struct {
	TenantID     string       `db:"tenant_id" json:"tenantId"`
	DocumentType DocumentType `db:"document_type" json:"documentType"`
	NextNumber   int64        `db:"next_number" json:"nextNumber"`
	Format       string       `db:"format" json:"format"`
	Prefix       string       `db:"prefix" json:"prefix,omitempty"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updatedAt"`
}

// Preview renders the number the next allocation will return.
func (c Counter) Preview() string {
	return Format(c.NextNumber, c.Format, c.Prefix)
}

// Taken is the result of a single atomic allocation.
type Taken struct {
	Number int64
	Format string
	Prefix string
}

// Store is the durable SequenceStore.
//
// Every method addresses a counter by its deterministic key; no method looks a
// counter up by an open-ended query.
type Store interface {
	// Take returns the counter's current NextNumber and advances it by one as a
	// single atomic operation. An absent counter is created from seed in the
	// same operation. Retryable conflicts are reported as ErrConflict.
	Take(ctx context.Context, tenantID string, dt DocumentType, seed Config) (Taken, error)

	// Get returns the counter or ErrCounterNotFound.
	Get(ctx context.Context, tenantID string, dt DocumentType) (Counter, error)

	// List returns all counters of a tenant ordered by document type.
	List(ctx context.Context, tenantID string) ([]Counter, error)

	// Ensure creates the counter from cfg if it does not exist yet.
	Ensure(ctx context.Context, tenantID string, dt DocumentType, cfg Config) (created bool, err error)

	// Set overwrites Format and Prefix of the counter, creating it when absent.
	// NextNumber only moves forward unless allowLower is set, so a concurrent
	// allocation between read and write can never be reissued by accident.
	Set(ctx context.Context, c Counter, allowLower bool) error
}
