package numbering

import (
	"context"
	"time"

	"bizledger/internal/core/id"
	"bizledger/internal/core/numerator"
)

// Allocation is a number handed out by the allocator.
type Allocation struct {
	DocumentType numerator.DocumentType `json:"documentType"`
	Number       int64                  `json:"number"`
	Formatted    string                 `json:"formatted"`

	// Degraded marks a time-derived number issued while the counter store was
	// unavailable. It is recorded for reconciliation and may collide with or
	// precede real sequence numbers.
	Degraded bool `json:"degraded,omitempty"`
}

// Sequence is a counter together with the number its next allocation returns.
type Sequence struct {
	numerator.Counter
	NextFormatted string `json:"nextFormatted"`
}

// UpdateInput changes a counter. Nil fields are left untouched.
type UpdateInput struct {
	NextNumber *int64  `json:"nextNumber,omitempty"`
	Format     *string `json:"format,omitempty"`
	Prefix     *string `json:"prefix,omitempty"`

	// Force allows lowering NextNumber, which can reissue numbers.
	Force bool `json:"force,omitempty"`
}

// DegradedAllocation is the reconciliation record of a degraded number.
type DegradedAllocation struct {
	ID           id.ID                  `db:"id" json:"id"`
	TenantID     string                 `db:"tenant_id" json:"tenantId"`
	DocumentType numerator.DocumentType `db:"document_type" json:"documentType"`
	Number       int64                  `db:"number" json:"number"`
	Formatted    string                 `db:"formatted" json:"formatted"`
	Cause        string                 `db:"cause" json:"cause"`
	CreatedAt    time.Time              `db:"created_at" json:"createdAt"`
	ResolvedAt   *time.Time             `db:"resolved_at" json:"resolvedAt,omitempty"`
	ResolvedBy   *string                `db:"resolved_by" json:"resolvedBy,omitempty"`
}

// DegradedLog persists degraded allocations until an operator resolves them.
type DegradedLog interface {
	Record(ctx context.Context, d DegradedAllocation) error
	List(ctx context.Context, tenantID string, includeResolved bool) ([]DegradedAllocation, error)
	// Resolve marks the record resolved; returns apperror NotFound for unknown ids.
	Resolve(ctx context.Context, tenantID string, recordID id.ID, resolvedBy string, at time.Time) error
}
