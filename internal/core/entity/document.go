package entity

import (
	"context"
	"time"

	"bizledger/internal/core/apperror"
	"bizledger/internal/core/id"
	"bizledger/internal/core/types"
)

// Document is the base type for numbered business documents (quotes, invoices).
type Document struct {
	BaseEntity

	// Number is the formatted document number assigned once by the allocator.
	Number string `db:"number" json:"number"`

	// NumberDegraded marks a time-derived number awaiting reconciliation.
	NumberDegraded bool `db:"number_degraded" json:"numberDegraded,omitempty"`

	// Date is the business date of the document
	Date time.Time `db:"date" json:"date"`

	CreatedBy string `db:"created_by" json:"createdBy,omitempty"`
	UpdatedBy string `db:"updated_by" json:"updatedBy,omitempty"`

	Comment string `db:"comment" json:"comment,omitempty"`
}

// NewDocument creates a new Document for the tenant.
func NewDocument(tenantID, actor string) Document {
	return Document{
		BaseEntity: NewBaseEntity(tenantID),
		Date:       time.Now().UTC(),
		CreatedBy:  actor,
		UpdatedBy:  actor,
	}
}

// Validate implements Validatable interface.
func (d *Document) Validate(ctx context.Context) error {
	if d.TenantID == "" {
		return apperror.NewValidation("tenant is required").
			WithDetail("field", "tenantId")
	}
	if d.Date.IsZero() {
		return apperror.NewValidation("date is required").
			WithDetail("field", "date")
	}
	return nil
}

// DocumentLine is one inventory line of a quote or invoice.
type DocumentLine struct {
	LineNo      int            `db:"line_no" json:"lineNo"`
	ItemID      id.ID          `db:"item_id" json:"itemId"`
	Description string         `db:"description" json:"description,omitempty"`
	Quantity    types.Quantity `db:"quantity" json:"quantity"`
	UnitPrice   types.Money    `db:"unit_price" json:"unitPrice"`
}

// Amount returns quantity * unit price.
func (l DocumentLine) Amount() types.Money {
	return l.UnitPrice.Mul(l.Quantity.Decimal())
}

// ValidateLines checks that every line references an item with a positive quantity.
func ValidateLines(lines []DocumentLine) error {
	for i, l := range lines {
		if id.IsNil(l.ItemID) {
			return apperror.NewValidation("line item is required").
				WithDetail("line", i+1)
		}
		if !l.Quantity.IsPositive() {
			return apperror.NewValidation("line quantity must be positive").
				WithDetail("line", i+1)
		}
	}
	return nil
}

// TotalAmount sums line amounts.
func TotalAmount(lines []DocumentLine) types.Money {
	total := types.Zero()
	for _, l := range lines {
		total = total.Add(l.Amount())
	}
	return total
}
