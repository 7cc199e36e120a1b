// Package stock implements the stock ledger: per-item current and reserved
// stock with an append-only movement log.
package stock

import (
	"context"

	"bizledger/internal/core/id"
)

// Repository defines persistence of items and the movement log.
type Repository interface {
	// CreateItem inserts a new item.
	CreateItem(ctx context.Context, item *Item) error

	// GetItem returns the item or an apperror NotFound.
	GetItem(ctx context.Context, tenantID string, itemID id.ID) (*Item, error)

	// GetItemForUpdate returns the item with a row lock held until the
	// surrounding transaction ends. Must be called inside a transaction.
	GetItemForUpdate(ctx context.Context, tenantID string, itemID id.ID) (*Item, error)

	// UpdateItem persists the item levels and details.
	UpdateItem(ctx context.Context, item *Item) error

	// ListItems returns items of a tenant ordered by name.
	ListItems(ctx context.Context, tenantID string, filter ItemFilter) ([]Item, error)

	// AppendMovements appends entries to the movement log.
	AppendMovements(ctx context.Context, movements ...Movement) error

	// ListMovements returns entries newest first.
	ListMovements(ctx context.Context, tenantID string, filter MovementFilter) ([]Movement, error)
}

// ItemFilter narrows ListItems.
type ItemFilter struct {
	Search     string
	OnlyActive bool
	LowStock   bool
	OutOfStock bool
	Limit      int
	Offset     int
}

// MovementFilter narrows ListMovements.
type MovementFilter struct {
	ItemID    *id.ID
	Reference string
	Types     []MovementType
	Limit     int
}
