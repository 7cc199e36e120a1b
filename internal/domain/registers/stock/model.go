package stock

import (
	"time"

	"bizledger/internal/core/apperror"
	"bizledger/internal/core/entity"
	"bizledger/internal/core/id"
	"bizledger/internal/core/types"
)

// MovementType classifies a MovementLog entry.
type MovementType string

const (
	MovementIn         MovementType = "in"
	MovementOut        MovementType = "out"
	MovementAdjustment MovementType = "adjustment"
	MovementReserve    MovementType = "reserve"
	MovementRelease    MovementType = "release"
)

// ItemStatus is derived from the stock levels, never stored.
type ItemStatus string

const (
	StatusActive     ItemStatus = "active"
	StatusLowStock   ItemStatus = "low_stock"
	StatusOutOfStock ItemStatus = "out_of_stock"
	StatusInactive   ItemStatus = "inactive"
)

// InitialStockReason is the movement reason of the stock an item is created with.
const InitialStockReason = "Erstbestand"

// Item is the live aggregate of one inventory item.
// AvailableStock is a projection of CurrentStock and ReservedStock and is
// recomputed on every read.
type Item struct {
	entity.BaseEntity

	SKU  string `db:"sku" json:"sku,omitempty"`
	Name string `db:"name" json:"name"`
	Unit string `db:"unit" json:"unit,omitempty"`

	CurrentStock  types.Quantity `db:"current_stock" json:"currentStock"`
	ReservedStock types.Quantity `db:"reserved_stock" json:"reservedStock"`
	MinStock      types.Quantity `db:"min_stock" json:"minStock"`

	PurchasePrice types.Money `db:"purchase_price" json:"purchasePrice"`
	SellingPrice  types.Money `db:"selling_price" json:"sellingPrice"`

	Active bool `db:"active" json:"active"`
}

// AvailableStock returns CurrentStock - ReservedStock.
func (i *Item) AvailableStock() types.Quantity {
	return i.CurrentStock - i.ReservedStock
}

// StockValue returns CurrentStock * PurchasePrice.
func (i *Item) StockValue() types.Money {
	return i.PurchasePrice.Mul(i.CurrentStock.Decimal())
}

// IsOutOfStock reports whether nothing is available.
func (i *Item) IsOutOfStock() bool {
	return i.AvailableStock() <= 0
}

// IsLowStock reports whether available stock reached the minimum.
func (i *Item) IsLowStock() bool {
	return i.AvailableStock() <= i.MinStock
}

// Status derives the item status from its levels.
func (i *Item) Status() ItemStatus {
	switch {
	case !i.Active:
		return StatusInactive
	case i.IsOutOfStock():
		return StatusOutOfStock
	case i.IsLowStock():
		return StatusLowStock
	default:
		return StatusActive
	}
}

// checkInvariant enforces 0 <= reserved <= current.
func (i *Item) checkInvariant() error {
	if i.ReservedStock < 0 || i.CurrentStock < 0 || i.ReservedStock > i.CurrentStock {
		return apperror.NewBusinessRule(apperror.CodeBusinessRule, "Stock levels would violate 0 <= reserved <= current").
			WithDetail("item_id", i.ID.String()).
			WithDetail("current", i.CurrentStock.String()).
			WithDetail("reserved", i.ReservedStock.String())
	}
	return nil
}

// Movement is an immutable MovementLog entry.
//
// PreviousStock/NewStock track CurrentStock and PreviousReserved/NewReserved
// track ReservedStock, so the log alone reconstructs both levels. Seq is the
// item version produced by the mutation and orders the entries of one item.
type Movement struct {
	ID       id.ID        `db:"id" json:"id"`
	TenantID string       `db:"tenant_id" json:"tenantId"`
	ItemID   id.ID        `db:"item_id" json:"itemId"`
	Seq      int64        `db:"seq" json:"seq"`
	Type     MovementType `db:"type" json:"type"`

	Quantity         types.Quantity `db:"quantity" json:"quantity"`
	PreviousStock    types.Quantity `db:"previous_stock" json:"previousStock"`
	NewStock         types.Quantity `db:"new_stock" json:"newStock"`
	PreviousReserved types.Quantity `db:"previous_reserved" json:"previousReserved"`
	NewReserved      types.Quantity `db:"new_reserved" json:"newReserved"`

	Reason    string    `db:"reason" json:"reason,omitempty"`
	Reference string    `db:"reference" json:"reference,omitempty"`
	CreatedBy string    `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// StockDelta is the signed change of CurrentStock.
func (m Movement) StockDelta() types.Quantity { return m.NewStock - m.PreviousStock }

// ReservedDelta is the signed change of ReservedStock.
func (m Movement) ReservedDelta() types.Quantity { return m.NewReserved - m.PreviousReserved }

// Line is one (item, quantity) pair of a multi-line operation.
type Line struct {
	ItemID   id.ID          `json:"itemId"`
	Quantity types.Quantity `json:"quantity"`
}

// NewItem is the input of CreateItem.
type NewItem struct {
	SKU           string
	Name          string
	Unit          string
	InitialStock  types.Quantity
	MinStock      types.Quantity
	PurchasePrice types.Money
	SellingPrice  types.Money
}

// DetailsInput updates non-stock fields. Nil fields are left untouched.
type DetailsInput struct {
	Name          *string
	MinStock      *types.Quantity
	PurchasePrice *types.Money
	SellingPrice  *types.Money
	Active        *bool
}

// Stats aggregates the inventory of a tenant.
type Stats struct {
	TotalItems      int         `json:"totalItems"`
	TotalValue      types.Money `json:"totalValue"`
	LowStockItems   int         `json:"lowStockItems"`
	OutOfStockItems int         `json:"outOfStockItems"`
	AverageValue    types.Money `json:"averageValue"`
}

// Reconstruction compares the live aggregate with the MovementLog.
type Reconstruction struct {
	ItemID           id.ID          `json:"itemId"`
	Entries          int            `json:"entries"`
	LoggedCurrent    types.Quantity `json:"loggedCurrent"`
	LoggedReserved   types.Quantity `json:"loggedReserved"`
	LiveCurrent      types.Quantity `json:"liveCurrent"`
	LiveReserved     types.Quantity `json:"liveReserved"`
	BrokenChainAtSeq []int64        `json:"brokenChainAtSeq,omitempty"`
}

// Drifted reports whether the live aggregate differs from the log.
func (r Reconstruction) Drifted() bool {
	return r.LoggedCurrent != r.LiveCurrent || r.LoggedReserved != r.LiveReserved || len(r.BrokenChainAtSeq) > 0
}
