package dto

import (
	"time"

	"bizledger/internal/core/types"
	"bizledger/internal/domain/registers/stock"
)

// --- Request DTOs ---

type CreateItemRequest struct {
	SKU           string         `json:"sku,omitempty"`
	Name          string         `json:"name" binding:"required"`
	Unit          string         `json:"unit,omitempty"`
	InitialStock  types.Quantity `json:"initialStock"`
	MinStock      types.Quantity `json:"minStock"`
	PurchasePrice types.Money    `json:"purchasePrice"`
	SellingPrice  types.Money    `json:"sellingPrice"`
}

func (r *CreateItemRequest) ToInput() stock.NewItem {
	return stock.NewItem{
		SKU:           r.SKU,
		Name:          r.Name,
		Unit:          r.Unit,
		InitialStock:  r.InitialStock,
		MinStock:      r.MinStock,
		PurchasePrice: r.PurchasePrice,
		SellingPrice:  r.SellingPrice,
	}
}

// StockOperationRequest is the body of reserve, release, sell, receive and issue.
type StockOperationRequest struct {
	Quantity  types.Quantity `json:"quantity" binding:"required"`
	Reason    string         `json:"reason,omitempty"`
	Reference string         `json:"reference,omitempty"`
}

// AdjustRequest sets the counted stock.
type AdjustRequest struct {
	NewStock types.Quantity `json:"newStock"`
	Reason   string         `json:"reason" binding:"required"`
}

// DeliveryNoteRequest issues several lines at once.
type DeliveryNoteRequest struct {
	Reference string                 `json:"reference" binding:"required"`
	Lines     []DeliveryNoteLineItem `json:"lines" binding:"required,min=1,dive"`
}

type DeliveryNoteLineItem struct {
	ItemID   string         `json:"itemId" binding:"required"`
	Quantity types.Quantity `json:"quantity" binding:"required"`
}

// --- Response DTOs ---

// ItemResponse carries the live levels together with the derived projections.
type ItemResponse struct {
	ID             string           `json:"id"`
	SKU            string           `json:"sku,omitempty"`
	Name           string           `json:"name"`
	Unit           string           `json:"unit,omitempty"`
	CurrentStock   types.Quantity   `json:"currentStock"`
	ReservedStock  types.Quantity   `json:"reservedStock"`
	AvailableStock types.Quantity   `json:"availableStock"`
	MinStock       types.Quantity   `json:"minStock"`
	PurchasePrice  types.Money      `json:"purchasePrice"`
	SellingPrice   types.Money      `json:"sellingPrice"`
	StockValue     types.Money      `json:"stockValue"`
	Status         stock.ItemStatus `json:"status"`
	Active         bool             `json:"active"`
	Version        int              `json:"version"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// FromItem converts the aggregate to response DTO.
func FromItem(i *stock.Item) ItemResponse {
	return ItemResponse{
		ID:             i.ID.String(),
		SKU:            i.SKU,
		Name:           i.Name,
		Unit:           i.Unit,
		CurrentStock:   i.CurrentStock,
		ReservedStock:  i.ReservedStock,
		AvailableStock: i.AvailableStock(),
		MinStock:       i.MinStock,
		PurchasePrice:  i.PurchasePrice,
		SellingPrice:   i.SellingPrice,
		StockValue:     i.StockValue(),
		Status:         i.Status(),
		Active:         i.Active,
		Version:        i.Version,
		CreatedAt:      i.CreatedAt,
		UpdatedAt:      i.UpdatedAt,
	}
}

// FromItems converts a list of aggregates.
func FromItems(items []stock.Item) []ItemResponse {
	out := make([]ItemResponse, 0, len(items))
	for i := range items {
		out = append(out, FromItem(&items[i]))
	}
	return out
}

// UpdateItemRequest changes non-stock fields. Omitted fields stay unchanged.
type UpdateItemRequest struct {
	Name          *string         `json:"name,omitempty"`
	MinStock      *types.Quantity `json:"minStock,omitempty"`
	PurchasePrice *types.Money    `json:"purchasePrice,omitempty"`
	SellingPrice  *types.Money    `json:"sellingPrice,omitempty"`
	Active        *bool           `json:"active,omitempty"`
}

func (r *UpdateItemRequest) ToInput() stock.DetailsInput {
	return stock.DetailsInput{
		Name:          r.Name,
		MinStock:      r.MinStock,
		PurchasePrice: r.PurchasePrice,
		SellingPrice:  r.SellingPrice,
		Active:        r.Active,
	}
}

// ToLines parses delivery note lines.
func (r *DeliveryNoteRequest) ToLines() ([]stock.Line, error) {
	out := make([]stock.Line, 0, len(r.Lines))
	for _, l := range r.Lines {
		itemID, err := ParseID("itemId", l.ItemID)
		if err != nil {
			return nil, err
		}
		out = append(out, stock.Line{ItemID: itemID, Quantity: l.Quantity})
	}
	return out, nil
}
