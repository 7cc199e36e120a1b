// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"fmt"

	"bizledger/internal/core/apperror"
	"bizledger/internal/core/entity"
	"bizledger/internal/core/id"
	"bizledger/internal/core/types"
)

// ListResponse wraps list results with paging parameters.
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// NewListResponse never renders a null item list.
func NewListResponse[T any](items []T, limit, offset int) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Limit: limit, Offset: offset}
}

// SuccessResponse is a generic success response.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// LineRequest is one document line.
type LineRequest struct {
	ItemID      string         `json:"itemId" binding:"required"`
	Description string         `json:"description,omitempty"`
	Quantity    types.Quantity `json:"quantity" binding:"required"`
	UnitPrice   types.Money    `json:"unitPrice"`
}

// ToLines parses request lines into document lines numbered from 1.
func ToLines(in []LineRequest) ([]entity.DocumentLine, error) {
	out := make([]entity.DocumentLine, 0, len(in))
	for i, l := range in {
		itemID, err := id.Parse(l.ItemID)
		if err != nil {
			return nil, apperror.NewValidation("invalid item id").
				WithDetail("line", i+1).
				WithDetail("value", l.ItemID)
		}
		out = append(out, entity.DocumentLine{
			LineNo:      i + 1,
			ItemID:      itemID,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		})
	}
	return out, nil
}

// ParseID parses an id path or body value.
func ParseID(field, raw string) (id.ID, error) {
	v, err := id.Parse(raw)
	if err != nil {
		return id.Nil(), apperror.NewValidation(fmt.Sprintf("invalid %s", field)).
			WithDetail("field", field).
			WithDetail("value", raw)
	}
	return v, nil
}
