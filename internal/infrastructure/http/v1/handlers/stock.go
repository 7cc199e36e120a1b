package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"bizledger/internal/core/id"
	"bizledger/internal/core/types"
	"bizledger/internal/domain/registers/stock"
	"bizledger/internal/infrastructure/http/v1/dto"
)

// StockHandler handles HTTP requests for the stock ledger.
type StockHandler struct {
	*BaseHandler
	service *stock.Service
}

// NewStockHandler creates a new stock handler.
func NewStockHandler(base *BaseHandler, service *stock.Service) *StockHandler {
	return &StockHandler{
		BaseHandler: base,
		service:     service,
	}
}

// RegisterRoutes mounts the inventory endpoints.
func (h *StockHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.Create)
	rg.GET("", h.List)
	rg.GET("/stats", h.Stats)
	rg.POST("/delivery-notes", h.DeliveryNote)
	rg.GET("/:id", h.Get)
	rg.PATCH("/:id", h.Update)
	rg.POST("/:id/reserve", h.operation(h.service.Reserve))
	rg.POST("/:id/release", h.operation(h.service.Release))
	rg.POST("/:id/sell", h.operation(h.service.Sell))
	rg.POST("/:id/receive", h.operation(h.service.Receive))
	rg.POST("/:id/issue", h.operation(h.service.Issue))
	rg.POST("/:id/adjust", h.Adjust)
	rg.GET("/:id/movements", h.Movements)
	rg.GET("/:id/reconstruct", h.Reconstruct)
}

// Create handles POST /inventory
func (h *StockHandler) Create(c *gin.Context) {
	var req dto.CreateItemRequest
	if !h.BindJSON(c, &req) {
		return
	}

	item, err := h.service.CreateItem(c.Request.Context(), h.GetTenantID(c), req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromItem(item))
}

// List handles GET /inventory
func (h *StockHandler) List(c *gin.Context) {
	filter := stock.ItemFilter{
		Search:     c.Query("search"),
		OnlyActive: h.ParseBoolQuery(c, "active"),
		LowStock:   h.ParseBoolQuery(c, "lowStock"),
		OutOfStock: h.ParseBoolQuery(c, "outOfStock"),
		Limit:      h.ParseIntQuery(c, "limit", 50),
		Offset:     h.ParseIntQuery(c, "offset", 0),
	}

	items, err := h.service.ListItems(c.Request.Context(), h.GetTenantID(c), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(dto.FromItems(items), filter.Limit, filter.Offset))
}

// Stats handles GET /inventory/stats
func (h *StockHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context(), h.GetTenantID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, stats)
}

// Get handles GET /inventory/:id
func (h *StockHandler) Get(c *gin.Context) {
	itemID, ok := h.PathID(c)
	if !ok {
		return
	}

	item, err := h.service.GetItem(c.Request.Context(), h.GetTenantID(c), itemID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromItem(item))
}

// Update handles PATCH /inventory/:id
func (h *StockHandler) Update(c *gin.Context) {
	itemID, ok := h.PathID(c)
	if !ok {
		return
	}
	var req dto.UpdateItemRequest
	if !h.BindJSON(c, &req) {
		return
	}

	item, err := h.service.UpdateDetails(c.Request.Context(), h.GetTenantID(c), itemID, req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromItem(item))
}

type stockOperation func(ctx context.Context, tenantID string, itemID id.ID, qty types.Quantity, reason, reference string) (*stock.Item, error)

// operation adapts a single-item ledger operation to a handler.
func (h *StockHandler) operation(op stockOperation) gin.HandlerFunc {
	return func(c *gin.Context) {
		itemID, ok := h.PathID(c)
		if !ok {
			return
		}
		var req dto.StockOperationRequest
		if !h.BindJSON(c, &req) {
			return
		}

		item, err := op(c.Request.Context(), h.GetTenantID(c), itemID, req.Quantity, req.Reason, req.Reference)
		if err != nil {
			h.Error(c, err)
			return
		}
		h.OK(c, dto.FromItem(item))
	}
}

// Adjust handles POST /inventory/:id/adjust
func (h *StockHandler) Adjust(c *gin.Context) {
	itemID, ok := h.PathID(c)
	if !ok {
		return
	}
	var req dto.AdjustRequest
	if !h.BindJSON(c, &req) {
		return
	}

	item, err := h.service.Adjust(c.Request.Context(), h.GetTenantID(c), itemID, req.NewStock, req.Reason)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromItem(item))
}

// DeliveryNote handles POST /inventory/delivery-notes
func (h *StockHandler) DeliveryNote(c *gin.Context) {
	var req dto.DeliveryNoteRequest
	if !h.BindJSON(c, &req) {
		return
	}
	lines, err := req.ToLines()
	if err != nil {
		h.Error(c, err)
		return
	}

	items, err := h.service.DeductForDeliveryNote(c.Request.Context(), h.GetTenantID(c), req.Reference, lines)
	if err != nil {
		h.Error(c, err)
		return
	}
	out := make([]dto.ItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, dto.FromItem(it))
	}
	h.OK(c, dto.NewListResponse(out, 0, 0))
}

// Movements handles GET /inventory/:id/movements
func (h *StockHandler) Movements(c *gin.Context) {
	itemID, ok := h.PathID(c)
	if !ok {
		return
	}

	filter := stock.MovementFilter{
		ItemID:    &itemID,
		Reference: c.Query("reference"),
		Limit:     h.ParseIntQuery(c, "limit", 100),
	}
	if raw := c.Query("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			filter.Types = append(filter.Types, stock.MovementType(strings.TrimSpace(t)))
		}
	}

	movements, err := h.service.Movements(c.Request.Context(), h.GetTenantID(c), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(movements, filter.Limit, 0))
}

// Reconstruct handles GET /inventory/:id/reconstruct
func (h *StockHandler) Reconstruct(c *gin.Context) {
	itemID, ok := h.PathID(c)
	if !ok {
		return
	}

	rec, err := h.service.Reconstruct(c.Request.Context(), h.GetTenantID(c), itemID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, gin.H{"reconstruction": rec, "drifted": rec.Drifted()})
}
