package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"bizledger/internal/domain/documents/invoice"
	"bizledger/internal/infrastructure/http/v1/dto"
)

// InvoiceHandler handles HTTP requests for invoices and storno documents.
type InvoiceHandler struct {
	*BaseHandler
	service *invoice.Service
}

// NewInvoiceHandler creates a new invoice handler.
func NewInvoiceHandler(base *BaseHandler, service *invoice.Service) *InvoiceHandler {
	return &InvoiceHandler{BaseHandler: base, service: service}
}

// RegisterRoutes mounts the invoice endpoints.
func (h *InvoiceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.Create)
	rg.GET("", h.List)
	rg.GET("/:id", h.Get)
	rg.POST("/:id/transition", h.Transition)
	rg.POST("/:id/storno", h.Storno)
}

// Create handles POST /invoices
func (h *InvoiceHandler) Create(c *gin.Context) {
	var req dto.CreateInvoiceRequest
	if !h.BindJSON(c, &req) {
		return
	}
	in, err := req.ToInput()
	if err != nil {
		h.Error(c, err)
		return
	}

	inv, err := h.service.Create(c.Request.Context(), h.GetTenantID(c), in, h.GetActor(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, inv)
}

// List handles GET /invoices
func (h *InvoiceHandler) List(c *gin.Context) {
	filter := invoice.ListFilter{
		OnlyStorno: h.ParseBoolQuery(c, "storno"),
		Limit:      h.ParseIntQuery(c, "limit", 50),
		Offset:     h.ParseIntQuery(c, "offset", 0),
	}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, invoice.Status(strings.TrimSpace(s)))
		}
	}
	if raw := c.Query("quoteId"); raw != "" {
		quoteID, err := dto.ParseID("quoteId", raw)
		if err != nil {
			h.Error(c, err)
			return
		}
		filter.QuoteID = &quoteID
	}

	invoices, err := h.service.List(c.Request.Context(), h.GetTenantID(c), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(invoices, filter.Limit, filter.Offset))
}

// Get handles GET /invoices/:id
func (h *InvoiceHandler) Get(c *gin.Context) {
	invoiceID, ok := h.PathID(c)
	if !ok {
		return
	}

	inv, err := h.service.Get(c.Request.Context(), h.GetTenantID(c), invoiceID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, inv)
}

// Transition handles POST /invoices/:id/transition
func (h *InvoiceHandler) Transition(c *gin.Context) {
	invoiceID, ok := h.PathID(c)
	if !ok {
		return
	}
	var req dto.InvoiceTransitionRequest
	if !h.BindJSON(c, &req) {
		return
	}

	inv, err := h.service.Transition(c.Request.Context(), h.GetTenantID(c), invoiceID, req.Status, h.GetActor(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, inv)
}

// Storno handles POST /invoices/:id/storno
func (h *InvoiceHandler) Storno(c *gin.Context) {
	invoiceID, ok := h.PathID(c)
	if !ok {
		return
	}
	var req dto.StornoRequest
	if !h.BindJSON(c, &req) {
		return
	}

	res, err := h.service.CreateStorno(c.Request.Context(), h.GetTenantID(c), invoiceID, req.Reason, h.GetActor(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, res)
}
