package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"bizledger/internal/domain/documents/quote"
	"bizledger/internal/infrastructure/http/v1/dto"
)

// QuoteHandler handles HTTP requests for quotes.
type QuoteHandler struct {
	*BaseHandler
	service *quote.Service
}

// NewQuoteHandler creates a new quote handler.
func NewQuoteHandler(base *BaseHandler, service *quote.Service) *QuoteHandler {
	return &QuoteHandler{BaseHandler: base, service: service}
}

// RegisterRoutes mounts the quote endpoints.
func (h *QuoteHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.Create)
	rg.GET("", h.List)
	rg.GET("/:id", h.Get)
	rg.POST("/:id/reserve", h.Reserve)
	rg.POST("/:id/transition", h.Transition)
}

// Create handles POST /quotes
func (h *QuoteHandler) Create(c *gin.Context) {
	var req dto.CreateQuoteRequest
	if !h.BindJSON(c, &req) {
		return
	}
	in, err := req.ToInput()
	if err != nil {
		h.Error(c, err)
		return
	}

	q, err := h.service.Create(c.Request.Context(), h.GetTenantID(c), in, h.GetActor(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, q)
}

// List handles GET /quotes
func (h *QuoteHandler) List(c *gin.Context) {
	filter := quote.ListFilter{
		Limit:  h.ParseIntQuery(c, "limit", 50),
		Offset: h.ParseIntQuery(c, "offset", 0),
	}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, quote.Status(strings.TrimSpace(s)))
		}
	}

	quotes, err := h.service.List(c.Request.Context(), h.GetTenantID(c), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(quotes, filter.Limit, filter.Offset))
}

// Get handles GET /quotes/:id
func (h *QuoteHandler) Get(c *gin.Context) {
	quoteID, ok := h.PathID(c)
	if !ok {
		return
	}

	q, err := h.service.Get(c.Request.Context(), h.GetTenantID(c), quoteID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, q)
}

// Reserve handles POST /quotes/:id/reserve
func (h *QuoteHandler) Reserve(c *gin.Context) {
	quoteID, ok := h.PathID(c)
	if !ok {
		return
	}

	q, res, err := h.service.Reserve(c.Request.Context(), h.GetTenantID(c), quoteID, h.GetActor(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, gin.H{"quote": q, "result": res})
}

// Transition handles POST /quotes/:id/transition
func (h *QuoteHandler) Transition(c *gin.Context) {
	quoteID, ok := h.PathID(c)
	if !ok {
		return
	}
	var req dto.QuoteTransitionRequest
	if !h.BindJSON(c, &req) {
		return
	}

	q, err := h.service.Transition(c.Request.Context(), h.GetTenantID(c), quoteID, req.Status, h.GetActor(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, q)
}
