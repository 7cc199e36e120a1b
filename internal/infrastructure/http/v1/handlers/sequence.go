package handlers

import (
	"github.com/gin-gonic/gin"

	"bizledger/internal/core/numerator"
	"bizledger/internal/domain/numbering"
	"bizledger/internal/infrastructure/http/v1/dto"
)

// SequenceHandler exposes the document number allocator.
type SequenceHandler struct {
	*BaseHandler
	service *numbering.Service
}

// NewSequenceHandler creates a new sequence handler.
func NewSequenceHandler(base *BaseHandler, service *numbering.Service) *SequenceHandler {
	return &SequenceHandler{BaseHandler: base, service: service}
}

// RegisterRoutes mounts the sequence endpoints.
func (h *SequenceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("/provision", h.Provision)
	rg.GET("/degraded", h.ListDegraded)
	rg.POST("/degraded/:id/resolve", h.ResolveDegraded)
	rg.GET("/:type", h.Get)
	rg.PUT("/:type", h.Update)
	rg.POST("/:type/next", h.Next)
}

func docType(c *gin.Context) numerator.DocumentType {
	return numerator.DocumentType(c.Param("type"))
}

// Next handles POST /sequences/:type/next
func (h *SequenceHandler) Next(c *gin.Context) {
	alloc, err := h.service.NextNumber(c.Request.Context(), h.GetTenantID(c), docType(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, alloc)
}

// List handles GET /sequences
func (h *SequenceHandler) List(c *gin.Context) {
	seqs, err := h.service.ListSequences(c.Request.Context(), h.GetTenantID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(seqs, 0, 0))
}

// Get handles GET /sequences/:type
func (h *SequenceHandler) Get(c *gin.Context) {
	seq, err := h.service.GetSequence(c.Request.Context(), h.GetTenantID(c), docType(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, seq)
}

// Update handles PUT /sequences/:type
func (h *SequenceHandler) Update(c *gin.Context) {
	var req dto.UpdateSequenceRequest
	if !h.BindJSON(c, &req) {
		return
	}

	seq, err := h.service.UpdateSequence(c.Request.Context(), h.GetTenantID(c), docType(c), req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, seq)
}

// Provision handles POST /sequences/provision
func (h *SequenceHandler) Provision(c *gin.Context) {
	created, err := h.service.ProvisionDefaults(c.Request.Context(), h.GetTenantID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	if created == nil {
		created = []numerator.DocumentType{}
	}
	h.OK(c, dto.ProvisionResponse{Created: created})
}

// ListDegraded handles GET /sequences/degraded
func (h *SequenceHandler) ListDegraded(c *gin.Context) {
	records, err := h.service.ListDegraded(c.Request.Context(), h.GetTenantID(c), h.ParseBoolQuery(c, "includeResolved"))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(records, 0, 0))
}

// ResolveDegraded handles POST /sequences/degraded/:id/resolve
func (h *SequenceHandler) ResolveDegraded(c *gin.Context) {
	recordID, ok := h.PathID(c)
	if !ok {
		return
	}

	if err := h.service.ResolveDegraded(c.Request.Context(), h.GetTenantID(c), recordID, h.GetActor(c)); err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, "resolved")
}
