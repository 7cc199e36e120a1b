package handlers

import (
	"github.com/gin-gonic/gin"

	"bizledger/internal/domain/audit"
	"bizledger/internal/infrastructure/http/v1/dto"
)

// AuditHandler exposes the audit trail of quotes and invoices.
type AuditHandler struct {
	*BaseHandler
	reader audit.Reader
}

func NewAuditHandler(base *BaseHandler, reader audit.Reader) *AuditHandler {
	return &AuditHandler{BaseHandler: base, reader: reader}
}

// RegisterRoutes mounts the audit endpoints.
func (h *AuditHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/quotes/:id", h.history("Quote"))
	rg.GET("/invoices/:id", h.history("Invoice"))
}

// history handles GET /audit/{quotes,invoices}/:id
func (h *AuditHandler) history(entityType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		entityID, ok := h.PathID(c)
		if !ok {
			return
		}

		limit := h.ParseIntQuery(c, "limit", audit.DefaultHistoryLimit)
		records, err := h.reader.History(c.Request.Context(), h.GetTenantID(c), entityType, entityID, limit)
		if err != nil {
			h.Error(c, err)
			return
		}
		h.OK(c, dto.NewListResponse(records, limit, 0))
	}
}
