// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"bizledger/internal/domain/audit"
	"bizledger/internal/domain/documents/invoice"
	"bizledger/internal/domain/documents/quote"
	"bizledger/internal/domain/numbering"
	"bizledger/internal/domain/registers/stock"
	"bizledger/internal/infrastructure/http/v1/handlers"
	"bizledger/internal/infrastructure/http/v1/middleware"
	"bizledger/pkg/logger"
)

// RouterConfig holds the services the API exposes.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	Numbering *numbering.Service
	Stock     *stock.Service
	Quotes    *quote.Service
	Invoices  *invoice.Service

	// Audit serves /audit when set.
	Audit audit.Reader

	// HealthChecks ping the backing stores for /health/ready.
	HealthChecks map[string]handlers.Checker
	Version      string
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	// Health endpoints (no tenant required)
	healthHandler := handlers.NewHealthHandler(cfg.Version, cfg.HealthChecks)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Tenant())

	base := handlers.NewBaseHandler()
	handlers.NewSequenceHandler(base, cfg.Numbering).RegisterRoutes(v1.Group("/sequences"))
	handlers.NewStockHandler(base, cfg.Stock).RegisterRoutes(v1.Group("/inventory"))
	handlers.NewQuoteHandler(base, cfg.Quotes).RegisterRoutes(v1.Group("/quotes"))
	handlers.NewInvoiceHandler(base, cfg.Invoices).RegisterRoutes(v1.Group("/invoices"))
	if cfg.Audit != nil {
		handlers.NewAuditHandler(base, cfg.Audit).RegisterRoutes(v1.Group("/audit"))
	}

	return router
}
