package middleware

import (
	"regexp"

	"github.com/gin-gonic/gin"

	"bizledger/internal/core/apperror"
	appctx "bizledger/internal/core/context"
)

const (
	// TenantHeader is the HTTP header for tenant identification.
	TenantHeader = "X-Tenant-ID"
	// ActorHeader names the acting user recorded in audit entries.
	ActorHeader = "X-Actor"
)

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// Tenant middleware resolves the tenant and actor from headers and puts the
// request scope into context. Requests without a valid tenant are rejected.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(TenantHeader)
		if tenantID == "" {
			_ = c.Error(
				apperror.NewValidation("tenant is required").
					WithDetail("header", TenantHeader),
			)
			c.Abort()
			return
		}
		if !tenantPattern.MatchString(tenantID) {
			_ = c.Error(
				apperror.NewValidation("invalid tenant id").
					WithDetail("header", TenantHeader).
					WithDetail("value", tenantID),
			)
			c.Abort()
			return
		}

		scope := &appctx.RequestScope{
			TenantID: tenantID,
			Actor:    c.GetHeader(ActorHeader),
		}
		c.Request = c.Request.WithContext(appctx.WithScope(c.Request.Context(), scope))
		c.Set("tenant_id", tenantID)

		c.Next()
	}
}
