package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizledger/internal/core/apperror"
	appctx "bizledger/internal/core/context"
)

func newEngine(routes func(r *gin.Engine)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(), Trace(), ErrorHandler())
	routes(r)
	return r
}

func serve(r http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestRecovery_RendersInternalError(t *testing.T) {
	r := newEngine(func(r *gin.Engine) {
		r.GET("/boom", func(*gin.Context) { panic("nil item") })
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(HeaderRequestID, "req-7")
	w, body := serve(r, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperror.CodeInternal, body["code"])
	assert.Equal(t, "req-7", body["details"].(map[string]any)["request_id"])
}

func TestErrorHandler(t *testing.T) {
	r := newEngine(func(r *gin.Engine) {
		r.GET("/stock", func(c *gin.Context) {
			_ = c.Error(apperror.NewInsufficientStock("item-1", 5, 2))
		})
		r.GET("/sequence", func(c *gin.Context) {
			_ = c.Error(apperror.NewSequenceUnavailable("acme", "Rechnung", 5))
		})
		r.GET("/plain", func(c *gin.Context) {
			_ = c.Error(errors.New("connection reset"))
		})
	})

	w, body := serve(r, httptest.NewRequest(http.MethodGet, "/stock", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, apperror.CodeInsufficientStock, body["code"])
	assert.Empty(t, w.Header().Get("Retry-After"))

	w, body = serve(r, httptest.NewRequest(http.MethodGet, "/sequence", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, apperror.CodeSequenceUnavailable, body["code"])
	assert.Equal(t, "2", w.Header().Get("Retry-After"))

	w, body = serve(r, httptest.NewRequest(http.MethodGet, "/plain", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", body["message"])
	assert.NotContains(t, w.Body.String(), "connection reset")
}

func TestTenant(t *testing.T) {
	var seen *appctx.RequestScope
	r := newEngine(func(r *gin.Engine) {
		r.GET("/scoped", Tenant(), func(c *gin.Context) {
			seen = appctx.GetScope(c.Request.Context())
			c.Status(http.StatusNoContent)
		})
	})

	tests := []struct {
		name   string
		tenant string
		status int
	}{
		{"missing", "", http.StatusBadRequest},
		{"invalid characters", "acme/../x", http.StatusBadRequest},
		{"leading dot", ".acme", http.StatusBadRequest},
		{"valid", "acme-gmbh_01", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/scoped", nil)
			if tt.tenant != "" {
				req.Header.Set(TenantHeader, tt.tenant)
			}
			req.Header.Set(ActorHeader, "bob")
			w, _ := serve(r, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}

	require.NotNil(t, seen)
	assert.Equal(t, "acme-gmbh_01", seen.TenantID)
	assert.Equal(t, "bob", seen.Actor)
}
