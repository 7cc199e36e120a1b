// Package context provides request-scoped values extraction.
package context

import (
	"context"
)

// RequestScope carries the tenant and acting user of a request.
// Domain services still take the tenant id as an explicit argument; the scope
// only feeds logging and audit attribution.
type RequestScope struct {
	TenantID string
	Actor    string
}

type scopeContextKey struct{}

// WithScope adds RequestScope to context.
func WithScope(ctx context.Context, scope *RequestScope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// GetScope returns RequestScope from context.
func GetScope(ctx context.Context) *RequestScope {
	if v, ok := ctx.Value(scopeContextKey{}).(*RequestScope); ok {
		return v
	}
	return nil
}

// GetTenantID returns tenant ID from context or empty string.
func GetTenantID(ctx context.Context) string {
	if s := GetScope(ctx); s != nil {
		return s.TenantID
	}
	return ""
}

// GetActor returns the acting user from context, "system" when absent.
func GetActor(ctx context.Context) string {
	if s := GetScope(ctx); s != nil && s.Actor != "" {
		return s.Actor
	}
	return "system"
}
