package context

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey ctxKey = "obs_request_id"
	tenantIDKey  ctxKey = "obs_tenant_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// WithTenantID records the tenant for log correlation only; authorization
// reads tenantctx.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, strings.TrimSpace(tenantID))
}

func TenantIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(tenantIDKey).(string)
	return value
}
