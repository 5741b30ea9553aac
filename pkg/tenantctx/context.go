package tenantctx

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type keyType string

const (
	TenantIDKey keyType = "tenant_id"
)

// WithTenantID stores the active tenant in the context.
func WithTenantID(ctx context.Context, tenantID snowflake.ID) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// TenantID returns the tenant stored on the context, if any.
func TenantID(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}
	switch typed := ctx.Value(TenantIDKey).(type) {
	case snowflake.ID:
		return typed, typed != 0
	case int64:
		return snowflake.ID(typed), typed != 0
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil && parsed != 0 {
			return parsed, true
		}
	}
	return 0, false
}
