package server

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/clientflow/internal/config"
	obscontext "github.com/smallbiznis/clientflow/internal/observability/context"
	"github.com/smallbiznis/clientflow/internal/observability/logger"
	"github.com/smallbiznis/clientflow/internal/ratelimit"
	"github.com/smallbiznis/clientflow/pkg/tenantctx"
	"go.uber.org/zap"
)

// HeaderTenant carries the authenticated tenant, set by the gateway in
// front of the API.
const HeaderTenant = "X-Tenant-ID"

// TenantContext resolves the tenant for dashboard routes.
func TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderTenant))
		tenantID, err := snowflake.ParseString(raw)
		if raw == "" || err != nil || tenantID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := tenantctx.WithTenantID(c.Request.Context(), tenantID)
		ctx = obscontext.WithTenantID(ctx, tenantID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func tenantFromContext(c *gin.Context) (snowflake.ID, bool) {
	return tenantctx.TenantID(c.Request.Context())
}

// PublicCORS allows the booking widget to be embedded on tenant sites.
func PublicCORS(cfg config.Config) gin.HandlerFunc {
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Retry-After", "X-Request-Id"},
		MaxAge:        12 * time.Hour,
	}
	origins := cfg.Public.AllowedOrigins
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
	}
	return cors.New(corsCfg)
}

// PublicRateLimit throttles unauthenticated routes per client IP.
func PublicRateLimit(limiter ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		decision, err := limiter.Allow(ctx, c.ClientIP())
		if err != nil {
			// Fail open: the booking transaction still guards the slot.
			logger.FromContext(ctx).Warn("public rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !decision.Allowed {
			retry := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			logger.FromContext(ctx).Info("public rate limit exceeded",
				zap.String("route", c.FullPath()),
				zap.Int("retry_after_seconds", retry),
			)
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
