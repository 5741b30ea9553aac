package tracing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/clientflow/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const httpTracer = "clientflow/http"

// GinMiddleware opens a server span per request, continuing any upstream
// trace. The span is renamed to the matched route once routing is done and
// tagged with the tenant resolved further down the chain.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := otel.Tracer(httpTracer).Start(ctx, "HTTP "+c.Request.Method,
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		span.SetName("HTTP " + c.Request.Method + " " + route)
		span.SetAttributes(SafeAttributes(requestAttributes(c, route, status)...)...)

		if status < http.StatusInternalServerError {
			return
		}
		if last := c.Errors.Last(); last != nil {
			if err := SafeError(last.Err); err != nil {
				span.RecordError(err)
			}
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

func requestAttributes(c *gin.Context, route string, status int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", c.Request.Method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	}
	ctx := c.Request.Context()
	if id := obscontext.RequestIDFromContext(ctx); id != "" {
		attrs = append(attrs, attribute.String("request_id", id))
	}
	if id := obscontext.TenantIDFromContext(ctx); id != "" {
		attrs = append(attrs, attribute.String("tenant.id", id))
	}
	if slug := c.Param("slug"); slug != "" {
		attrs = append(attrs, attribute.String("tenant.slug", slug))
	}
	return attrs
}
