package tracing

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/clientflow/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func attrMap(attrs []attribute.KeyValue) map[attribute.Key]string {
	out := make(map[attribute.Key]string, len(attrs))
	for _, kv := range attrs {
		out[kv.Key] = kv.Value.Emit()
	}
	return out
}

func TestGinMiddlewareNamesSpanByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := recordSpans(t)

	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/api/bookings/:id", func(c *gin.Context) {
		ctx := obscontext.WithTenantID(c.Request.Context(), "42")
		c.Request = c.Request.WithContext(ctx)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/bookings/7", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP GET /api/bookings/:id", spans[0].Name())
	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, "42", attrs["tenant.id"])
	assert.Equal(t, "200", attrs["http.status_code"])
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestGinMiddlewareMarksServerErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := recordSpans(t)

	r := gin.New()
	r.Use(GinMiddleware())
	r.POST("/api/public/:slug/book", func(c *gin.Context) {
		_ = c.Error(errors.New("database down\nsecret detail"))
		c.Status(http.StatusInternalServerError)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/public/ink-bar/book", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "ink-bar", attrMap(spans[0].Attributes())["tenant.slug"])
	require.Len(t, spans[0].Events(), 1)
	assert.Contains(t, spans[0].Events()[0].Attributes, attribute.String("exception.message", "database down"))
}
