package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGinMiddlewareCountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m, err := newHTTPMetrics(reg, Config{ServiceName: "clientflow", Environment: "test"})
	if err != nil {
		t.Fatalf("new http metrics: %v", err)
	}

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	}

	got := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/health", "200"))
	if got != 2 {
		t.Fatalf("expected 2 requests counted, got %v", got)
	}
}
