package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadReadsTelemetryAndDurations(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("OTEL_ENABLED", "yes")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP/protobuf")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("DB_SLOW_QUERY", "750ms")
	t.Setenv("WEBHOOK_TIMEOUT", "3")
	t.Setenv("PUBLIC_ALLOWED_ORIGINS", "https://a.test, ,https://b.test")
	t.Setenv("NODE_ID", "7")

	cfg := Load()

	assert.Equal(t, "debug", cfg.Telemetry.LogLevel)
	assert.True(t, cfg.Telemetry.OtelEnabled)
	assert.Equal(t, "http/protobuf", cfg.Telemetry.OtelProtocol)
	assert.Equal(t, "collector:4318", cfg.OTLPEndpoint)
	assert.Equal(t, 750*time.Millisecond, cfg.DBSlowQuery)
	assert.Equal(t, 3*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.Public.AllowedOrigins)
	assert.Equal(t, int64(7), cfg.NodeID)
}

func TestGetenvFallsBackOnGarbage(t *testing.T) {
	t.Setenv("CF_TEST_BOOL", "maybe")
	t.Setenv("CF_TEST_INT", "ten")
	t.Setenv("CF_TEST_DURATION", "soon")

	assert.True(t, getenvBool("CF_TEST_BOOL", true))
	assert.Equal(t, 10, getenvInt("CF_TEST_INT", 10))
	assert.Equal(t, time.Minute, getenvDuration("CF_TEST_DURATION", time.Minute))
	assert.False(t, Config{Environment: "staging"}.IsProduction())
	assert.True(t, Config{Environment: " Production "}.IsProduction())
}
