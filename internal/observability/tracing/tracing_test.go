package tracing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsPersonalData(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/public/:slug/book"),
		attribute.String("client_email", "jane@example.com"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorKeepsFirstLine(t *testing.T) {
	err := SafeError(errors.New("gateway unavailable\nstack detail"))
	assert.EqualError(t, err, "gateway unavailable")
	assert.Nil(t, SafeError(nil))
}
