package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("tenant_id", "123"),
		attribute.String("method", "cash"),
		attribute.String("invoice_id", "456"),
		attribute.String("result", "changed"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "method" || attrs[1].Key != "result" {
		t.Fatalf("unexpected attributes retained: %v", attrs)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordPaymentRecorded(context.Background(), "cash")
	m.RecordPaymentSync(context.Background(), "changed")
	m.RecordBookingConflict(context.Background())
	m.RecordWorkflowRun(context.Background(), "payment_received", "completed")
	m.RecordLedgerAnomaly(context.Background(), "invoice")
}

func TestNoopInstruments(t *testing.T) {
	m := NewNoop()
	if m == nil {
		t.Fatalf("expected noop metrics")
	}
	m.RecordPaymentRecorded(context.Background(), "check")
}
