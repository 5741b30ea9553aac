package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	paymentsRecorded metric.Int64Counter
	paymentSyncs     metric.Int64Counter
	bookingConflicts metric.Int64Counter
	workflowRuns     metric.Int64Counter
	ledgerAnomalies  metric.Int64Counter
	gatewayEvents    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "clientflow"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.paymentsRecorded, "clientflow_payments_recorded_total", "Payments recorded against invoices."},
		{&m.paymentSyncs, "clientflow_payment_syncs_total", "Gateway reconciliation attempts by result."},
		{&m.bookingConflicts, "clientflow_booking_conflicts_total", "Booking attempts rejected for an overlapping slot."},
		{&m.workflowRuns, "clientflow_workflow_runs_total", "Workflow runs by terminal status."},
		{&m.ledgerAnomalies, "clientflow_ledger_anomalies_total", "Balance computations clamped at zero."},
		{&m.gatewayEvents, "clientflow_gateway_events_total", "Inbound gateway webhook events."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}
	return m, nil
}

// NewNoop returns instruments bound to a no-op provider.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

func (m *Metrics) RecordPaymentRecorded(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.paymentsRecorded.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("method", method))...))
}

func (m *Metrics) RecordPaymentSync(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.paymentSyncs.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("result", result))...))
}

func (m *Metrics) RecordBookingConflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.bookingConflicts.Add(ctx, 1)
}

func (m *Metrics) RecordWorkflowRun(ctx context.Context, trigger, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("trigger", strings.TrimSpace(trigger)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.workflowRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerAnomaly counts a clamped balance for the given entity type.
func (m *Metrics) RecordLedgerAnomaly(ctx context.Context, entityType string) {
	if m == nil {
		return
	}
	m.ledgerAnomalies.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("entity_type", entityType))...))
}

func (m *Metrics) RecordGatewayEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.gatewayEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"method":      {},
	"result":      {},
	"trigger":     {},
	"status":      {},
	"entity_type": {},
	"provider":    {},
	"event_type":  {},
	"route":       {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
