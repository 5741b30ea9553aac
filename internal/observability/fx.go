package observability

import (
	"github.com/smallbiznis/clientflow/internal/observability/logger"
	"github.com/smallbiznis/clientflow/internal/observability/metrics"
	"github.com/smallbiznis/clientflow/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		Config.Logger,
		Config.Tracing,
		Config.Metrics,
	),
	fx.Provide(logger.New),
	fx.Provide(tracing.NewProvider),
	fx.Provide(
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
	),
	// The tracer provider registers itself globally; nothing else asks for it.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)
