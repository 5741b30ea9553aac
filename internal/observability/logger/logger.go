package logger

import (
	"context"
	"fmt"
	"strings"
	"time"

	obscontext "github.com/smallbiznis/clientflow/internal/observability/context"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the zap logger.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	Level       string
	Format      string
	Debug       bool

	IncludeCaller       bool
	IncludeStackOnError bool
}

// Production output keeps the first 100 identical entries per second, then
// one in every 100.
const (
	sampleTick       = time.Second
	sampleFirst      = 100
	sampleThereafter = 100
)

// New builds the process logger, installs it as the zap global and flushes
// it when the fx app stops.
func New(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
	zapCfg, err := buildConfig(cfg)
	if err != nil {
		return nil, err
	}

	log, err := zapCfg.Build(buildOptions(cfg)...)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "clientflow"
	}
	log = log.With(
		zap.String("service", name),
		zap.String("env", strings.TrimSpace(cfg.Environment)),
		zap.String("version", strings.TrimSpace(cfg.Version)),
	)
	zap.ReplaceGlobals(log)

	if lc != nil {
		lc.Append(fx.StopHook(func() {
			_ = log.Sync()
		}))
	}
	return log, nil
}

func buildConfig(cfg Config) (zap.Config, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Debug {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Sampling = nil
	zapCfg.Encoding = "json"
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		zapCfg.Encoding = "console"
	}
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.OutputPaths = []string{"stdout"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}

	level := strings.TrimSpace(cfg.Level)
	if level == "" {
		level = "info"
	}
	if err := zapCfg.Level.UnmarshalText([]byte(level)); err != nil {
		return zap.Config{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return zapCfg, nil
}

func buildOptions(cfg Config) []zap.Option {
	var opts []zap.Option
	if cfg.IncludeCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.IncludeStackOnError {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	if !cfg.Debug {
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewSamplerWithOptions(core, sampleTick, sampleFirst, sampleThereafter)
		}))
	}
	return opts
}

// FromContext returns the global logger enriched with request-scoped fields.
func FromContext(ctx context.Context) *zap.Logger {
	return WithContext(ctx, zap.L())
}

// WithContext attaches request, tenant and trace identifiers found on ctx.
// Identifiers that are absent are omitted.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil || base == nil {
		return base
	}

	var fields []zap.Field
	if id := obscontext.RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if id := obscontext.TenantIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("tenant_id", id))
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}
