package observability

import (
	"strings"

	"github.com/smallbiznis/clientflow/internal/config"
	"github.com/smallbiznis/clientflow/internal/observability/logger"
	"github.com/smallbiznis/clientflow/internal/observability/metrics"
	"github.com/smallbiznis/clientflow/internal/observability/tracing"
)

const defaultServiceName = "clientflow"

// Config is the slice of the process configuration that the logger, the
// tracer and the meter share.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = defaultServiceName
	}
	t := cfg.Telemetry
	return Config{
		ServiceName:          name,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             strings.TrimSpace(t.LogLevel),
		LogFormat:            strings.TrimSpace(t.LogFormat),
		OtelEnabled:          t.OtelEnabled,
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.TrimSpace(t.OtelProtocol),
		OtelSamplingRatio:    t.SamplingRatio,
	}
}

// Debug turns on development logging and gin debug mode.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func (c Config) Logger() logger.Config {
	debug := c.Debug()
	return logger.Config{
		ServiceName:         c.ServiceName,
		Environment:         c.Environment,
		Version:             c.Version,
		Level:               c.LogLevel,
		Format:              c.LogFormat,
		Debug:               debug,
		IncludeCaller:       true,
		IncludeStackOnError: debug,
	}
}

func (c Config) Tracing() tracing.Config {
	return tracing.Config{
		Enabled:          c.OtelEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		SamplingRatio:    c.OtelSamplingRatio,
	}
}

func (c Config) Metrics() metrics.Config {
	return metrics.Config{
		Enabled:          c.OtelEnabled,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		ServiceName:      c.ServiceName,
		Environment:      c.Environment,
	}
}
