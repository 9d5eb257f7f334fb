package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/fstopclub/fstop/internal/config"
)

// Config holds observability configuration derived from environment variables.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	OtelMetricsEnabled bool
	OtelTracingEnabled bool
	ExporterEndpoint   string
	ExporterProtocol   string
	SamplingRatio      float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "fstop"
	}
	endpoint := getenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	protocol := strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", cfg.OTLPProtocol))

	return Config{
		ServiceName:        serviceName,
		Environment:        strings.TrimSpace(cfg.Environment),
		Version:            strings.TrimSpace(cfg.AppVersion),
		OtelMetricsEnabled: cfg.MetricsOn,
		OtelTracingEnabled: cfg.TracingOn,
		ExporterEndpoint:   strings.TrimSpace(endpoint),
		ExporterProtocol:   protocol,
		SamplingRatio:      getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
	}
}

func getenv(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
