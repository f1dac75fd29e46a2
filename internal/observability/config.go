package observability

import (
	"strings"

	"github.com/smallbiznis/referrals/internal/config"
	"go.uber.org/zap/zapcore"
)

// Config is the normalized observability view of the application config.
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
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "referrals"
	}
	return Config{
		ServiceName:          serviceName,
		Environment:          strings.ToLower(strings.TrimSpace(cfg.Environment)),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             normalizeLevel(cfg.LogLevel),
		LogFormat:            normalizeFormat(cfg.LogFormat),
		OtelEnabled:          cfg.OTELEnabled,
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: normalizeProtocol(cfg.OTLPProtocol),
		OtelSamplingRatio:    clampRatio(cfg.OTELSamplingRatio),
	}
}

// Debug enables stack traces on error logs.
func (c Config) Debug() bool {
	if c.LogLevel == zapcore.DebugLevel.String() {
		return true
	}
	switch c.Environment {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func normalizeLevel(raw string) string {
	level, err := zapcore.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return zapcore.InfoLevel.String()
	}
	return level.String()
}

func normalizeFormat(raw string) string {
	if strings.EqualFold(strings.TrimSpace(raw), "console") {
		return "console"
	}
	return "json"
}

// normalizeProtocol collapses the OTLP protocol spellings to "grpc" or
// "http". Unknown values pass through so exporter setup can reject them.
func normalizeProtocol(raw string) string {
	switch p := strings.ToLower(strings.TrimSpace(raw)); p {
	case "", "grpc", "grpc/protobuf":
		return "grpc"
	case "http", "http/protobuf":
		return "http"
	default:
		return p
	}
}

func clampRatio(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}
