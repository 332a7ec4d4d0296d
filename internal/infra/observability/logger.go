package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig selects the logger level and encoding.
type LogConfig struct {
	Level  string // debug|info|warn|error
	Format string // json|console
}

// NewLogger builds the process logger.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		l, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		level = l
	}

	zc := zap.NewProductionConfig()
	switch strings.ToLower(cfg.Format) {
	case "", "json":
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("log format %q: want json or console", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

// MaskSecret hides all but the last four characters of a credential or token.
func MaskSecret(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}

// Secret is a zap field carrying a masked value.
func Secret(key, value string) zap.Field {
	return zap.String(key, MaskSecret(value))
}
