// Package observability provides structured logging and Prometheus metrics.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/battlekeep/internal/config"
)

// Field keys shared by every battle log line.
const (
	FieldService  = "service"
	FieldBattle   = "battle"
	FieldCampaign = "campaign"
)

// NewLogger creates a structured logger from the given logging configuration.
// Every entry carries the service name so battle server and migration logs
// can share a sink.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Precondition: service must be non-empty.
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig, service string) (*zap.Logger, error) {
	if service == "" {
		return nil, fmt.Errorf("logger service name must not be empty")
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.InitialFields = map[string]any{FieldService: service}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// ForBattle returns a child logger tagged with the battle and, when known,
// its campaign.
func ForBattle(logger *zap.Logger, battleID, campaignID string) *zap.Logger {
	fields := []zap.Field{zap.String(FieldBattle, battleID)}
	if campaignID != "" {
		fields = append(fields, zap.String(FieldCampaign, campaignID))
	}
	return logger.With(fields...)
}
