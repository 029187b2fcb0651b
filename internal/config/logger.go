package config

import (
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the zap logger from the "logging" section of the fmcpilot
// configuration: "logging.level" (debug, info, warn, error) and
// "logging.format". The default "json" format suits CI log collectors;
// "console" gives human-readable output for interactive runs.
func NewLogger(v *viper.Viper) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(v.GetString("logging.level"))); err != nil {
		return nil, fmt.Errorf("invalid logging.level %q: %w", v.GetString("logging.level"), err)
	}

	var cfg zap.Config
	switch format := v.GetString("logging.format"); format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "json", "":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid logging.format %q: must be \"json\" or \"console\"", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	return cfg.Build()
}
