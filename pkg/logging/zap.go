package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var zapStderr = os.Stderr

// ZapConfig configures the zap-backed logger used by cmd/bwrapbox. Output
// always goes to stderr so that stdout stays reserved for the sandboxed
// program's own output.
type ZapConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "console" or "json"
}

func DefaultZapConfig() ZapConfig {
	return ZapConfig{Level: "info", Format: "console"}
}

// NewZapLogger builds a Logger backed by a zap.SugaredLogger configured
// from cfg, prefixed with prefix (module name).
func NewZapLogger(prefix string, cfg ZapConfig) (Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(zapStderr)), level)
	sugar := zap.New(core).Sugar()

	return newLogger(prefix, sugar), nil
}

func parseLevel(levelStr string) (zapcore.Level, error) {
	switch levelStr {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", levelStr)
	}
}
