package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a production zap logger tagged with the service name.
// Level is one of: debug, info, warn, error.
func NewLogger(service, level string) (*zap.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger.With(zap.String("service", service)), nil
}

// NewRotatingLogger creates a logger that writes to stdout and to a
// size-rotated file. Used when LOG_FILE is configured.
func NewRotatingLogger(service, level, path string) (*zap.Logger, error) {
	if path == "" {
		return NewLogger(service, level)
	}

	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	fileSink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	})

	tee := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(os.Stdout), lvl),
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), fileSink, lvl),
	)

	return zap.New(tee).With(zap.String("service", service)), nil
}

func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}
