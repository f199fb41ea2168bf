// Package log builds the process-wide structured logger.
//
// BinderHub components never hold a *zap.Logger directly; they accept a
// logr.Logger, so the backend can be swapped without touching call sites.
package log

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"
	logzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

type Level string
type Format string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	ErrorLevel Level = "error"

	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

func encoderOpts(encoderConfig *zapcore.EncoderConfig) {
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
}

// New builds a logr.Logger backed by zap and installs it as the
// controller-runtime global logger, so Kubernetes client machinery and
// our own components log through the same sink.
func New(level Level, format Format) (logr.Logger, error) {
	var opts []logzap.Opts

	var zapLevel zapcore.LevelEnabler
	switch level {
	case DebugLevel:
		zapLevel = zap.DebugLevel
	case ErrorLevel:
		zapLevel = zap.ErrorLevel
	case "", InfoLevel:
		zapLevel = zap.InfoLevel
	default:
		return logr.Logger{}, fmt.Errorf("invalid log level %q", level)
	}
	opts = append(opts, logzap.Level(zapLevel))

	switch format {
	case FormatJSON, "":
		opts = append(opts, logzap.JSONEncoder(encoderOpts))
	case FormatConsole:
		opts = append(opts, logzap.ConsoleEncoder(encoderOpts))
	default:
		return logr.Logger{}, fmt.Errorf("invalid log format %q", format)
	}

	logger := logzap.New(opts...)
	ctrllog.SetLogger(logger)
	return logger, nil
}

// ParseLevel accepts the usual lowercase spellings, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return InfoLevel, nil
	case "debug":
		return DebugLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return "", fmt.Errorf("invalid log level %q", s)
	}
}
