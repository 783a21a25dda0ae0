// pkg/logger/logger.go

package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.Logger
)

// L returns the process logger, installing a console fallback on first use.
func L() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		return l
	}
	InitFallback()
	return L()
}

// SetLogger replaces the process logger, zap's globals and the otelzap
// global used by otelzap.Ctx.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	log = l
	mu.Unlock()
	zap.ReplaceGlobals(l)
	otelzap.ReplaceGlobals(otelzap.New(l))
}

// Sync flushes any buffered log entries. Should be called before the application exits.
func Sync() {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		// stdout/stderr return EINVAL on some platforms; nothing to report
		_ = l.Sync()
	}
}

// ParseLogLevel maps LOG_LEVEL style strings to a zap level. Unknown values
// mean info.
func ParseLogLevel(level string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE", "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	case "FATAL":
		return zapcore.FatalLevel
	case "DPANIC":
		return zapcore.DPanicLevel
	default:
		return zapcore.InfoLevel
	}
}

func DefaultConsoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "T"
	cfg.LevelKey = "L"
	cfg.NameKey = "N"
	cfg.CallerKey = "C"
	cfg.MessageKey = "M"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg
}

// NewFallbackLogger logs to stderr only. stdout is kept for command output.
func NewFallbackLogger(level zapcore.Level) *zap.Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(DefaultConsoleEncoderConfig()),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

// InitFallback installs the console-only logger at LOG_LEVEL.
func InitFallback() {
	SetLogger(NewFallbackLogger(ParseLogLevel(os.Getenv("LOG_LEVEL"))))
}

// InitializeWithFallback tees human-readable console output with a JSON log
// file at the first writable platform path. Without one it logs to the
// console only. It returns the file path in use, or "".
func InitializeWithFallback(level zapcore.Level) string {
	path, err := FindWritableLogPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, "No writable log path found. Logging to console only.")
		SetLogger(NewFallbackLogger(level))
		return ""
	}

	writer, err := GetLogFileWriter(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Could not write to log file, logging to console only:", err)
		SetLogger(NewFallbackLogger(level))
		return ""
	}

	SetLogger(zap.New(newTeeCore(level, zapcore.Lock(os.Stderr), writer),
		zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)))
	L().Debug("Logger initialized",
		zap.String("log_level", level.String()),
		zap.String("log_path", path))
	return path
}

func newTeeCore(level zapcore.Level, console, file zapcore.WriteSyncer) zapcore.Core {
	jsonCfg := zap.NewProductionEncoderConfig()
	jsonCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	// the file always keeps debug detail; the console follows level
	return zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(DefaultConsoleEncoderConfig()), console, level),
		zapcore.NewCore(zapcore.NewJSONEncoder(jsonCfg), file, zapcore.DebugLevel),
	)
}
