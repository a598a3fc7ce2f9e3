package log

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

var (
	logger     *zap.SugaredLogger
	loggerOnce sync.Once
	minLevel   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// initLogger builds the global logger: console encoding on stderr with
// ISO-8601 timestamps.
func initLogger() {
	loggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = minLevel
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.DisableStacktrace = true
		cfg.Sampling = nil

		l, err := cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			l = zap.NewExample()
		}
		logger = l.Sugar()
	})
}

// SetLevel changes the minimum level at runtime. Unknown values are ignored.
func SetLevel(l Level) {
	switch Level(strings.ToUpper(string(l))) {
	case LevelDebug:
		minLevel.SetLevel(zapcore.DebugLevel)
	case LevelInfo:
		minLevel.SetLevel(zapcore.InfoLevel)
	case LevelError:
		minLevel.SetLevel(zapcore.ErrorLevel)
	}
}

// Replace swaps the underlying logger for tests (observer, zap.NewNop). It
// is not synchronized with concurrent logging; call it before any goroutine
// that logs is started.
func Replace(l *zap.Logger) {
	initLogger()
	logger = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func Debug(msg string, kv ...any) {
	initLogger()
	logger.Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	initLogger()
	logger.Infow(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	initLogger()
	// Prepend error into key-value list.
	logger.Errorw(msg, append([]any{zap.Error(err)}, kv...)...)
}

// Sync flushes buffered entries; call before exit.
func Sync() {
	initLogger()
	_ = logger.Sync()
}
