package logger

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config selects level, encoder and destination of the process logger.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr or a file path
}

var (
	mu           sync.RWMutex
	currentLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar        = newDefault()
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zap() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func parseLevel(level string) (Level, bool) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return LevelInfo, false
}

func newDefault() *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = currentLevel
	cfg.OutputPaths = []string{"stdout"}
	cfg.DisableStacktrace = true
	l, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

// Init rebuilds the process logger from cfg. Unknown levels fall back to INFO.
func Init(cfg Config) error {
	lvl, _ := parseLevel(cfg.Level)
	currentLevel.SetLevel(lvl.zap())

	var zc zap.Config
	if strings.EqualFold(cfg.Format, "json") {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	zc.Level = currentLevel
	zc.DisableStacktrace = true
	if cfg.Output != "" {
		zc.OutputPaths = []string{cfg.Output}
	}

	l, err := zc.Build(zap.AddCallerSkip(2))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	mu.Lock()
	old := sugar
	sugar = l.Sugar()
	mu.Unlock()
	_ = old.Sync()
	return nil
}

// SetLevel changes the minimum level at runtime. Unknown names are ignored.
func SetLevel(level string) {
	if lvl, ok := parseLevel(level); ok {
		currentLevel.SetLevel(lvl.zap())
	}
}

// Enabled reports whether messages at level would be emitted.
func Enabled(level Level) bool {
	return currentLevel.Enabled(level.zap())
}

// Sync flushes buffered entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return sugar.Sync()
}

func log(level Level, format string, v ...any) {
	mu.RLock()
	s := sugar
	mu.RUnlock()

	switch level {
	case LevelDebug:
		s.Debugf(format, v...)
	case LevelInfo:
		s.Infof(format, v...)
	case LevelWarn:
		s.Warnf(format, v...)
	default:
		s.Errorf(format, v...)
	}
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
