package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var zapLevels = map[Level]zapcore.Level{
	DEBUG: zapcore.DebugLevel,
	INFO:  zapcore.InfoLevel,
	WARN:  zapcore.WarnLevel,
	ERROR: zapcore.ErrorLevel,
}

// ParseLevel maps a config string ("debug", "info", ...) to a Level. Unknown
// values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Options configures the process-wide logger.
type Options struct {
	Level     string
	File      string // optional rotated JSON file, written in addition to stderr
	RedactPII bool
}

// Logger provides structured JSON logging with optional PII redaction.
type Logger struct {
	zl        *zap.Logger
	level     zap.AtomicLevel
	mu        sync.RWMutex
	redactPII bool
}

var defaultLogger = newLogger(zap.NewAtomicLevelAt(zapcore.InfoLevel), true, zapcore.Lock(os.Stderr))

func encoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.MessageKey = "msg"
	enc.LevelKey = "level"
	enc.EncodeTime = zapcore.RFC3339TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.CallerKey = ""
	enc.StacktraceKey = ""
	return enc
}

func newLogger(level zap.AtomicLevel, redact bool, sinks ...zapcore.WriteSyncer) *Logger {
	enc := zapcore.NewJSONEncoder(encoderConfig())
	cores := make([]zapcore.Core, 0, len(sinks))
	for _, s := range sinks {
		cores = append(cores, zapcore.NewCore(enc, s, level))
	}
	return &Logger{zl: zap.New(zapcore.NewTee(cores...)), level: level, redactPII: redact}
}

// newWithCore wraps an arbitrary core; tests use it with zaptest/observer.
func newWithCore(core zapcore.Core, redact bool) *Logger {
	return &Logger{zl: zap.New(core), level: zap.NewAtomicLevelAt(zapcore.DebugLevel), redactPII: redact}
}

// Configure replaces the default logger. When opts.File is set, entries are
// also written to a lumberjack-rotated file.
func Configure(opts Options) {
	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	if opts.File != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}))
	}
	lvl := zap.NewAtomicLevelAt(zapLevels[ParseLevel(opts.Level)])
	defaultLogger = newLogger(lvl, opts.RedactPII, sinks...)
}

// Sync flushes buffered entries. Call before process exit.
func Sync() { _ = defaultLogger.zl.Sync() }

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level.SetLevel(zapLevels[l]) }

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) {
	defaultLogger.mu.Lock()
	defaultLogger.redactPII = r
	defaultLogger.mu.Unlock()
}

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	zl := zapLevels[level]
	if ce := l.zl.Check(zl, msg); ce != nil {
		ce.Write(l.fields(fields)...)
	}
}

// fields converts alternating key/value pairs into zap fields. A trailing
// key without a value is dropped.
func (l *Logger) fields(kv []interface{}) []zap.Field {
	l.mu.RLock()
	redact := l.redactPII
	l.mu.RUnlock()

	out := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i < len(kv)-1; i += 2 {
		key := fmt.Sprintf("%v", kv[i])
		var val string
		if err, ok := kv[i+1].(error); ok && err != nil {
			val = err.Error()
		} else {
			val = fmt.Sprintf("%v", kv[i+1])
		}
		if redact {
			val = redactPIIValue(key, val)
		}
		out = append(out, zap.String(key, val))
	}
	return out
}
