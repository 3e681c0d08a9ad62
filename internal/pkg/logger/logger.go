package logger

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var zlevels = map[Level]zerolog.Level{
	DEBUG: zerolog.DebugLevel,
	INFO:  zerolog.InfoLevel,
	WARN:  zerolog.WarnLevel,
	ERROR: zerolog.ErrorLevel,
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	}
	return INFO
}

// Logger provides structured JSON logging with optional PII redaction.
type Logger struct {
	mu        sync.RWMutex
	zl        zerolog.Logger
	redactPII bool
}

var defaultLogger = New(os.Stderr)

// New creates a logger writing JSON lines to w at INFO level.
func New(w io.Writer) *Logger {
	zerolog.TimestampFieldName = "time"
	zerolog.MessageFieldName = "msg"
	return &Logger{
		zl:        zerolog.New(w).Level(zerolog.InfoLevel).With().Timestamp().Logger(),
		redactPII: true,
	}
}

// SetOutput redirects the default logger, keeping its level.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.zl = defaultLogger.zl.Output(w)
}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.zl = defaultLogger.zl.Level(zlevels[l])
}

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.redactPII = r
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
	l.mu.RLock()
	defer l.mu.RUnlock()

	ev := l.zl.WithLevel(zlevels[level])
	if ev == nil {
		return
	}
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if l.redactPII {
			val = redactPIIValue(key, val)
		}
		ev = ev.Str(key, val)
	}
	ev.Msg(msg)
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") || strings.Contains(key, "recipient") {
		return RedactEmail(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
