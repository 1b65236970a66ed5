package logger

import (
	"io"
	"maps"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

var zerologLevels = map[Level]zerolog.Level{
	DEBUG: zerolog.DebugLevel,
	INFO:  zerolog.InfoLevel,
	WARN:  zerolog.WarnLevel,
	ERROR: zerolog.ErrorLevel,
	FATAL: zerolog.FatalLevel,
}

// Logger writes structured entries with a field map attached to every line.
type Logger struct {
	mu     sync.RWMutex
	base   zerolog.Logger
	fields map[string]any
}

var (
	std   *Logger
	stdMu sync.RWMutex
)

func init() {
	std = New(INFO, os.Stdout)
}

// New builds a JSON logger writing to out.
func New(level Level, out io.Writer) *Logger {
	base := zerolog.New(out).Level(zerologLevels[level]).With().Timestamp().Logger()
	return &Logger{
		base:   base,
		fields: make(map[string]any),
	}
}

// Init replaces the package logger. Pretty output is meant for local development.
func Init(service string, level Level, pretty bool) {
	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}
	l := New(level, w)
	l.base = l.base.With().Str("service", service).Logger()

	stdMu.Lock()
	std = l
	stdMu.Unlock()
}

func current() *Logger {
	stdMu.RLock()
	defer stdMu.RUnlock()
	return std
}

func SetLevel(level Level) {
	l := current()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.base = l.base.Level(zerologLevels[level])
}

func (l *Logger) WithField(key string, value any) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	newLogger := &Logger{
		base:   l.base,
		fields: make(map[string]any, len(l.fields)+1),
	}
	maps.Copy(newLogger.fields, l.fields)
	newLogger.fields[key] = value
	return newLogger
}

func (l *Logger) log(level Level, msg string, fields map[string]any) {
	l.mu.RLock()
	base := l.base
	own := l.fields
	l.mu.RUnlock()

	var ev *zerolog.Event
	switch level {
	case DEBUG:
		ev = base.Debug()
	case INFO:
		ev = base.Info()
	case WARN:
		ev = base.Warn()
	case ERROR:
		ev = base.Error()
	default:
		// WithLevel does not exit; os.Exit is called below after the write.
		ev = base.WithLevel(zerolog.FatalLevel)
	}
	if ev == nil {
		return
	}

	if level >= ERROR {
		ev = ev.Caller(2)
	}
	ev.Fields(own).Fields(fields).Msg(msg)

	if level == FATAL {
		os.Exit(1)
	}
}

func (l *Logger) Debug(msg string, fields ...map[string]any) {
	l.log(DEBUG, msg, mergeFields(fields...))
}

func (l *Logger) Info(msg string, fields ...map[string]any) {
	l.log(INFO, msg, mergeFields(fields...))
}

func (l *Logger) Warn(msg string, fields ...map[string]any) {
	l.log(WARN, msg, mergeFields(fields...))
}

func (l *Logger) Error(msg string, fields ...map[string]any) {
	l.log(ERROR, msg, mergeFields(fields...))
}

func Debug(msg string, fields ...map[string]any) {
	current().log(DEBUG, msg, mergeFields(fields...))
}

func Info(msg string, fields ...map[string]any) {
	current().log(INFO, msg, mergeFields(fields...))
}

func Warn(msg string, fields ...map[string]any) {
	current().log(WARN, msg, mergeFields(fields...))
}

func Error(msg string, fields ...map[string]any) {
	current().log(ERROR, msg, mergeFields(fields...))
}

func Fatal(msg string, fields ...map[string]any) {
	current().log(FATAL, msg, mergeFields(fields...))
}

func WithField(key string, value any) *Logger {
	return current().WithField(key, value)
}

func mergeFields(fields ...map[string]any) map[string]any {
	result := make(map[string]any)
	for _, f := range fields {
		maps.Copy(result, f)
	}
	return result
}

func ParseLevel(level string) Level {
	switch level {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}
