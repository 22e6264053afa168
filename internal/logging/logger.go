// Package logging provides structured logging for the nmrmix services.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log entry.
type LogLevel string

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in
	// production. Annealing passes log here.
	DebugLevel LogLevel = "DEBUG"
	// InfoLevel is the default logging priority.
	InfoLevel LogLevel = "INFO"
	// WarnLevel logs are more important than Info, but don't need individual
	// human review.
	WarnLevel LogLevel = "WARN"
	// ErrorLevel logs are high-priority. If an application is running smoothly,
	// it shouldn't generate any error-level logs.
	ErrorLevel LogLevel = "ERROR"
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel LogLevel = "FATAL"
)

var levels = map[LogLevel]int{
	DebugLevel: 0,
	InfoLevel:  1,
	WarnLevel:  2,
	ErrorLevel: 3,
	FatalLevel: 4,
}

// Format selects how entries are encoded.
type Format string

const (
	// JSONFormat writes one JSON object per line.
	JSONFormat Format = "json"
	// TextFormat writes `timestamp LEVEL message key=value ...` lines.
	TextFormat Format = "text"
)

// sink is the destination shared by a logger and all of its children.
type sink struct {
	mu   sync.Mutex
	out  io.Writer
	exit func(int)
}

func (s *sink) write(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.out.Write(p)
}

// Logger represents an active logging object.
type Logger struct {
	level  LogLevel
	format Format
	sink   *sink
	fields map[string]interface{}
}

// New creates a new JSON Logger with the specified log level and output.
func New(level LogLevel, output io.Writer) *Logger {
	return &Logger{
		level:  level,
		format: JSONFormat,
		sink:   &sink{out: output, exit: os.Exit},
		fields: make(map[string]interface{}),
	}
}

// WithFormat returns a copy of the logger encoding entries as f.
func (l *Logger) WithFormat(f Format) *Logger {
	c := l.clone(nil)
	if f == TextFormat {
		c.format = TextFormat
	} else {
		c.format = JSONFormat
	}
	return c
}

func (l *Logger) clone(fields map[string]interface{}) *Logger {
	newFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}
	return &Logger{
		level:  l.level,
		format: l.format,
		sink:   l.sink,
		fields: newFields,
	}
}

// WithFields returns a new Logger with the specified fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.clone(fields)
}

// WithField returns a new Logger with the specified key-value pair.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithError returns a new Logger with the error field set.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// log writes a log entry with the given level and message.
func (l *Logger) log(level LogLevel, msg string, fields map[string]interface{}) {
	if !l.shouldLog(level) {
		return
	}

	entry := make(map[string]interface{}, len(l.fields)+len(fields)+4)
	for k, v := range l.fields {
		entry[k] = v
	}
	for k, v := range fields {
		entry[k] = v
	}
	if _, ok := entry["caller"]; !ok {
		entry["caller"] = caller(3)
	}
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level
	entry["message"] = msg

	var line []byte
	if l.format == TextFormat {
		line = encodeText(entry)
	} else {
		data, err := json.Marshal(entry)
		if err != nil {
			data = []byte(fmt.Sprintf(`{"level":%q,"message":%q,"encode_error":%q}`, level, msg, err.Error()))
		}
		line = data
	}
	l.sink.write(append(line, '\n'))

	if level == FatalLevel {
		l.sink.exit(1)
	}
}

// caller returns the last two path elements and line of the frame skip
// levels above it.
func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???:0"
	}
	parts := strings.Split(file, "/")
	if len(parts) > 2 {
		file = strings.Join(parts[len(parts)-2:], "/")
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// encodeText renders the fixed keys first and the rest sorted by key.
func encodeText(entry map[string]interface{}) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s", entry["timestamp"], entry["level"], entry["message"])

	keys := make([]string, 0, len(entry))
	for k := range entry {
		switch k {
		case "timestamp", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(entry[k])
		if strings.ContainsAny(v, " \t\"=") {
			v = fmt.Sprintf("%q", v)
		}
		fmt.Fprintf(&b, " %s=%s", k, v)
	}
	return []byte(b.String())
}

// shouldLog returns true if the given level should be logged.
func (l *Logger) shouldLog(level LogLevel) bool {
	shouldLog, exists := levels[level]
	if !exists {
		return false
	}

	currentLevel, exists := levels[l.level]
	if !exists {
		return false
	}

	return shouldLog >= currentLevel
}

func first(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs a message at DebugLevel.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(DebugLevel, msg, first(fields))
}

// Info logs a message at InfoLevel.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(InfoLevel, msg, first(fields))
}

// Warn logs a message at WarnLevel.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(WarnLevel, msg, first(fields))
}

// Error logs a message at ErrorLevel.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(ErrorLevel, msg, first(fields))
}

// Fatal logs a message at FatalLevel then calls os.Exit(1).
func (l *Logger) Fatal(msg string, fields ...map[string]interface{}) {
	l.log(FatalLevel, msg, first(fields))
}

// CtxLogger is a logger that can be used with context.
type CtxLogger struct {
	*Logger
}

// FromContext returns a logger from the context or a new one if none exists.
func FromContext(ctx context.Context) *CtxLogger {
	if logger, ok := ctx.Value(ctxLoggerKey{}).(*CtxLogger); ok {
		return logger
	}
	return &CtxLogger{New(InfoLevel, os.Stderr)}
}

// WithContext returns a new context with the logger.
func (l *CtxLogger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, l)
}

type ctxLoggerKey struct{}
