// Package restlog provides the structured logging used across the REST
// client runtime.
//
// Design Notes:
//   - Uses the standard log package for compatibility, the same choice the
//     rest of this codebase's lineage makes; a host application that wants
//     zap/zerolog output can wrap Logger's Printf in its own adapter.
//   - Every record is a single JSON line with a correlation id, so error
//     sites can be grepped and correlated with the operation that produced
//     them without a tracing backend.
//   - Chained causes are flattened into the "causes" field via errors.Unwrap
//     so the full error chain survives without needing %+v support.
package restlog

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
)

// NewCorrelationID generates a fresh correlation id for one operation's log
// lines, so every record it produces can be grepped and joined together.
func NewCorrelationID() string {
	return uuid.New().String()
}

// Level is the severity of a log record.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger emits structured JSON lines via an underlying *log.Logger.
type Logger struct {
	out *log.Logger
}

// New wraps a standard library logger. A nil out defaults to log.Default().
func New(out *log.Logger) *Logger {
	if out == nil {
		out = log.Default()
	}
	return &Logger{out: out}
}

// Default is the package-level logger used when callers don't construct
// their own.
var Default = New(nil)

// Field is one structured key/value pair attached to a record.
type Field struct {
	Key   string
	Value interface{}
}

// F is shorthand for constructing a Field.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Error logs err at LevelError, flattening its cause chain into "causes".
func (l *Logger) Error(correlationID, message string, err error, fields ...Field) {
	l.record(LevelError, correlationID, message, err, fields)
}

// Warn logs a warning, optionally with an associated error.
func (l *Logger) Warn(correlationID, message string, err error, fields ...Field) {
	l.record(LevelWarn, correlationID, message, err, fields)
}

// Info logs an informational record.
func (l *Logger) Info(correlationID, message string, fields ...Field) {
	l.record(LevelInfo, correlationID, message, nil, fields)
}

func (l *Logger) record(level Level, correlationID, message string, err error, fields []Field) {
	entry := map[string]interface{}{
		"timestamp":      time.Now().UTC().Format(time.RFC3339Nano),
		"level":          level,
		"correlation_id": correlationID,
		"message":        message,
	}

	for _, f := range fields {
		entry[f.Key] = f.Value
	}

	if err != nil {
		entry["causes"] = causeChain(err)
	}

	data, marshalErr := json.Marshal(entry)
	if marshalErr != nil {
		// Fallback to simple logging if JSON marshal fails; never swallow
		// the record entirely.
		l.out.Printf("[%s] %s %s: marshal failed: %v", level, correlationID, message, marshalErr)
		return
	}

	l.out.Printf("%s", string(data))
}

// causeChain walks err via errors.Unwrap and returns each message, closest
// cause first, so the full chain is visible in one log line.
func causeChain(err error) []string {
	var chain []string
	for err != nil {
		chain = append(chain, err.Error())
		err = errors.Unwrap(err)
	}
	return chain
}
