package logger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogMessage is one captured entry
type LogMessage struct {
	Level   string
	Message string
	Fields  map[string]interface{}
	Error   error
}

type capture struct {
	mu      sync.Mutex
	entries []LogMessage
}

// TestLogger records entries in memory instead of writing them. Children
// created with WithField and friends append to the same record.
type TestLogger struct {
	rec    *capture
	fields map[string]interface{}
	err    error
}

func NewTestLogger() *TestLogger {
	return &TestLogger{rec: &capture{}}
}

func (l *TestLogger) derive(extra map[string]interface{}, err error) *TestLogger {
	fields := make(map[string]interface{}, len(l.fields)+len(extra))
	for _, src := range []map[string]interface{}{l.fields, extra} {
		for k, v := range src {
			fields[k] = v
		}
	}
	return &TestLogger{rec: l.rec, fields: fields, err: err}
}

func (l *TestLogger) emit(level, msg string, extra map[string]interface{}) {
	entry := LogMessage{Level: level, Message: msg, Fields: l.derive(extra, nil).fields, Error: l.err}
	l.rec.mu.Lock()
	l.rec.entries = append(l.rec.entries, entry)
	l.rec.mu.Unlock()
}

func (l *TestLogger) Debug(msg string) { l.emit("DEBUG", msg, nil) }
func (l *TestLogger) Info(msg string)  { l.emit("INFO", msg, nil) }
func (l *TestLogger) Warn(msg string)  { l.emit("WARN", msg, nil) }
func (l *TestLogger) Error(msg string) { l.emit("ERROR", msg, nil) }

// Fatal is recorded like any other level; it does not exit
func (l *TestLogger) Fatal(msg string) { l.emit("FATAL", msg, nil) }

func (l *TestLogger) DebugWithFields(msg string, f map[string]interface{}) { l.emit("DEBUG", msg, f) }
func (l *TestLogger) InfoWithFields(msg string, f map[string]interface{})  { l.emit("INFO", msg, f) }
func (l *TestLogger) WarnWithFields(msg string, f map[string]interface{})  { l.emit("WARN", msg, f) }
func (l *TestLogger) ErrorWithFields(msg string, f map[string]interface{}) { l.emit("ERROR", msg, f) }
func (l *TestLogger) FatalWithFields(msg string, f map[string]interface{}) { l.emit("FATAL", msg, f) }

func (l *TestLogger) WithField(key string, value interface{}) Logger {
	return l.derive(map[string]interface{}{key: value}, l.err)
}

func (l *TestLogger) WithFields(fields map[string]interface{}) Logger {
	return l.derive(fields, l.err)
}

func (l *TestLogger) WithError(err error) Logger { return l.derive(nil, err) }

func (l *TestLogger) WithContext(context.Context) Logger { return l }

func (l *TestLogger) GetZerolog() *zerolog.Logger { return &nopZerolog }

// GetMessages returns a snapshot of everything recorded so far
func (l *TestLogger) GetMessages() []LogMessage {
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	return append([]LogMessage(nil), l.rec.entries...)
}

func (l *TestLogger) GetMessagesByLevel(level string) []LogMessage {
	return l.filter(func(m LogMessage) bool { return m.Level == level })
}

func (l *TestLogger) HasMessage(text string) bool {
	return len(l.filter(func(m LogMessage) bool { return m.Message == text })) > 0
}

func (l *TestLogger) HasMessageContaining(substr string) bool {
	return len(l.filter(func(m LogMessage) bool { return strings.Contains(m.Message, substr) })) > 0
}

func (l *TestLogger) HasError() bool {
	return len(l.GetMessagesByLevel("ERROR")) > 0
}

func (l *TestLogger) Clear() {
	l.rec.mu.Lock()
	l.rec.entries = nil
	l.rec.mu.Unlock()
}

func (l *TestLogger) filter(keep func(LogMessage) bool) []LogMessage {
	var out []LogMessage
	for _, m := range l.GetMessages() {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// String renders the record one entry per line, for failure output
func (l *TestLogger) String() string {
	var b strings.Builder
	for _, m := range l.GetMessages() {
		fmt.Fprintf(&b, "[%s] %s", m.Level, m.Message)
		keys := make([]string, 0, len(m.Fields))
		for k := range m.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, m.Fields[k])
		}
		if m.Error != nil {
			fmt.Fprintf(&b, " error=%v", m.Error)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
