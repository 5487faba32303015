// Package logging builds the leveled slog loggers used across vx and a
// JSONL trace file for runtime link traffic.
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace sits below Debug. At this level every tick and link message
// is logged.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps "info", "debug" or "trace" (any case) to a slog.Level.
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled text logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrDiscard returns l, or Discard() when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// TraceFile appends JSON lines to dir/link.jsonl. A nil *TraceFile is
// valid and ignores writes.
type TraceFile struct {
	mu   sync.Mutex
	file *os.File
}

// OpenTraceFile opens the trace file when level is debug or trace and
// returns nil otherwise, or when the file cannot be opened.
func OpenTraceFile(dir, level string) *TraceFile {
	if ParseLevel(level) > slog.LevelDebug {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, "link.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}
	return &TraceFile{file: f}
}

// Write records one message. dir is "in" or "out".
func (tf *TraceFile) Write(dir string, msg json.RawMessage) {
	if tf == nil || tf.file == nil {
		return
	}

	line, err := json.Marshal(struct {
		Time string          `json:"time"`
		Dir  string          `json:"dir"`
		Msg  json.RawMessage `json:"msg"`
	}{time.Now().UTC().Format(time.RFC3339Nano), dir, msg})
	if err != nil {
		return
	}

	tf.mu.Lock()
	defer tf.mu.Unlock()
	_, _ = tf.file.Write(append(line, '\n'))
}

// Close closes the file. Safe on a nil receiver.
func (tf *TraceFile) Close() {
	if tf == nil || tf.file == nil {
		return
	}
	tf.mu.Lock()
	defer tf.mu.Unlock()
	tf.file.Close()
	tf.file = nil
}
