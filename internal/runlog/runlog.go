// Package runlog provides the logging sink injected into the pipeline.
//
// Output always goes to a human-readable writer (normally stderr). A JSONL
// (json-lines) file sink can be attached on top, in which case every record
// is additionally appended to the file as one JSON object per line. One
// record = one log call.
package runlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level classifies a log record.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Record is the JSONL wire form of a single log line.
type Record struct {
	TSUTC string `json:"ts_utc"`
	Level Level  `json:"level"`
	Msg   string `json:"msg"`
}

// Logger writes leveled log records to a human writer and, optionally, to a
// JSONL file. Safe for use from a single goroutine per the sequential
// execution model; the mutex only guards against interleaved writers.
type Logger struct {
	mu      sync.Mutex
	human   io.Writer
	jsonl   *bufio.Writer
	file    *os.File
	verbose bool
	now     func() time.Time
}

// New creates a Logger writing human-readable lines to w.
func New(w io.Writer) *Logger {
	return &Logger{human: w, now: time.Now}
}

// SetVerbose enables debug-level output on the human writer. Debug records
// are always written to an attached JSONL sink.
func (l *Logger) SetVerbose(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = v
}

// AttachJSONL opens path in append mode and mirrors every record to it.
func (l *Logger) AttachJSONL(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.file = f
	l.jsonl = bufio.NewWriter(f)
	return nil
}

// Close flushes and closes the JSONL sink, if attached.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonl == nil {
		return nil
	}
	if err := l.jsonl.Flush(); err != nil {
		_ = l.file.Close()
		return err
	}
	err := l.file.Close()
	l.jsonl = nil
	l.file = nil
	return err
}

func (l *Logger) log(level Level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)

	if level != LevelDebug || l.verbose {
		_, _ = fmt.Fprintf(l.human, "%s: %s\n", level, msg)
	}

	if l.jsonl != nil {
		rec := Record{
			TSUTC: l.now().UTC().Format(time.RFC3339Nano),
			Level: level,
			Msg:   msg,
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return
		}
		_, _ = l.jsonl.Write(line)
		_ = l.jsonl.WriteByte('\n')
		_ = l.jsonl.Flush()
	}
}

func (l *Logger) Debugf(format string, args ...any)    { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)     { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)     { l.log(LevelWarning, format, args...) }
func (l *Logger) Errorf(format string, args ...any)    { l.log(LevelError, format, args...) }
func (l *Logger) Criticalf(format string, args ...any) { l.log(LevelCritical, format, args...) }

// Discard returns a logger that drops everything. Useful as a default so
// components never have to nil-check their sink.
func Discard() *Logger {
	return New(io.Discard)
}
