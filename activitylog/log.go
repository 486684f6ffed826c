// Package activitylog keeps a structured, append-only record of every
// poll/download/extraction/cleanup operation, persisted both to PostgreSQL
// for querying by the status command and to a size-rotated JSON file for
// tailing/shipping.
package activitylog

import (
	"context"
	"encoding/json"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"wincore.dev/engine/db"
	"wincore.dev/engine/model"
)

// Writer is the subset of the database the Activity Log needs to persist
// rows, kept as an interface so tests can swap in a recorder.
type Writer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) error
}

// Log is the Activity Log.
type Log struct {
	db   Writer
	file *lumberjack.Logger
}

// Options configures the rotating file sink. A zero value disables the
// file sink; only the database row is written.
type Options struct {
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New wraps a connection and, if opts.FilePath is set, a rotating JSON-line
// file.
func New(conn *db.DB, opts Options) *Log {
	l := &Log{db: conn}
	if opts.FilePath != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    defaultOr(opts.MaxSizeMB, 100),
			MaxBackups: defaultOr(opts.MaxBackups, 5),
			MaxAge:     defaultOr(opts.MaxAgeDays, 30),
			Compress:   true,
		}
	}
	return l
}

func defaultOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// Record appends one entry to both sinks. A file-sink write failure is
// swallowed (best-effort tailing surface); the database row is the
// system of record and its error is returned.
func (l *Log) Record(ctx context.Context, entry model.ActivityLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if l.file != nil {
		if line, err := json.Marshal(fileLine{
			TS:        entry.Timestamp.Format(time.RFC3339Nano),
			Level:     string(entry.Level),
			Op:        string(entry.Operation),
			Component: entry.ComponentName,
			Branch:    entry.BranchName,
			Build:     entry.Coordinate,
			DurMS:     entry.DurationMS,
			Msg:       entry.Message,
		}); err == nil {
			l.file.Write(append(line, '\n'))
		}
	}

	return l.db.Exec(ctx, `
		INSERT INTO activity_log (
			ts, level, operation, component_name, branch_name, coordinate, duration_ms, message
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		entry.Timestamp, entry.Level, entry.Operation, entry.ComponentName,
		entry.BranchName, entry.Coordinate, entry.DurationMS, entry.Message,
	)
}

// fileLine is the shape of one JSON line in the tailing sink.
type fileLine struct {
	TS        string `json:"ts"`
	Level     string `json:"level"`
	Op        string `json:"op,omitempty"`
	Component string `json:"component,omitempty"`
	Branch    string `json:"branch,omitempty"`
	Build     string `json:"build,omitempty"`
	DurMS     int64  `json:"dur_ms,omitempty"`
	Msg       string `json:"msg"`
}

// Close flushes and closes the rotating file sink, if any.
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
