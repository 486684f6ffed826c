// Package model holds the data types shared by every WINCORE component:
// the read-only catalog entities (Component, Branch, PollingConfig), the
// tunables in SystemConfig, and the engine's own write path (BuildTracking,
// BuildHistoryEntry, ActivityLogEntry).
package model

import (
	"fmt"
	"time"
)

// Component is read-only to the polling engine; it is owned by the CMDB
// side of the larger system.
type Component struct {
	ID              int64
	GUID            string
	Name            string
	ProjectShortKey string
	// PathPattern, when non-empty, overrides the default JFrog URL template
	// for this component. Placeholders: {branch} {date} {buildNumber} {componentName}.
	PathPattern string
}

// Branch belongs to exactly one Component and is read-only to the engine.
type Branch struct {
	ID          int64
	ComponentID int64
	Name        string
}

// PollingConfig is the per-component polling policy, read-only to the engine.
type PollingConfig struct {
	ComponentID      int64
	Enabled          bool
	IntervalSeconds  int
	RetryAttempts    int
	DownloadTimeoutS int
	ExtractTimeoutS  int
}

// Tuple is the unit of scheduling: one (component, branch) pair plus the
// policy that governs it.
type Tuple struct {
	Component Component
	Branch    Branch
	Policy    PollingConfig
}

// Key returns the stable identity used for per-tuple locking and the
// scheduler's per-tuple due-time map.
func (t Tuple) Key() string {
	return fmt.Sprintf("%d:%d", t.Component.ID, t.Branch.ID)
}

// BuildCoordinate identifies a build within a branch. Ordering is
// lexicographic on Date, then numeric on Sequence.
type BuildCoordinate struct {
	Date     string // YYYYMMDD
	Sequence int
}

// IsZero reports whether this coordinate was never set.
func (c BuildCoordinate) IsZero() bool {
	return c.Date == "" && c.Sequence == 0
}

// Less reports whether c sorts strictly before other.
func (c BuildCoordinate) Less(other BuildCoordinate) bool {
	if c.Date != other.Date {
		return c.Date < other.Date
	}
	return c.Sequence < other.Sequence
}

func (c BuildCoordinate) String() string {
	return fmt.Sprintf("%s.%d", c.Date, c.Sequence)
}

// Status values for BuildTracking.DownloadStatus / ExtractionStatus.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// BuildTracking is the latest-known-build record for one tuple. Exactly one
// row exists per (ComponentID, BranchID).
type BuildTracking struct {
	ComponentID      int64
	BranchID         int64
	Latest           BuildCoordinate
	ArtifactURL      string
	LastCheckAt      time.Time
	LastDownloadAt   time.Time
	DownloadStatus   Status
	ExtractionStatus Status
	DownloadPath     string
	ExtractionPath   string
	SizeBytes        int64
	Checksum         string
	LastError        string
	LastPollAt       time.Time
}

// BuildHistoryEntry is an append-only record of a build that reached the
// downloaded state. Retention flips Deleted rather than removing the row.
type BuildHistoryEntry struct {
	ID             int64
	ComponentID    int64
	BranchID       int64
	Coordinate     BuildCoordinate
	ArtifactURL    string
	DownloadPath   string
	ExtractionPath string
	SizeBytes      int64
	Checksum       string
	DownloadedAt   time.Time
	Deleted        bool
	DeletedAt      time.Time
}

// LogLevel mirrors the canonical activity log levels.
type LogLevel string

const (
	LevelDebug    LogLevel = "DEBUG"
	LevelInfo     LogLevel = "INFO"
	LevelWarning  LogLevel = "WARNING"
	LevelError    LogLevel = "ERROR"
	LevelCritical LogLevel = "CRITICAL"
)

// Operation tags an ActivityLogEntry with the pipeline stage it records.
type Operation string

const (
	OpPoll       Operation = "poll"
	OpDownload   Operation = "download"
	OpExtraction Operation = "extraction"
	OpCleanup    Operation = "cleanup"
)

// ActivityLogEntry is append-only and is never mutated once written.
type ActivityLogEntry struct {
	ID            int64
	Timestamp     time.Time
	Level         LogLevel
	Operation     Operation
	ComponentName string
	BranchName    string
	Coordinate    string
	DurationMS    int64
	Message       string
}
