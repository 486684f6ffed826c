// Package retention implements the retention manager: after each
// successful download it trims a tuple's build history down to
// the configured number of newest builds, soft-deleting the database rows
// and removing their on-disk archive and extraction directories.
package retention

import (
	"context"
	"fmt"
	"os"
	"time"

	"wincore.dev/engine/common"
	"wincore.dev/engine/model"
)

// HistoryStore is the subset of the tracking store retention needs.
type HistoryStore interface {
	ActiveHistory(ctx context.Context, componentID, branchID int64) ([]model.BuildHistoryEntry, error)
	MarkHistoryDeleted(ctx context.Context, ids []int64) error
}

// Recorder appends one structured entry to the activity log.
type Recorder interface {
	Record(ctx context.Context, entry model.ActivityLogEntry) error
}

// Manager is the retention manager.
type Manager struct {
	store    HistoryStore
	activity Recorder
	logger   *common.ContextLogger
}

// New wraps a HistoryStore (normally a *tracking.Store). activity may be
// nil to skip activity-log rows (tests).
func New(store HistoryStore, activity Recorder, logger *common.ContextLogger) *Manager {
	if logger == nil {
		logger = common.NewContextLogger(common.Logger, nil)
	}
	return &Manager{store: store, activity: activity, logger: logger}
}

// Prune keeps the keep newest non-deleted history entries for one tuple and
// removes the rest, both from the database and from disk, returning how many
// entries were pruned. Entries whose files are already missing are
// tolerated; a removal failure is logged and does not stop the rest of the
// sweep, since a half-pruned tuple is still better than none.
func (m *Manager) Prune(ctx context.Context, tuple model.Tuple, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	start := time.Now()
	entries, err := m.store.ActiveHistory(ctx, tuple.Component.ID, tuple.Branch.ID)
	if err != nil {
		return 0, err
	}
	if len(entries) <= keep {
		return 0, nil
	}

	toRemove := entries[keep:]
	ids := make([]int64, 0, len(toRemove))
	for _, entry := range toRemove {
		m.removeEntryFiles(ctx, tuple, entry)
		ids = append(ids, entry.ID)
	}
	if err := m.store.MarkHistoryDeleted(ctx, ids); err != nil {
		return 0, err
	}
	m.record(ctx, tuple, model.LevelInfo, "", time.Since(start),
		fmt.Sprintf("pruned %d build(s), keeping %d", len(ids), keep))
	return len(ids), nil
}

func (m *Manager) removeEntryFiles(ctx context.Context, tuple model.Tuple, entry model.BuildHistoryEntry) {
	for _, path := range []string{entry.ExtractionPath, entry.DownloadPath} {
		if path == "" {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			m.logger.WithField("path", path).
				WithField("component_id", entry.ComponentID).
				WithField("branch_id", entry.BranchID).
				WithError(err).
				Warn("retention: failed to remove build artifact")
			m.record(ctx, tuple, model.LevelWarning, entry.Coordinate.String(), 0,
				fmt.Sprintf("failed to remove %s: %v", path, err))
		}
	}
}

func (m *Manager) record(ctx context.Context, tuple model.Tuple, level model.LogLevel, coord string, dur time.Duration, msg string) {
	if m.activity == nil {
		return
	}
	m.activity.Record(ctx, model.ActivityLogEntry{
		Level:         level,
		Operation:     model.OpCleanup,
		ComponentName: tuple.Component.Name,
		BranchName:    tuple.Branch.Name,
		Coordinate:    coord,
		DurationMS:    dur.Milliseconds(),
		Message:       msg,
	})
}
