// Package tracking persists the latest-known-build record per tuple plus
// the append-only build history, both in PostgreSQL via pgx.
package tracking

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wincore.dev/engine/db"
	"wincore.dev/engine/model"
)

// Store is the Tracking Store.
type Store struct {
	db *db.DB
}

// New wraps an open connection pool.
func New(conn *db.DB) *Store {
	return &Store{db: conn}
}

// UpsertTracking writes the latest-known state for one tuple, inserting the
// row on first contact and updating it on every subsequent poll.
func (s *Store) UpsertTracking(ctx context.Context, t model.BuildTracking) error {
	return s.db.Exec(ctx, `
		INSERT INTO build_tracking (
			component_id, branch_id, latest_date, latest_sequence, artifact_url,
			last_check_at, last_download_at, download_status, extraction_status,
			download_path, extraction_path, size_bytes, checksum, last_error, last_poll_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (component_id, branch_id) DO UPDATE SET
			latest_date = EXCLUDED.latest_date,
			latest_sequence = EXCLUDED.latest_sequence,
			artifact_url = EXCLUDED.artifact_url,
			last_check_at = EXCLUDED.last_check_at,
			last_download_at = EXCLUDED.last_download_at,
			download_status = EXCLUDED.download_status,
			extraction_status = EXCLUDED.extraction_status,
			download_path = EXCLUDED.download_path,
			extraction_path = EXCLUDED.extraction_path,
			size_bytes = EXCLUDED.size_bytes,
			checksum = EXCLUDED.checksum,
			last_error = EXCLUDED.last_error,
			last_poll_at = EXCLUDED.last_poll_at
	`,
		t.ComponentID, t.BranchID, t.Latest.Date, t.Latest.Sequence, t.ArtifactURL,
		t.LastCheckAt, t.LastDownloadAt, t.DownloadStatus, t.ExtractionStatus,
		t.DownloadPath, t.ExtractionPath, t.SizeBytes, t.Checksum, t.LastError, t.LastPollAt,
	)
}

// Tracking loads the current row for one tuple. found is false if the
// tuple has never been polled.
func (s *Store) Tracking(ctx context.Context, componentID, branchID int64) (t model.BuildTracking, found bool, err error) {
	row := s.db.QueryRow(ctx, `
		SELECT component_id, branch_id, latest_date, latest_sequence, artifact_url,
			last_check_at, last_download_at, download_status, extraction_status,
			download_path, extraction_path, size_bytes, checksum, last_error, last_poll_at
		FROM build_tracking WHERE component_id = $1 AND branch_id = $2
	`, componentID, branchID)

	err = row.Scan(
		&t.ComponentID, &t.BranchID, &t.Latest.Date, &t.Latest.Sequence, &t.ArtifactURL,
		&t.LastCheckAt, &t.LastDownloadAt, &t.DownloadStatus, &t.ExtractionStatus,
		&t.DownloadPath, &t.ExtractionPath, &t.SizeBytes, &t.Checksum, &t.LastError, &t.LastPollAt,
	)
	if err == pgx.ErrNoRows {
		return model.BuildTracking{}, false, nil
	}
	if err != nil {
		return model.BuildTracking{}, false, fmt.Errorf("tracking: %w", err)
	}
	return t, true, nil
}

// AppendHistory records a build that finished downloading. History rows are
// never updated in place; retention marks them deleted instead.
func (s *Store) AppendHistory(ctx context.Context, h model.BuildHistoryEntry) error {
	return s.db.Exec(ctx, `
		INSERT INTO build_history (
			component_id, branch_id, coordinate_date, coordinate_sequence, artifact_url,
			download_path, extraction_path, size_bytes, checksum, downloaded_at, deleted
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,false)
	`,
		h.ComponentID, h.BranchID, h.Coordinate.Date, h.Coordinate.Sequence, h.ArtifactURL,
		h.DownloadPath, h.ExtractionPath, h.SizeBytes, h.Checksum, h.DownloadedAt,
	)
}

// ActiveHistory returns the non-deleted history for one tuple, newest build
// first.
func (s *Store) ActiveHistory(ctx context.Context, componentID, branchID int64) ([]model.BuildHistoryEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, component_id, branch_id, coordinate_date, coordinate_sequence, artifact_url,
			download_path, extraction_path, size_bytes, checksum, downloaded_at, deleted,
			COALESCE(deleted_at, '0001-01-01T00:00:00Z'::timestamptz)
		FROM build_history
		WHERE component_id = $1 AND branch_id = $2 AND NOT deleted
		ORDER BY coordinate_date DESC, coordinate_sequence DESC
	`, componentID, branchID)
	if err != nil {
		return nil, fmt.Errorf("activeHistory: %w", err)
	}
	defer rows.Close()

	var out []model.BuildHistoryEntry
	for rows.Next() {
		var h model.BuildHistoryEntry
		if err := rows.Scan(
			&h.ID, &h.ComponentID, &h.BranchID, &h.Coordinate.Date, &h.Coordinate.Sequence, &h.ArtifactURL,
			&h.DownloadPath, &h.ExtractionPath, &h.SizeBytes, &h.Checksum, &h.DownloadedAt, &h.Deleted, &h.DeletedAt,
		); err != nil {
			return nil, fmt.Errorf("activeHistory scan: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// MarkHistoryDeleted flips the deleted flag for the given history row IDs
// in a single transaction, used by retention after it has removed the
// corresponding files from disk.
func (s *Store) MarkHistoryDeleted(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("markHistoryDeleted begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE build_history SET deleted = true, deleted_at = now()
		WHERE id = ANY($1)
	`, ids); err != nil {
		return fmt.Errorf("markHistoryDeleted: %w", err)
	}
	return tx.Commit(ctx)
}
