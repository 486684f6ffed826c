// Package catalog reads the component/branch/polling-config and
// system_config tables that the rest of the larger system owns. WINCORE
// never writes to these; the Tracking Store (package tracking) owns the
// engine's own write path.
package catalog

import (
	"context"
	"fmt"

	"wincore.dev/engine/db"
	"wincore.dev/engine/model"
)

// Store reads the external catalog tables over a shared pgx pool.
type Store struct {
	db *db.DB
}

// New wraps an open database handle.
func New(conn *db.DB) *Store {
	return &Store{db: conn}
}

// ActiveTuples returns every (component, branch) pair whose component,
// branch, and polling_config rows are all enabled.
func (s *Store) ActiveTuples(ctx context.Context) ([]model.Tuple, error) {
	rows, err := s.db.Query(ctx, `
		SELECT c.id, c.guid, c.name, c.project_short_key, c.jfrog_path_pattern,
		       b.id, b.name,
		       pc.interval_seconds, pc.retry_attempts, pc.download_timeout_s, pc.extract_timeout_s
		FROM components c
		JOIN component_branches b ON b.component_id = c.id
		JOIN polling_config pc ON pc.component_id = c.id
		WHERE c.enabled AND b.enabled AND pc.enabled
	`)
	if err != nil {
		return nil, fmt.Errorf("query active tuples: %w", err)
	}
	defer rows.Close()

	var tuples []model.Tuple
	for rows.Next() {
		var t model.Tuple
		if err := rows.Scan(
			&t.Component.ID, &t.Component.GUID, &t.Component.Name, &t.Component.ProjectShortKey, &t.Component.PathPattern,
			&t.Branch.ID, &t.Branch.Name,
			&t.Policy.IntervalSeconds, &t.Policy.RetryAttempts, &t.Policy.DownloadTimeoutS, &t.Policy.ExtractTimeoutS,
		); err != nil {
			return nil, fmt.Errorf("scan tuple: %w", err)
		}
		t.Branch.ComponentID = t.Component.ID
		t.Policy.ComponentID = t.Component.ID
		t.Policy.Enabled = true
		tuples = append(tuples, t)
	}
	return tuples, rows.Err()
}

// SystemConfigValues returns every enabled key/value pair from
// system_config. The config.Provider layers caching and typed accessors
// on top of this raw read.
func (s *Store) SystemConfigValues(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Query(ctx, `SELECT config_key, config_value FROM system_config WHERE is_enabled`)
	if err != nil {
		return nil, fmt.Errorf("query system_config: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan system_config row: %w", err)
		}
		values[k] = v
	}
	return values, rows.Err()
}
