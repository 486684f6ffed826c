//go:build integration

package tracking

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"wincore.dev/engine/db"
	"wincore.dev/engine/model"
)

func setupPostgresContainer(t *testing.T) (string, func()) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "wincore",
			"POSTGRES_PASSWORD": "wincore",
			"POSTGRES_DB":       "wincore",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start postgres container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://wincore:wincore@%s:%s/wincore?sslmode=disable", host, port.Port())

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return dsn, cleanup
}

const trackingSchema = `
CREATE TABLE build_tracking (
	component_id        BIGINT NOT NULL,
	branch_id           BIGINT NOT NULL,
	latest_date         TEXT NOT NULL DEFAULT '',
	latest_sequence     INTEGER NOT NULL DEFAULT 0,
	artifact_url        TEXT NOT NULL DEFAULT '',
	last_check_at       TIMESTAMPTZ,
	last_download_at    TIMESTAMPTZ,
	download_status     TEXT NOT NULL DEFAULT 'pending',
	extraction_status   TEXT NOT NULL DEFAULT 'pending',
	download_path       TEXT NOT NULL DEFAULT '',
	extraction_path     TEXT NOT NULL DEFAULT '',
	size_bytes          BIGINT NOT NULL DEFAULT 0,
	checksum            TEXT NOT NULL DEFAULT '',
	last_error          TEXT NOT NULL DEFAULT '',
	last_poll_at        TIMESTAMPTZ,
	PRIMARY KEY (component_id, branch_id)
);
CREATE TABLE build_history (
	id                  BIGSERIAL PRIMARY KEY,
	component_id        BIGINT NOT NULL,
	branch_id           BIGINT NOT NULL,
	coordinate_date     TEXT NOT NULL,
	coordinate_sequence INTEGER NOT NULL,
	artifact_url        TEXT NOT NULL,
	download_path       TEXT NOT NULL DEFAULT '',
	extraction_path     TEXT NOT NULL DEFAULT '',
	size_bytes          BIGINT NOT NULL DEFAULT 0,
	checksum            TEXT NOT NULL DEFAULT '',
	downloaded_at       TIMESTAMPTZ NOT NULL,
	deleted             BOOLEAN NOT NULL DEFAULT false,
	deleted_at          TIMESTAMPTZ
);
CREATE UNIQUE INDEX build_history_download_path_active_idx
	ON build_history (download_path)
	WHERE NOT deleted;
`

func openTrackingFixture(t *testing.T) (*db.DB, func()) {
	t.Helper()
	dsn, cleanup := setupPostgresContainer(t)
	ctx := context.Background()
	conn, err := db.Open(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, conn.Exec(ctx, trackingSchema))
	return conn, func() {
		conn.Close()
		cleanup()
	}
}

func TestUpsertTrackingInsertsThenUpdates(t *testing.T) {
	conn, cleanup := openTrackingFixture(t)
	defer cleanup()
	ctx := context.Background()
	store := New(conn)

	first := model.BuildTracking{
		ComponentID: 1, BranchID: 2,
		Latest:         model.BuildCoordinate{Date: "20260101", Sequence: 1},
		DownloadStatus: model.StatusDownloading, ExtractionStatus: model.StatusPending,
	}
	require.NoError(t, store.UpsertTracking(ctx, first))

	got, found, err := store.Tracking(ctx, 1, 2)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, model.StatusDownloading, got.DownloadStatus)

	second := first
	second.Latest = model.BuildCoordinate{Date: "20260102", Sequence: 1}
	second.DownloadStatus = model.StatusCompleted
	require.NoError(t, store.UpsertTracking(ctx, second))

	got, found, err = store.Tracking(ctx, 1, 2)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "20260102", got.Latest.Date)
	require.Equal(t, model.StatusCompleted, got.DownloadStatus)
}

func TestTrackingReportsNotFoundForUnknownTuple(t *testing.T) {
	conn, cleanup := openTrackingFixture(t)
	defer cleanup()
	ctx := context.Background()
	store := New(conn)

	_, found, err := store.Tracking(ctx, 99, 99)
	require.NoError(t, err)
	require.False(t, found)
}

func TestAppendHistoryAndMarkDeleted(t *testing.T) {
	conn, cleanup := openTrackingFixture(t)
	defer cleanup()
	ctx := context.Background()
	store := New(conn)

	entries := []model.BuildHistoryEntry{
		{ComponentID: 1, BranchID: 2, Coordinate: model.BuildCoordinate{Date: "20260101", Sequence: 1}, DownloadPath: "/builds/guid/s/history/20260101.1/demo.zip", DownloadedAt: time.Now().UTC()},
		{ComponentID: 1, BranchID: 2, Coordinate: model.BuildCoordinate{Date: "20260102", Sequence: 1}, DownloadPath: "/builds/guid/s/history/20260102.1/demo.zip", DownloadedAt: time.Now().UTC()},
	}
	for _, e := range entries {
		require.NoError(t, store.AppendHistory(ctx, e))
	}

	active, err := store.ActiveHistory(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "20260102", active[0].Coordinate.Date, "expected newest-first ordering")

	require.NoError(t, store.MarkHistoryDeleted(ctx, []int64{active[1].ID}))

	active, err = store.ActiveHistory(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "20260102", active[0].Coordinate.Date)
}

func TestMarkHistoryDeletedNoopOnEmptyIDs(t *testing.T) {
	conn, cleanup := openTrackingFixture(t)
	defer cleanup()
	ctx := context.Background()
	store := New(conn)

	require.NoError(t, store.MarkHistoryDeleted(ctx, nil))
}
