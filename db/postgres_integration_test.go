//go:build integration

package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// setupPostgresContainer uses the testcontainers-go postgres module rather
// than a bare GenericContainer: it knows the image's readiness log line and
// hands back a ready-to-use DSN.
func setupPostgresContainer(t *testing.T) (string, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("wincore"),
		postgres.WithUsername("wincore"),
		postgres.WithPassword("wincore"),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return dsn, cleanup
}

func TestOpenPingsAndExecQueryRoundtrip(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	ctx := context.Background()
	conn, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Exec(ctx, `CREATE TABLE smoke (id INTEGER PRIMARY KEY, note TEXT)`))
	require.NoError(t, conn.Exec(ctx, `INSERT INTO smoke (id, note) VALUES ($1, $2)`, 1, "hello"))

	var note string
	row := conn.QueryRow(ctx, `SELECT note FROM smoke WHERE id = $1`, 1)
	require.NoError(t, row.Scan(&note))
	require.Equal(t, "hello", note)

	rows, err := conn.Query(ctx, `SELECT id, note FROM smoke`)
	require.NoError(t, err)
	defer rows.Close()

	var count int
	for rows.Next() {
		count++
	}
	require.NoError(t, rows.Err())
	require.Equal(t, 1, count)
}

func TestBeginTxCommitsAndRollsBack(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	ctx := context.Background()
	conn, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Exec(ctx, `CREATE TABLE tx_smoke (id INTEGER PRIMARY KEY)`))

	tx, err := conn.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, `INSERT INTO tx_smoke (id) VALUES (1)`)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	row := conn.QueryRow(ctx, `SELECT count(*) FROM tx_smoke`)
	var n int
	require.NoError(t, row.Scan(&n))
	require.Equal(t, 0, n)

	tx, err = conn.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, `INSERT INTO tx_smoke (id) VALUES (2)`)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	row = conn.QueryRow(ctx, `SELECT count(*) FROM tx_smoke`)
	require.NoError(t, row.Scan(&n))
	require.Equal(t, 1, n)
}
