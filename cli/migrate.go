package cli

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|status]",
	Short:     "apply or inspect WINCORE's own schema migrations",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "status"},
	Run:       runMigrate,
}

func init() {
	RootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	sqlDB, err := sql.Open("pgx", dbDSN())
	if err != nil {
		fmt.Fprintln(os.Stderr, "open database:", err)
		os.Exit(ExitTupleFailure)
	}
	defer sqlDB.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		fmt.Fprintln(os.Stderr, "set dialect:", err)
		os.Exit(ExitTupleFailure)
	}

	var runErr error
	switch args[0] {
	case "up":
		runErr = goose.Up(sqlDB, "migrations")
	case "down":
		runErr = goose.Down(sqlDB, "migrations")
	case "status":
		runErr = goose.Status(sqlDB, "migrations")
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "migrate", args[0], "failed:", runErr)
		os.Exit(ExitTupleFailure)
	}
	os.Exit(ExitOK)
}
