package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"wincore.dev/engine/config"
	"wincore.dev/engine/errs"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "verify database reachability and JFrog connectivity/auth",
	Run:   runTest,
}

func init() {
	RootCmd.AddCommand(testCmd)
}

func runTest(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	eng, err := newEngine(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "database/config check failed:", err)
		os.Exit(ExitDBFailure)
	}
	defer eng.Close()
	fmt.Println("database reachable, system config loaded")

	baseURL, err := eng.provider.Require(ctx, config.KeyJFrogBaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "JFrogBaseURL not configured:", err)
		os.Exit(ExitJFrogAuthFailure)
	}

	exists, err := eng.jfrog.Exists(ctx, baseURL)
	if err != nil {
		switch errs.As(err) {
		case errs.KindUnauthorized:
			fmt.Fprintln(os.Stderr, "JFrog authentication failed:", err)
			os.Exit(ExitJFrogAuthFailure)
		default:
			fmt.Fprintln(os.Stderr, "JFrog unreachable:", err)
			os.Exit(ExitJFrogUnreachable)
		}
	}
	_ = exists

	fmt.Println("JFrog reachable and credentials accepted")
	os.Exit(ExitOK)
}
