package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"wincore.dev/engine/retention"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "run the retention sweep for every active tuple once",
	Run:   runCleanup,
}

func init() {
	RootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	eng, err := newEngine(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitDBFailure)
	}
	defer eng.Close()

	tuples, err := eng.catalog.ActiveTuples(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load tuples:", err)
		os.Exit(ExitDBFailure)
	}

	retentionMgr := retention.New(eng.tracking, eng.activity, nil)
	keep := eng.provider.MaxBuildsToKeep(ctx)

	var failed, pruned int
	for _, tuple := range tuples {
		n, err := retentionMgr.Prune(ctx, tuple, keep)
		if err != nil {
			fmt.Fprintf(os.Stderr, "retention failed for %s/%s: %v\n", tuple.Component.Name, tuple.Branch.Name, err)
			failed++
			continue
		}
		pruned += n
	}
	fmt.Printf("pruned %d build(s) across %d tuple(s)\n", pruned, len(tuples))

	if failed > 0 {
		os.Exit(ExitTupleFailure)
	}
	os.Exit(ExitOK)
}
