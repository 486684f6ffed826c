package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"wincore.dev/engine/scheduler"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "run one polling cycle over every active tuple and exit",
	Run:   runPoll,
}

func init() {
	RootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	eng, err := newEngine(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitDBFailure)
	}
	defer eng.Close()

	s := scheduler.New(eng.catalog, eng.pipeline, scheduler.Config{
		MaxConcurrentThreads: eng.provider.MaxConcurrentThreads(ctx),
		ChecksumHeader:       eng.provider.ChecksumHeaderName(ctx),
		MaxLookbackDays:      eng.provider.MaxLookbackDays(ctx),
		MaxBuildsToKeep:      eng.provider.MaxBuildsToKeep(ctx),
		DownloadTimeout:      eng.provider.DownloadTimeout(ctx),
		ExtractionTimeout:    eng.provider.ExtractionTimeout(ctx),
	})

	sum, err := s.RunOnce(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "poll cycle failed:", err)
		os.Exit(ExitDBFailure)
	}
	fmt.Printf("probed=%d new_builds=%d downloaded=%d extracted=%d failed=%d pruned=%d\n",
		sum.Probed, sum.NewBuilds, sum.Downloaded, sum.Extracted, sum.Failed, sum.Pruned)
	if sum.Failed > 0 {
		os.Exit(ExitTupleFailure)
	}
	os.Exit(ExitOK)
}
