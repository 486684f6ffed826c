package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wincore.dev/engine/scheduler"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "run continuous polling until interrupted",
	Run:   runStart,
}

func init() {
	RootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitDBFailure)
	}
	defer eng.Close()

	s := scheduler.New(eng.catalog, eng.pipeline, scheduler.Config{
		TickInterval:         5 * time.Second,
		DefaultInterval:      time.Duration(eng.provider.DefaultPollingFrequency(ctx)) * time.Second,
		MaxConcurrentThreads: eng.provider.MaxConcurrentThreads(ctx),
		ShutdownGrace:        60 * time.Second,
		ChecksumHeader:       eng.provider.ChecksumHeaderName(ctx),
		MaxLookbackDays:      eng.provider.MaxLookbackDays(ctx),
		MaxBuildsToKeep:      eng.provider.MaxBuildsToKeep(ctx),
		DownloadTimeout:      eng.provider.DownloadTimeout(ctx),
		ExtractionTimeout:    eng.provider.ExtractionTimeout(ctx),
	})

	fmt.Println("wincore-engine started, polling continuously")
	if err := s.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "scheduler fault:", err)
		os.Exit(ExitDBFailure)
	}
	fmt.Println("wincore-engine stopped")
	os.Exit(ExitOK)
}
