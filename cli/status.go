package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print each active tuple with its tracked coordinate and statuses",
	Run:   runStatus,
}

func init() {
	RootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
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

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "COMPONENT\tBRANCH\tLATEST\tDOWNLOAD\tEXTRACTION\tSIZE\tLAST POLL")

	for _, tuple := range tuples {
		t, found, err := eng.tracking.Tracking(ctx, tuple.Component.ID, tuple.Branch.ID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to load tracking for", tuple.Key(), ":", err)
			continue
		}
		if !found {
			fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t-\tnever\n", tuple.Component.Name, tuple.Branch.Name)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			tuple.Component.Name, tuple.Branch.Name, t.Latest.String(),
			t.DownloadStatus, t.ExtractionStatus,
			humanize.Bytes(uint64(t.SizeBytes)),
			humanize.Time(t.LastPollAt),
		)
	}

	os.Exit(ExitOK)
}
