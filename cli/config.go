package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"wincore.dev/engine/common"
	"wincore.dev/engine/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "print recognized SystemConfig keys and their current values",
	Run:   runConfig,
}

func init() {
	RootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	eng, err := newEngine(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitDBFailure)
	}
	defer eng.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	row := func(key, value string) { fmt.Fprintf(w, "%s\t%s\n", key, value) }

	baseDrive, _ := eng.provider.Get(ctx, config.KeyBaseDrive)
	jfrogURL, _ := eng.provider.Get(ctx, config.KeyJFrogBaseURL)
	jfrogUser, _ := eng.provider.Get(ctx, config.KeyJFrogUser)
	jfrogPass, _ := eng.provider.Get(ctx, config.KeyJFrogPass)

	// The password is never shown, not even partially; the service-account
	// name gets the generic partial mask.
	redactedPass := "<not set>"
	if jfrogPass != "" {
		redactedPass = "<redacted>"
	}

	row(config.KeyBaseDrive, baseDrive)
	row(config.KeyJFrogBaseURL, jfrogURL)
	row(config.KeyJFrogUser, common.MaskSecret(jfrogUser))
	row(config.KeyJFrogPass, redactedPass)
	row(config.KeyMaxConcurrency, fmt.Sprintf("%d", eng.provider.MaxConcurrentThreads(ctx)))
	row(config.KeyPollingFrequency, fmt.Sprintf("%d", eng.provider.DefaultPollingFrequency(ctx)))
	row(config.KeyMaxBuildsToKeep, fmt.Sprintf("%d", eng.provider.MaxBuildsToKeep(ctx)))
	row(config.KeyDownloadTimeout, eng.provider.DownloadTimeout(ctx).String())
	row(config.KeyExtractionTimeout, eng.provider.ExtractionTimeout(ctx).String())
	row(config.KeyRetryAttempts, fmt.Sprintf("%d", eng.provider.RetryAttempts(ctx)))
	row(config.KeyLogRetentionDays, fmt.Sprintf("%d", eng.provider.LogRetentionDays(ctx)))
	row(config.KeyMaxLookbackDays, fmt.Sprintf("%d", eng.provider.MaxLookbackDays(ctx)))
	row(config.KeyChecksumHeader, eng.provider.ChecksumHeaderName(ctx))

	os.Exit(ExitOK)
}
