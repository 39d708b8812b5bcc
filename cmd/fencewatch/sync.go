package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/fencewatch/internal/cli"
	"github.com/Veraticus/fencewatch/internal/feed"
	"github.com/Veraticus/fencewatch/internal/syncer"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download the geofence catalog from the backend",
		Long: `Download the geofences changed since the last successful sync and merge
them into the local catalog. Runs at most once per interval unless --force
is given, and backs off after failures.`,
		RunE: runSync,
	}
	cmd.Flags().BoolP("force", "f", false, "ignore the sync interval and error backoff")
	cmd.Flags().Bool("no-progress", false, "do not draw a progress bar")
	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	force, _ := cmd.Flags().GetBool("force")
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	var progress *cli.DownloadProgress
	opts := appOptions{}
	if !noProgress {
		progress = cli.NewDownloadProgress(cmd.ErrOrStderr(), "Downloading geofences...")
		opts.onProgress = progress.Update
	}

	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireBackend(); err != nil {
		return err
	}

	interrupts := cli.NewInterruptHandler(os.Stdout, "Sync", "The next sync resumes from the last watermark.")
	ctx, cancel := interrupts.HandleInterrupts(cmd.Context())
	defer cancel()

	outcome, err := a.manager.Synchronize(ctx, force)
	if progress != nil && err == nil && !outcome.Skipped {
		progress.Finish()
	}

	out := cmd.OutOrStdout()
	switch {
	case errors.Is(err, syncer.ErrCancelled):
		return err
	case err != nil && feed.IsFatal(err):
		writeLine(out, cli.FormatError("Sync failed: "+err.Error()))
		return err
	case err != nil:
		writeLine(out, cli.FormatWarning(err.Error()))
	}

	if outcome.Skipped {
		writeLine(out, cli.FormatInfo("Sync skipped: "+outcome.SkipReason))
		return nil
	}
	writeLine(out, cli.FormatSuccess(fmt.Sprintf("Catalog synchronized: %d inserted, %d updated, %d deleted, %d malformed",
		outcome.Stats.Inserted, outcome.Stats.Updated, outcome.Stats.Deleted, outcome.Stats.Malformed)))
	return nil
}
