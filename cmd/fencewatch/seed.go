package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/fencewatch/internal/cli"
	"github.com/Veraticus/fencewatch/internal/feed"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Load geofences from a local feed file",
		Long: `Merge a GeoJSON feed file, or a zip archive of feed files, into the local
catalog without contacting the backend.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			interrupts := cli.NewInterruptHandler(os.Stdout, "Seed", "")
			ctx, cancel := interrupts.HandleInterrupts(cmd.Context())
			defer cancel()

			stats, err := a.manager.Syncer().SeedFile(ctx, args[0], nil)
			out := cmd.OutOrStdout()
			var wrong *feed.WrongFencesError
			switch {
			case errors.As(err, &wrong):
				writeLine(out, cli.FormatWarning(err.Error()))
			case err != nil:
				return fmt.Errorf("failed to seed %s: %w", args[0], err)
			}

			writeLine(out, cli.FormatSuccess(fmt.Sprintf("Seeded %s: %d inserted, %d updated, %d deleted",
				args[0], stats.Inserted, stats.Updated, stats.Deleted)))
			return nil
		},
	}
}
