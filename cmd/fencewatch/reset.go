package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/fencewatch/internal/cli"
)

func resetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Stop monitoring and clear the local catalog",
		Long: `Reset stops every monitored region, deletes all geofences, clears the sync
state and removes downloaded feed files. The next sync downloads the full catalog.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			force, _ := cmd.Flags().GetBool("force")

			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			fences, err := a.manager.QueryAllGeofences(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to count geofences: %w", err)
			}

			out := cmd.OutOrStdout()
			if !force {
				writef(out, "This will delete %d geofences and the sync state.\n", len(fences))
				writef(out, "\nAre you sure you want to continue? [y/N]: ")

				response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				response = strings.ToLower(strings.TrimSpace(response))
				if response != "y" && response != "yes" {
					writeLine(out, "Reset cancelled.")
					return nil
				}
			}

			if err := a.manager.Syncer().Reset(cmd.Context()); err != nil {
				return fmt.Errorf("failed to reset: %w", err)
			}
			writeLine(out, cli.FormatSuccess(fmt.Sprintf("Deleted %d geofences.", len(fences))))
			return nil
		},
	}
	cmd.Flags().BoolP("force", "f", false, "skip confirmation prompt")
	return cmd
}
