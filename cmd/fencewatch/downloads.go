package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/fencewatch/internal/cli"
)

func downloadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "downloads",
		Short: "Show recent catalog downloads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			downloads, err := a.manager.Downloads(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list downloads: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(downloads) == 0 {
				writeLine(out, cli.FormatInfo("No downloads recorded."))
				return nil
			}
			writef(out, "%s", cli.RenderTable(cli.DownloadHeaders, cli.DownloadRows(downloads)))
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "number of downloads to show")
	return cmd
}
