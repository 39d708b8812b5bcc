package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/fencewatch/internal/cli"
	"github.com/Veraticus/fencewatch/internal/model"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Choose the monitored geofences for a position",
		Long: `Select the geofences nearest to the given position, up to the monitoring
quota, and persist the monitored set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lat, _ := cmd.Flags().GetFloat64("lat")
			lon, _ := cmd.Flags().GetFloat64("lon")

			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			delta, err := a.manager.UpdatePosition(cmd.Context(), model.Position{Latitude: lat, Longitude: lon})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if delta.Empty() {
				writeLine(out, cli.FormatInfo("Monitored set unchanged."))
			} else {
				writeLine(out, cli.FormatSuccess(fmt.Sprintf("Started %d, stopped %d, kept %d",
					len(delta.Start), len(delta.Stop), len(delta.Keep))))
			}
			for _, line := range []struct {
				label string
				codes []string
			}{{"start", delta.Start}, {"stop", delta.Stop}, {"keep", delta.Keep}} {
				if len(line.codes) > 0 {
					writef(out, "  %-5s %s\n", line.label, strings.Join(line.codes, ", "))
				}
			}
			return nil
		},
	}
	cmd.Flags().Float64("lat", 0, "device latitude")
	cmd.Flags().Float64("lon", 0, "device longitude")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}
