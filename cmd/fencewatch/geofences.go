package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/fencewatch/internal/cli"
	"github.com/Veraticus/fencewatch/internal/model"
)

func geofencesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "geofences",
		Aliases: []string{"gf"},
		Short:   "Inspect and edit the local geofence catalog",
	}
	cmd.AddCommand(geofencesListCmd())
	cmd.AddCommand(geofencesShowCmd())
	cmd.AddCommand(geofencesAddCmd())
	cmd.AddCommand(geofencesRemoveCmd())
	return cmd
}

func geofencesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List geofences",
		RunE: func(cmd *cobra.Command, _ []string) error {
			monitored, _ := cmd.Flags().GetBool("monitored")

			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			var fences []model.Geofence
			if monitored {
				fences, err = a.manager.MonitoredGeofences(cmd.Context())
			} else {
				fences, err = a.manager.QueryAllGeofences(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("failed to list geofences: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(fences) == 0 {
				writeLine(out, cli.FormatInfo("No geofences found."))
				return nil
			}
			writeLine(out, cli.FormatTitle(fmt.Sprintf("Geofences (%d)", len(fences))))
			writef(out, "%s", cli.RenderTable(cli.GeofenceHeaders, cli.GeofenceRows(fences)))
			return nil
		},
	}
	cmd.Flags().BoolP("monitored", "m", false, "only show monitored geofences")
	return cmd
}

func geofencesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <code>",
		Short: "Show one geofence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			g, err := a.manager.QueryGeofence(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			writeLine(cmd.OutOrStdout(), cli.RenderBox(g.Name, fmt.Sprintf(
				"Code:      %s\nCenter:    %.6f, %.6f\nRadius:    %dm\nMonitored: %t\nLocal:     %t\nUpdated:   %s",
				g.Code, g.Latitude, g.Longitude, g.Radius, g.Monitored, g.Local,
				g.UpdatedAt.Format("2006-01-02 15:04:05"))))
			return nil
		},
	}
}

func geofencesAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a local geofence",
		Long: `Add a geofence that only exists on this device. Catalog syncs never
overwrite or delete local geofences.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			lat, _ := cmd.Flags().GetFloat64("lat")
			lon, _ := cmd.Flags().GetFloat64("lon")
			radius, _ := cmd.Flags().GetInt("radius")

			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			g, err := a.manager.AddGeofence(cmd.Context(), name, model.Position{Latitude: lat, Longitude: lon}, radius)
			if err != nil {
				return err
			}
			writeLine(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Added geofence %s (%s)", g.Name, g.Code)))
			return nil
		},
	}
	cmd.Flags().String("name", "", "geofence name")
	cmd.Flags().Float64("lat", 0, "center latitude")
	cmd.Flags().Float64("lon", 0, "center longitude")
	cmd.Flags().Int("radius", 100, "radius in meters")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

func geofencesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <code>",
		Aliases: []string{"rm"},
		Short:   "Remove a geofence and stop monitoring it",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.manager.RemoveGeofence(cmd.Context(), args[0]); err != nil {
				return err
			}
			writeLine(cmd.OutOrStdout(), cli.FormatSuccess("Removed geofence "+args[0]))
			return nil
		},
	}
}
