package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/fencewatch/internal/common"
)

// openApp builds the app for a command from the loaded configuration.
func openApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	if appConfig == nil {
		return nil, fmt.Errorf("%w: configuration not loaded", common.ErrMissingConfig)
	}
	return newApp(cmd.Context(), appConfig, opts)
}

func writef(w io.Writer, format string, args ...any) {
	if _, err := fmt.Fprintf(w, format, args...); err != nil { //nolint:forbidigo // User-facing output
		slog.Error("failed to write output", "error", err)
	}
}

func writeLine(w io.Writer, s string) {
	writef(w, "%s\n", s)
}
