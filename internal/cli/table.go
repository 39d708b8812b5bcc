package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/fencewatch/internal/model"
)

// RenderTable lays out rows under headers with per-column widths.
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	header := make([]string, len(headers))
	for i, h := range headers {
		header[i] = TableCellStyle.Width(widths[i] + 2).Render(h)
	}
	b.WriteString(TableHeaderStyle.Render(lipgloss.JoinHorizontal(lipgloss.Top, header...)))
	b.WriteString("\n")

	for _, row := range rows {
		cells := make([]string, len(headers))
		for i := range headers {
			var v string
			if i < len(row) {
				v = row[i]
			}
			cells[i] = TableCellStyle.Width(widths[i] + 2).Render(v)
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
		b.WriteString("\n")
	}
	return b.String()
}

// GeofenceRows turns fences into table rows.
func GeofenceRows(fences []model.Geofence) [][]string {
	rows := make([][]string, 0, len(fences))
	for _, g := range fences {
		flags := make([]string, 0, 2)
		if g.Monitored {
			flags = append(flags, "monitored")
		}
		if g.Local {
			flags = append(flags, "local")
		}
		rows = append(rows, []string{
			g.Code,
			g.Name,
			fmt.Sprintf("%.5f, %.5f", g.Latitude, g.Longitude),
			strconv.Itoa(g.Radius) + "m",
			strings.Join(flags, ","),
		})
	}
	return rows
}

// GeofenceHeaders are the column names for GeofenceRows.
var GeofenceHeaders = []string{"CODE", "NAME", "CENTER", "RADIUS", "FLAGS"}

// DownloadHeaders are the column names for DownloadRows.
var DownloadHeaders = []string{"ID", "STATUS", "PROGRESS", "STARTED", "ENDED"}

// DownloadRows turns download records into table rows.
func DownloadRows(downloads []model.Download) [][]string {
	rows := make([][]string, 0, len(downloads))
	for _, d := range downloads {
		ended := "-"
		if d.EndedAt != nil {
			ended = d.EndedAt.Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []string{
			strconv.FormatInt(d.ID, 10),
			StatusLabel(d.Status),
			fmt.Sprintf("%3.0f%%", d.Progress*100),
			d.StartedAt.Format("2006-01-02 15:04:05"),
			ended,
		})
	}
	return rows
}

// StatusLabel colors a download status by outcome.
func StatusLabel(status model.DownloadStatus) string {
	switch status {
	case model.DownloadProcessed:
		return SuccessStyle.Render(string(status))
	case model.DownloadNetworkError, model.DownloadProcessingError:
		return ErrorStyle.Render(string(status))
	case model.DownloadInProgress, model.DownloadReceived:
		return InfoStyle.Render(string(status))
	default:
		return SubtleStyle.Render(string(status))
	}
}
