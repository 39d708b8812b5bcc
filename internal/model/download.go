package model

import "time"

// DownloadStatus tracks a catalog refresh through its lifecycle.
type DownloadStatus string

// Download statuses.
const (
	DownloadNotStarted      DownloadStatus = "not_started"
	DownloadInProgress      DownloadStatus = "in_progress"
	DownloadReceived        DownloadStatus = "received"
	DownloadProcessed       DownloadStatus = "processed"
	DownloadProcessingError DownloadStatus = "processing_error"
	DownloadNetworkError    DownloadStatus = "network_error"
)

// IsValid checks if the status is one of the known values.
func (s DownloadStatus) IsValid() bool {
	switch s {
	case DownloadNotStarted, DownloadInProgress, DownloadReceived,
		DownloadProcessed, DownloadProcessingError, DownloadNetworkError:
		return true
	}
	return false
}

// IsTerminal reports whether no further transport updates are expected.
func (s DownloadStatus) IsTerminal() bool {
	return s == DownloadProcessed || s == DownloadProcessingError || s == DownloadNetworkError
}

// Download records one catalog refresh.
type Download struct {
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	SessionID string         `json:"session_id"`
	Status    DownloadStatus `json:"status"`
	URL       string         `json:"url,omitempty"`
	ID        int64          `json:"id"`
	TaskID    int64          `json:"task_id"`
	Progress  float64        `json:"progress"`
}

// Finished reports whether the record has been finalized.
func (d *Download) Finished() bool {
	return d.EndedAt != nil
}
