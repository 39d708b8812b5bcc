package syncer

import (
	"time"

	"github.com/Veraticus/fencewatch/internal/prefs"
)

// DefaultErrorBackoff is the wait after a failed download before trying again.
const DefaultErrorBackoff = time.Hour

// Throttle decides when a catalog refresh may run and how attempts update
// the persisted sync state.
type Throttle struct {
	IntervalDays int
	ErrorBackoff time.Duration
}

func (t Throttle) interval() time.Duration {
	days := t.IntervalDays
	if days < 1 {
		days = 1
	}
	return time.Duration(days) * 24 * time.Hour
}

func (t Throttle) backoff() time.Duration {
	if t.ErrorBackoff <= 0 {
		return DefaultErrorBackoff
	}
	return t.ErrorBackoff
}

// Allow reports whether a download may start at now, and if not, why.
func (t Throttle) Allow(state prefs.SyncState, now time.Time) (bool, string) {
	if state.LastDownloadDate != nil && now.Sub(*state.LastDownloadDate) < t.interval() {
		return false, "last download is recent"
	}
	if state.LastDownloadErrorDate != nil && now.Sub(*state.LastDownloadErrorDate) < t.backoff() {
		return false, "last download failed recently"
	}
	return true, ""
}

// Attempt stamps the start of a download.
func (t Throttle) Attempt(state *prefs.SyncState, now time.Time) {
	state.LastDownloadDate = &now
}

// Failure records a failed download. Once the consecutive failure count
// reaches the retry ceiling the counter is cleared and the next attempt
// waits a full interval.
func (t Throttle) Failure(state *prefs.SyncState, now time.Time) {
	limit := state.MaxDownloadRetry
	if limit < 1 {
		limit = prefs.DefaultMaxDownloadRetry
	}

	state.DownloadErrorCount++
	if state.DownloadErrorCount >= limit {
		state.DownloadErrorCount = 0
		state.LastDownloadErrorDate = nil
		state.LastDownloadDate = &now
		return
	}
	state.LastDownloadErrorDate = &now
	state.LastDownloadDate = nil
}

// Interrupted forgets the attempt without counting it as a failure.
func (t Throttle) Interrupted(state *prefs.SyncState) {
	state.LastDownloadDate = nil
}

// Success clears failure state and advances the sync watermark.
func (t Throttle) Success(state *prefs.SyncState, updatedBefore *time.Time) {
	state.DownloadErrorCount = 0
	state.LastDownloadErrorDate = nil
	if updatedBefore != nil {
		state.LastSyncDate = updatedBefore
	}
}
