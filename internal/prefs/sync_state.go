package prefs

import "time"

// SyncState is the throttle state the sync controller persists between runs.
type SyncState struct {
	LastDownloadDate      *time.Time
	LastDownloadErrorDate *time.Time
	LastSyncDate          *time.Time
	DownloadErrorCount    int
	MaxDownloadRetry      int
}

// LoadSyncState reads every throttle preference at once.
func (s *Store) LoadSyncState() (SyncState, error) {
	var (
		state SyncState
		err   error
	)
	if state.LastDownloadDate, err = s.Time(KeyLastDownloadDate); err != nil {
		return SyncState{}, err
	}
	if state.LastDownloadErrorDate, err = s.Time(KeyLastDownloadErrorDate); err != nil {
		return SyncState{}, err
	}
	if state.LastSyncDate, err = s.Time(KeyLastSyncDate); err != nil {
		return SyncState{}, err
	}
	if state.DownloadErrorCount, err = s.Int(KeyDownloadErrorCount, 0); err != nil {
		return SyncState{}, err
	}
	if state.MaxDownloadRetry, err = s.Int(KeyMaxDownloadRetry, DefaultMaxDownloadRetry); err != nil {
		return SyncState{}, err
	}
	return state, nil
}

// SaveSyncState writes every throttle preference. Nil times are removed.
func (s *Store) SaveSyncState(state SyncState) error {
	if err := s.SetTime(KeyLastDownloadDate, state.LastDownloadDate); err != nil {
		return err
	}
	if err := s.SetTime(KeyLastDownloadErrorDate, state.LastDownloadErrorDate); err != nil {
		return err
	}
	if err := s.SetTime(KeyLastSyncDate, state.LastSyncDate); err != nil {
		return err
	}
	if err := s.SetInt(KeyDownloadErrorCount, state.DownloadErrorCount); err != nil {
		return err
	}
	return s.SetInt(KeyMaxDownloadRetry, state.MaxDownloadRetry)
}
