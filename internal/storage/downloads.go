package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/fencewatch/internal/common"
	"github.com/Veraticus/fencewatch/internal/model"
)

const downloadColumns = `id, session_id, task_id, status, progress, url, started_at, ended_at`

func scanDownload(row rowScanner) (model.Download, error) {
	var (
		d       model.Download
		url     sql.NullString
		endedAt sql.NullTime
	)
	err := row.Scan(
		&d.ID,
		&d.SessionID,
		&d.TaskID,
		&d.Status,
		&d.Progress,
		&url,
		&d.StartedAt,
		&endedAt,
	)
	if err != nil {
		return d, err
	}
	d.URL = url.String
	if endedAt.Valid {
		t := endedAt.Time
		d.EndedAt = &t
	}
	return d, nil
}

// CreateDownload inserts a download record and sets its ID.
func (s *SQLiteStorage) CreateDownload(ctx context.Context, download *model.Download) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDownload(download); err != nil {
		return err
	}
	return s.createDownloadTx(ctx, s.db, download)
}

func (s *SQLiteStorage) createDownloadTx(ctx context.Context, q queryable, download *model.Download) error {
	result, err := q.ExecContext(ctx, `
		INSERT INTO downloads (session_id, task_id, status, progress, url, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		download.SessionID,
		download.TaskID,
		download.Status,
		download.Progress,
		nullString(download.URL),
		download.StartedAt,
		download.EndedAt,
	)
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: download %s/%d", common.ErrDuplicateEntry, download.SessionID, download.TaskID)
	}
	if err != nil {
		return fmt.Errorf("failed to create download: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get download id: %w", err)
	}
	download.ID = id
	return nil
}

// UpdateDownload persists status, progress, location and end time.
func (s *SQLiteStorage) UpdateDownload(ctx context.Context, download *model.Download) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDownload(download); err != nil {
		return err
	}
	return s.updateDownloadTx(ctx, s.db, download)
}

func (s *SQLiteStorage) updateDownloadTx(ctx context.Context, q queryable, download *model.Download) error {
	result, err := q.ExecContext(ctx, `
		UPDATE downloads
		SET status = ?, progress = ?, url = ?, ended_at = ?
		WHERE id = ?
	`,
		download.Status,
		download.Progress,
		nullString(download.URL),
		download.EndedAt,
		download.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update download: %w", err)
	}
	return requireAffected(result, fmt.Sprintf("download %d", download.ID))
}

// GetDownload retrieves a download record by ID.
func (s *SQLiteStorage) GetDownload(ctx context.Context, id int64) (*model.Download, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getDownloadTx(ctx, s.db, "WHERE id = ?", id)
}

// GetDownloadByTask finds the record for a transport session and task.
func (s *SQLiteStorage) GetDownloadByTask(ctx context.Context, sessionID string, taskID int64) (*model.Download, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(sessionID, "sessionID"); err != nil {
		return nil, err
	}
	return s.getDownloadTx(ctx, s.db, "WHERE session_id = ? AND task_id = ?", sessionID, taskID)
}

func (s *SQLiteStorage) getDownloadTx(ctx context.Context, q queryable, where string, args ...any) (*model.Download, error) {
	row := q.QueryRowContext(ctx, `SELECT `+downloadColumns+` FROM downloads `+where, args...)
	d, err := scanDownload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: download", common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get download: %w", err)
	}
	return &d, nil
}

// GetDownloads returns the most recent downloads first.
func (s *SQLiteStorage) GetDownloads(ctx context.Context, limit int) ([]model.Download, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getDownloadsTx(ctx, s.db, limit)
}

func (s *SQLiteStorage) getDownloadsTx(ctx context.Context, q queryable, limit int) ([]model.Download, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var downloads []model.Download
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan download: %w", err)
		}
		downloads = append(downloads, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate downloads: %w", err)
	}
	return downloads, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
