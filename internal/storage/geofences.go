package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/fencewatch/internal/common"
	"github.com/Veraticus/fencewatch/internal/model"

	sqlite3 "github.com/mattn/go-sqlite3"
)

const geofenceColumns = `code, name, latitude, longitude, radius, monitored, local, created_at, updated_at`

// maxInList keeps IN (...) lists well below SQLITE_MAX_VARIABLE_NUMBER.
const maxInList = 500

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGeofence(row rowScanner) (model.Geofence, error) {
	var g model.Geofence
	err := row.Scan(
		&g.Code,
		&g.Name,
		&g.Latitude,
		&g.Longitude,
		&g.Radius,
		&g.Monitored,
		&g.Local,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	return g, err
}

func scanGeofences(rows *sql.Rows) ([]model.Geofence, error) {
	defer func() { _ = rows.Close() }()

	var geofences []model.Geofence
	for rows.Next() {
		g, err := scanGeofence(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan geofence: %w", err)
		}
		geofences = append(geofences, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate geofences: %w", err)
	}
	return geofences, nil
}

// GetGeofence retrieves a geofence by code.
func (s *SQLiteStorage) GetGeofence(ctx context.Context, code string) (*model.Geofence, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(code, "code"); err != nil {
		return nil, err
	}
	return s.getGeofenceTx(ctx, s.db, code)
}

func (s *SQLiteStorage) getGeofenceTx(ctx context.Context, q queryable, code string) (*model.Geofence, error) {
	row := q.QueryRowContext(ctx, `SELECT `+geofenceColumns+` FROM geofences WHERE code = ?`, code)
	g, err := scanGeofence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: geofence %s", common.ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get geofence: %w", err)
	}
	return &g, nil
}

// GetAllGeofences returns the whole catalog ordered by code.
func (s *SQLiteStorage) GetAllGeofences(ctx context.Context) ([]model.Geofence, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listGeofencesTx(ctx, s.db, "", nil)
}

// GetMonitoredGeofences returns rows flagged as actively monitored.
func (s *SQLiteStorage) GetMonitoredGeofences(ctx context.Context) ([]model.Geofence, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listGeofencesTx(ctx, s.db, "WHERE monitored = 1", nil)
}

// GetSyncedGeofences returns the backend-owned rows ordered by code.
func (s *SQLiteStorage) GetSyncedGeofences(ctx context.Context) ([]model.Geofence, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listGeofencesTx(ctx, s.db, "WHERE local = 0", nil)
}

func (s *SQLiteStorage) listGeofencesTx(ctx context.Context, q queryable, where string, args []any) ([]model.Geofence, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+geofenceColumns+` FROM geofences `+where+` ORDER BY code ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query geofences: %w", err)
	}
	return scanGeofences(rows)
}

// GetGeofencesInBox returns rows whose center lies in box. A box whose
// MinLongitude exceeds MaxLongitude wraps across the antimeridian.
func (s *SQLiteStorage) GetGeofencesInBox(ctx context.Context, box model.BoundingBox) ([]model.Geofence, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getGeofencesInBoxTx(ctx, s.db, box)
}

func (s *SQLiteStorage) getGeofencesInBoxTx(ctx context.Context, q queryable, box model.BoundingBox) ([]model.Geofence, error) {
	if box.MinLongitude <= box.MaxLongitude {
		return s.listGeofencesTx(ctx, q,
			"WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?",
			[]any{box.MinLatitude, box.MaxLatitude, box.MinLongitude, box.MaxLongitude})
	}
	return s.listGeofencesTx(ctx, q,
		"WHERE latitude BETWEEN ? AND ? AND (longitude >= ? OR longitude <= ?)",
		[]any{box.MinLatitude, box.MaxLatitude, box.MinLongitude, box.MaxLongitude})
}

// GetGeofencesByCodes returns up to limit rows whose code is in codes.
func (s *SQLiteStorage) GetGeofencesByCodes(ctx context.Context, codes []string, limit int) ([]model.Geofence, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getGeofencesByCodesTx(ctx, s.db, codes, limit)
}

func (s *SQLiteStorage) getGeofencesByCodesTx(ctx context.Context, q queryable, codes []string, limit int) ([]model.Geofence, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}

	var result []model.Geofence
	for _, part := range chunk(codes, maxInList) {
		remaining := limit - len(result)
		if remaining <= 0 {
			break
		}
		args := append(stringArgs(part), remaining)
		rows, err := q.QueryContext(ctx,
			`SELECT `+geofenceColumns+` FROM geofences WHERE code IN (`+placeholders(len(part))+`) ORDER BY code ASC LIMIT ?`,
			args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query geofences by code: %w", err)
		}
		found, err := scanGeofences(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, found...)
	}
	return result, nil
}

// SaveGeofence inserts a new geofence.
func (s *SQLiteStorage) SaveGeofence(ctx context.Context, geofence *model.Geofence) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateGeofence(geofence); err != nil {
		return err
	}
	return s.saveGeofenceTx(ctx, s.db, geofence)
}

func (s *SQLiteStorage) saveGeofenceTx(ctx context.Context, q queryable, geofence *model.Geofence) error {
	now := time.Now()
	if geofence.CreatedAt.IsZero() {
		geofence.CreatedAt = now
	}
	geofence.UpdatedAt = now

	_, err := q.ExecContext(ctx, `
		INSERT INTO geofences (`+geofenceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		geofence.Code,
		geofence.Name,
		geofence.Latitude,
		geofence.Longitude,
		geofence.Radius,
		geofence.Monitored,
		geofence.Local,
		geofence.CreatedAt,
		geofence.UpdatedAt,
	)
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: geofence %s", common.ErrDuplicateEntry, geofence.Code)
	}
	if err != nil {
		return fmt.Errorf("failed to save geofence: %w", err)
	}
	return nil
}

// UpdateGeofence overwrites the mutable attributes of an existing geofence.
func (s *SQLiteStorage) UpdateGeofence(ctx context.Context, geofence *model.Geofence) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateGeofence(geofence); err != nil {
		return err
	}
	return s.updateGeofenceTx(ctx, s.db, geofence)
}

func (s *SQLiteStorage) updateGeofenceTx(ctx context.Context, q queryable, geofence *model.Geofence) error {
	geofence.UpdatedAt = time.Now()

	result, err := q.ExecContext(ctx, `
		UPDATE geofences
		SET name = ?, latitude = ?, longitude = ?, radius = ?, monitored = ?, local = ?, updated_at = ?
		WHERE code = ?
	`,
		geofence.Name,
		geofence.Latitude,
		geofence.Longitude,
		geofence.Radius,
		geofence.Monitored,
		geofence.Local,
		geofence.UpdatedAt,
		geofence.Code,
	)
	if err != nil {
		return fmt.Errorf("failed to update geofence: %w", err)
	}
	return requireAffected(result, "geofence "+geofence.Code)
}

// DeleteGeofence removes a single geofence.
func (s *SQLiteStorage) DeleteGeofence(ctx context.Context, code string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(code, "code"); err != nil {
		return err
	}
	return s.deleteGeofenceTx(ctx, s.db, code)
}

func (s *SQLiteStorage) deleteGeofenceTx(ctx context.Context, q queryable, code string) error {
	result, err := q.ExecContext(ctx, `DELETE FROM geofences WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("failed to delete geofence: %w", err)
	}
	return requireAffected(result, "geofence "+code)
}

// DeleteGeofences removes every row whose code is listed and reports how
// many were deleted. Unknown codes are ignored.
func (s *SQLiteStorage) DeleteGeofences(ctx context.Context, codes []string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	var deleted int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		n, err := s.deleteGeofencesTx(ctx, tx, codes)
		deleted = n
		return err
	})
	return deleted, err
}

func (s *SQLiteStorage) deleteGeofencesTx(ctx context.Context, q queryable, codes []string) (int, error) {
	var total int64
	for _, part := range chunk(codes, maxInList) {
		result, err := q.ExecContext(ctx,
			`DELETE FROM geofences WHERE code IN (`+placeholders(len(part))+`)`,
			stringArgs(part)...)
		if err != nil {
			return 0, fmt.Errorf("failed to delete geofences: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += n
	}
	return int(total), nil
}

// SetMonitored flips the monitored flag for both lists in one transaction.
func (s *SQLiteStorage) SetMonitored(ctx context.Context, monitored, unmonitored []string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.setMonitoredTx(ctx, tx, monitored, unmonitored)
	})
}

func (s *SQLiteStorage) setMonitoredTx(ctx context.Context, q queryable, monitored, unmonitored []string) error {
	now := time.Now()
	apply := func(codes []string, flag bool) error {
		for _, part := range chunk(codes, maxInList) {
			args := append([]any{flag, now}, stringArgs(part)...)
			if _, err := q.ExecContext(ctx,
				`UPDATE geofences SET monitored = ?, updated_at = ? WHERE code IN (`+placeholders(len(part))+`)`,
				args...); err != nil {
				return fmt.Errorf("failed to update monitored flag: %w", err)
			}
		}
		return nil
	}

	if err := apply(unmonitored, false); err != nil {
		return err
	}
	return apply(monitored, true)
}

func requireAffected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", common.ErrNotFound, what)
	}
	return nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
