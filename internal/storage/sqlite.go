// Package storage provides the data persistence layer for the geofence catalog.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Veraticus/fencewatch/internal/model"
	"github.com/Veraticus/fencewatch/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrNestedTransaction is returned when BeginTx is called on a transaction.
var ErrNestedTransaction = errors.New("nested transactions are not supported")

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// queryable is satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes every write, which is the writer
	// context the reconciler relies on. It also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// newStorageFromDB wraps an existing handle; used by tests with sqlmock.
func newStorageFromDB(db *sql.DB) *SQLiteStorage {
	return &SQLiteStorage{db: db, dbPath: ":memory:"}
}

// Path returns the database location.
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTransaction{
		tx:      tx,
		storage: s,
	}, nil
}

// inTx runs fn inside a fresh transaction and commits on success.
func (s *SQLiteStorage) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteAll removes every geofence and download record.
func (s *SQLiteStorage) DeleteAll(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.deleteAllTx(ctx, tx)
	})
}

func (s *SQLiteStorage) deleteAllTx(ctx context.Context, q queryable) error {
	for _, table := range []string{"geofences", "downloads"} {
		if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// chunk splits values so IN lists stay under SQLite's variable limit.
func chunk(values []string, size int) [][]string {
	var out [][]string
	for len(values) > size {
		out = append(out, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
type sqliteTransaction struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTransaction) GetGeofence(ctx context.Context, code string) (*model.Geofence, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(code, "code"); err != nil {
		return nil, err
	}
	return t.storage.getGeofenceTx(ctx, t.tx, code)
}

func (t *sqliteTransaction) GetAllGeofences(ctx context.Context) ([]model.Geofence, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.listGeofencesTx(ctx, t.tx, "", nil)
}

func (t *sqliteTransaction) GetGeofencesInBox(ctx context.Context, box model.BoundingBox) ([]model.Geofence, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getGeofencesInBoxTx(ctx, t.tx, box)
}

func (t *sqliteTransaction) GetMonitoredGeofences(ctx context.Context) ([]model.Geofence, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.listGeofencesTx(ctx, t.tx, "WHERE monitored = 1", nil)
}

func (t *sqliteTransaction) GetSyncedGeofences(ctx context.Context) ([]model.Geofence, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.listGeofencesTx(ctx, t.tx, "WHERE local = 0", nil)
}

func (t *sqliteTransaction) GetGeofencesByCodes(ctx context.Context, codes []string, limit int) ([]model.Geofence, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getGeofencesByCodesTx(ctx, t.tx, codes, limit)
}

func (t *sqliteTransaction) SaveGeofence(ctx context.Context, geofence *model.Geofence) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateGeofence(geofence); err != nil {
		return err
	}
	return t.storage.saveGeofenceTx(ctx, t.tx, geofence)
}

func (t *sqliteTransaction) UpdateGeofence(ctx context.Context, geofence *model.Geofence) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateGeofence(geofence); err != nil {
		return err
	}
	return t.storage.updateGeofenceTx(ctx, t.tx, geofence)
}

func (t *sqliteTransaction) DeleteGeofence(ctx context.Context, code string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(code, "code"); err != nil {
		return err
	}
	return t.storage.deleteGeofenceTx(ctx, t.tx, code)
}

func (t *sqliteTransaction) DeleteGeofences(ctx context.Context, codes []string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return t.storage.deleteGeofencesTx(ctx, t.tx, codes)
}

func (t *sqliteTransaction) SetMonitored(ctx context.Context, monitored, unmonitored []string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.setMonitoredTx(ctx, t.tx, monitored, unmonitored)
}

func (t *sqliteTransaction) CreateDownload(ctx context.Context, download *model.Download) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDownload(download); err != nil {
		return err
	}
	return t.storage.createDownloadTx(ctx, t.tx, download)
}

func (t *sqliteTransaction) UpdateDownload(ctx context.Context, download *model.Download) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDownload(download); err != nil {
		return err
	}
	return t.storage.updateDownloadTx(ctx, t.tx, download)
}

func (t *sqliteTransaction) GetDownload(ctx context.Context, id int64) (*model.Download, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getDownloadTx(ctx, t.tx, "WHERE id = ?", id)
}

func (t *sqliteTransaction) GetDownloadByTask(ctx context.Context, sessionID string, taskID int64) (*model.Download, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getDownloadTx(ctx, t.tx, "WHERE session_id = ? AND task_id = ?", sessionID, taskID)
}

func (t *sqliteTransaction) GetDownloads(ctx context.Context, limit int) ([]model.Download, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getDownloadsTx(ctx, t.tx, limit)
}

func (t *sqliteTransaction) DeleteAll(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.deleteAllTx(ctx, t.tx)
}

func (t *sqliteTransaction) Migrate(_ context.Context) error {
	// Migrations should not be run within a transaction
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTransaction) BeginTx(_ context.Context) (service.Transaction, error) {
	return nil, ErrNestedTransaction
}

func (t *sqliteTransaction) Close() error {
	return nil
}
