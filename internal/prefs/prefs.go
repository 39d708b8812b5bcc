// Package prefs keeps small device preferences (sync throttle state, device
// descriptor) in an embedded badger database.
package prefs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Keys.
const (
	KeyLastDownloadDate      = "fencewatch.lastDownloadDate"
	KeyLastDownloadErrorDate = "fencewatch.lastDownloadErrorDate"
	KeyDownloadErrorCount    = "fencewatch.downloads.errorCount"
	KeyLastSyncDate          = "fencewatch.lastSyncDate"
	KeyMaxDownloadRetry      = "fencewatch.maxDownloadRetry"
	KeyDescriptor            = "fencewatch.descriptor"
)

// DefaultMaxDownloadRetry is used until a ceiling is stored.
const DefaultMaxDownloadRetry = 3

var allKeys = []string{
	KeyLastDownloadDate,
	KeyLastDownloadErrorDate,
	KeyDownloadErrorCount,
	KeyLastSyncDate,
	KeyMaxDownloadRetry,
}

// Config selects where preferences live.
type Config struct {
	Logger   *slog.Logger
	Path     string
	InMemory bool
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is safe for concurrent use.
type Store struct {
	db *badger.DB
}

// Open opens or creates the preference database.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent preferences")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create preferences directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open preferences: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key string) (string, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read preference %s: %w", key, err)
	}
	return string(value), true, nil
}

func (s *Store) set(key, value string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("failed to write preference %s: %w", key, err)
	}
	return nil
}

func (s *Store) remove(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to remove preference %s: %w", key, err)
	}
	return nil
}

// Time returns the stored time for key, or nil when unset.
func (s *Store) Time(key string) (*time.Time, error) {
	raw, ok, err := s.get(key)
	if err != nil || !ok {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid time stored for %s: %w", key, err)
	}
	return &t, nil
}

// SetTime stores t for key; a nil t removes the key.
func (s *Store) SetTime(key string, t *time.Time) error {
	if t == nil {
		return s.remove(key)
	}
	return s.set(key, t.UTC().Format(time.RFC3339Nano))
}

// Int returns the stored integer for key, or def when unset.
func (s *Store) Int(key string, def int) (int, error) {
	raw, ok, err := s.get(key)
	if err != nil || !ok {
		return def, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("invalid integer stored for %s: %w", key, err)
	}
	return n, nil
}

// SetInt stores n for key.
func (s *Store) SetInt(key string, n int) error {
	return s.set(key, strconv.Itoa(n))
}

// Descriptor returns the device identifier, generating and storing one on
// first use. It survives Reset.
func (s *Store) Descriptor() (string, error) {
	raw, ok, err := s.get(KeyDescriptor)
	if err != nil {
		return "", err
	}
	if ok && raw != "" {
		return raw, nil
	}
	descriptor := uuid.NewString()
	if err := s.set(KeyDescriptor, descriptor); err != nil {
		return "", err
	}
	return descriptor, nil
}

// Reset removes every sync preference. The device descriptor is kept.
func (s *Store) Reset() error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, key := range allKeys {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset preferences: %w", err)
	}
	return nil
}
