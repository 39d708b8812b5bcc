package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Veraticus/fencewatch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

func testGeofence(code string, lat, lon float64) *model.Geofence {
	return &model.Geofence{
		Code:      code,
		Name:      "Fence " + code,
		Latitude:  lat,
		Longitude: lon,
		Radius:    200,
	}
}

func TestNewSQLiteStorage_EmptyPath(t *testing.T) {
	_, err := NewSQLiteStorage("  ")
	assert.ErrorIs(t, err, ErrEmptyString)
}

func TestNewSQLiteStorage_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "fences.db")
	store, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	assert.Equal(t, dbPath, store.Path())
	assert.FileExists(t, dbPath)
}

func TestSQLiteStorage_TransactionCommit(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)

	require.NoError(t, tx.SaveGeofence(ctx, testGeofence("A", 1, 1)))
	require.NoError(t, tx.SaveGeofence(ctx, testGeofence("B", 2, 2)))
	require.NoError(t, tx.SetMonitored(ctx, []string{"A"}, nil))

	inside, err := tx.GetGeofence(ctx, "A")
	require.NoError(t, err)
	assert.True(t, inside.Monitored)

	require.NoError(t, tx.Commit())

	count, err := countGeofences(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSQLiteStorage_TransactionRollback(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveGeofence(ctx, testGeofence("A", 1, 1)))
	require.NoError(t, tx.Rollback())

	count, err := countGeofences(ctx, store)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSQLiteStorage_TransactionRejectsNesting(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	_, err = tx.BeginTx(ctx)
	assert.ErrorIs(t, err, ErrNestedTransaction)
	assert.Error(t, tx.Migrate(ctx))
}

func TestSQLiteStorage_DeleteAll(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SaveGeofence(ctx, testGeofence("A", 1, 1)))
	require.NoError(t, store.CreateDownload(ctx, testDownload("session", 1)))

	require.NoError(t, store.DeleteAll(ctx))

	count, err := countGeofences(ctx, store)
	require.NoError(t, err)
	assert.Zero(t, count)

	downloads, err := store.GetDownloads(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, downloads)
}

func TestPlaceholdersAndChunk(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))

	parts := chunk([]string{"a", "b", "c", "d", "e"}, 2)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, parts)
	assert.Empty(t, chunk(nil, 2))
}

func countGeofences(ctx context.Context, store *SQLiteStorage) (int, error) {
	all, err := store.GetAllGeofences(ctx)
	return len(all), err
}
