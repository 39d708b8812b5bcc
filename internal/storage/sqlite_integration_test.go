package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/fencewatch/internal/model"
)

func TestSQLiteStorage_FullWorkflow(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()

	store, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))

	t.Log("Step 1: seed the catalog in one transaction")
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	for i := 0; i < 250; i++ {
		require.NoError(t, tx.SaveGeofence(ctx, testGeofence(fmt.Sprintf("F%03d", i), float64(i)/100, 0)))
	}
	local := testGeofence("L1", 0.5, 0)
	local.Local = true
	require.NoError(t, tx.SaveGeofence(ctx, local))
	require.NoError(t, tx.Commit())

	t.Log("Step 2: flag the nearest fences as monitored")
	box := model.BoundingBox{MinLatitude: -0.01, MaxLatitude: 0.045, MinLongitude: -1, MaxLongitude: 1}
	near, err := store.GetGeofencesInBox(ctx, box)
	require.NoError(t, err)
	require.Len(t, near, 5)
	codes := make([]string, len(near))
	for i, g := range near {
		codes[i] = g.Code
	}
	require.NoError(t, store.SetMonitored(ctx, codes, nil))

	t.Log("Step 3: record a download")
	d := testDownload("session-1", 1)
	require.NoError(t, store.CreateDownload(ctx, d))
	d.Status = model.DownloadProcessed
	d.Progress = 1
	require.NoError(t, store.UpdateDownload(ctx, d))

	t.Log("Step 4: delete a large batch, ignoring unknown codes")
	var doomed []string
	for i := 100; i < 250; i++ {
		doomed = append(doomed, fmt.Sprintf("F%03d", i))
	}
	doomed = append(doomed, "missing")
	deleted, err := store.DeleteGeofences(ctx, doomed)
	require.NoError(t, err)
	assert.Equal(t, 150, deleted)

	require.NoError(t, store.Close())

	t.Log("Step 5: reopen and verify everything persisted")
	store, err = NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	require.NoError(t, store.Migrate(ctx))

	count, err := countGeofences(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 101, count)

	monitored, err := store.GetMonitoredGeofences(ctx)
	require.NoError(t, err)
	assert.Len(t, monitored, 5)

	synced, err := store.GetSyncedGeofences(ctx)
	require.NoError(t, err)
	assert.Len(t, synced, 100)

	downloads, err := store.GetDownloads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, downloads, 1)
	assert.Equal(t, model.DownloadProcessed, downloads[0].Status)
}
