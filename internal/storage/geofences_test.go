package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/Veraticus/fencewatch/internal/common"
	"github.com/Veraticus/fencewatch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codes(fences []model.Geofence) []string {
	out := make([]string, len(fences))
	for i, f := range fences {
		out[i] = f.Code
	}
	return out
}

func TestSQLiteStorage_SaveAndGetGeofence(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	fence := testGeofence("HQ", 48.8566, 2.3522)
	fence.Local = true
	require.NoError(t, store.SaveGeofence(ctx, fence))
	assert.False(t, fence.CreatedAt.IsZero())

	got, err := store.GetGeofence(ctx, "HQ")
	require.NoError(t, err)
	assert.Equal(t, "Fence HQ", got.Name)
	assert.InDelta(t, 48.8566, got.Latitude, 1e-9)
	assert.InDelta(t, 2.3522, got.Longitude, 1e-9)
	assert.Equal(t, 200, got.Radius)
	assert.True(t, got.Local)
	assert.False(t, got.Monitored)
}

func TestSQLiteStorage_GetGeofenceNotFound(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	_, err := store.GetGeofence(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStorage_SaveGeofenceDuplicate(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SaveGeofence(ctx, testGeofence("A", 0, 0)))
	err := store.SaveGeofence(ctx, testGeofence("A", 1, 1))
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)
}

func TestSQLiteStorage_UpdateGeofence(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	fence := testGeofence("A", 0, 0)
	require.NoError(t, store.SaveGeofence(ctx, fence))

	fence.Name = "Renamed"
	fence.Radius = 350
	fence.Latitude = 10
	require.NoError(t, store.UpdateGeofence(ctx, fence))

	got, err := store.GetGeofence(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, 350, got.Radius)
	assert.InDelta(t, 10.0, got.Latitude, 1e-9)

	err = store.UpdateGeofence(ctx, testGeofence("ghost", 0, 0))
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStorage_DeleteGeofence(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SaveGeofence(ctx, testGeofence("A", 0, 0)))
	require.NoError(t, store.DeleteGeofence(ctx, "A"))
	assert.ErrorIs(t, store.DeleteGeofence(ctx, "A"), common.ErrNotFound)
}

func TestSQLiteStorage_DeleteGeofencesIgnoresUnknown(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SaveGeofence(ctx, testGeofence("X", 0, 0)))
	require.NoError(t, store.SaveGeofence(ctx, testGeofence("Z", 0, 0)))

	n, err := store.DeleteGeofences(ctx, []string{"X", "Y"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := store.GetAllGeofences(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Z"}, codes(all))
}

func TestSQLiteStorage_GetGeofencesInBox(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SaveGeofence(ctx, testGeofence("in-1", 0.001, 0.001)))
	require.NoError(t, store.SaveGeofence(ctx, testGeofence("in-2", -0.05, 0.05)))
	require.NoError(t, store.SaveGeofence(ctx, testGeofence("out-lat", 1, 0)))
	require.NoError(t, store.SaveGeofence(ctx, testGeofence("out-lon", 0, -1)))

	box := model.BoundingBox{MinLatitude: -0.1, MaxLatitude: 0.1, MinLongitude: -0.1, MaxLongitude: 0.1}
	got, err := store.GetGeofencesInBox(ctx, box)
	require.NoError(t, err)
	assert.Equal(t, []string{"in-1", "in-2"}, codes(got))
}

func TestSQLiteStorage_GetGeofencesInBoxAcrossAntimeridian(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SaveGeofence(ctx, testGeofence("east", 0, 179.99)))
	require.NoError(t, store.SaveGeofence(ctx, testGeofence("west", 0, -179.99)))
	require.NoError(t, store.SaveGeofence(ctx, testGeofence("far", 0, 0)))

	box := model.BoundingBox{MinLatitude: -1, MaxLatitude: 1, MinLongitude: 179.9, MaxLongitude: -179.9}
	got, err := store.GetGeofencesInBox(ctx, box)
	require.NoError(t, err)
	assert.Equal(t, []string{"east", "west"}, codes(got))
}

func TestSQLiteStorage_SetMonitored(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	for _, code := range []string{"A", "B", "C"} {
		require.NoError(t, store.SaveGeofence(ctx, testGeofence(code, 0, 0)))
	}

	require.NoError(t, store.SetMonitored(ctx, []string{"A", "B"}, nil))
	monitored, err := store.GetMonitoredGeofences(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, codes(monitored))

	require.NoError(t, store.SetMonitored(ctx, []string{"C"}, []string{"A"}))
	monitored, err = store.GetMonitoredGeofences(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, codes(monitored))
}

func TestSQLiteStorage_GetSyncedGeofencesExcludesLocal(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	local := testGeofence("L", 0, 0)
	local.Local = true
	require.NoError(t, store.SaveGeofence(ctx, local))
	require.NoError(t, store.SaveGeofence(ctx, testGeofence("B", 0, 0)))
	require.NoError(t, store.SaveGeofence(ctx, testGeofence("A", 0, 0)))

	synced, err := store.GetSyncedGeofences(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, codes(synced))
}

func TestSQLiteStorage_GetGeofencesByCodesRespectsLimit(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	var all []string
	for i := 0; i < 7; i++ {
		code := fmt.Sprintf("F%02d", i)
		all = append(all, code)
		require.NoError(t, store.SaveGeofence(ctx, testGeofence(code, 0, 0)))
	}

	got, err := store.GetGeofencesByCodes(ctx, append(all, "nope"), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"F00", "F01", "F02", "F03", "F04"}, codes(got))

	_, err = store.GetGeofencesByCodes(ctx, all, 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}
