// Package testutil provides test helpers shared by the geofence packages.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/fencewatch/internal/model"
	"github.com/Veraticus/fencewatch/internal/storage"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a new in-memory test database seeded with fences.
// It automatically handles migrations and cleanup.
//
// Example:
//
//	db := testutil.SetupTestDB(t,
//		testutil.Fence("A", 0, 0, 200),
//		testutil.Fence("B", 0, 0.01, 200),
//	)
func SetupTestDB(t *testing.T, fences ...model.Geofence) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	for i := range fences {
		if err := store.SaveGeofence(ctx, &fences[i]); err != nil {
			t.Fatalf("failed to seed geofence %q: %v", fences[i].Code, err)
		}
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{
		Storage: store,
		t:       t,
	}
}

// Fence builds a synced geofence fixture.
func Fence(code string, lat, lon float64, radius int) model.Geofence {
	return model.Geofence{
		Code:      code,
		Name:      "Fence " + code,
		Latitude:  lat,
		Longitude: lon,
		Radius:    radius,
	}
}

// MustGet returns the geofence with the given code or fails the test.
func (db *TestDB) MustGet(code string) model.Geofence {
	db.t.Helper()
	g, err := db.Storage.GetGeofence(context.Background(), code)
	if err != nil {
		db.t.Fatalf("geofence %q: %v", code, err)
	}
	return *g
}

// MonitoredCodes returns the codes flagged monitored in the catalog.
func (db *TestDB) MonitoredCodes() []string {
	db.t.Helper()
	fences, err := db.Storage.GetMonitoredGeofences(context.Background())
	if err != nil {
		db.t.Fatalf("failed to list monitored geofences: %v", err)
	}
	out := make([]string, len(fences))
	for i, f := range fences {
		out[i] = f.Code
	}
	return out
}

// Codes returns every code in the catalog.
func (db *TestDB) Codes() []string {
	db.t.Helper()
	fences, err := db.Storage.GetAllGeofences(context.Background())
	if err != nil {
		db.t.Fatalf("failed to list geofences: %v", err)
	}
	out := make([]string, len(fences))
	for i, f := range fences {
		out[i] = f.Code
	}
	return out
}
