// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/fencewatch/internal/model"
)

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Geofence operations
	GetGeofence(ctx context.Context, code string) (*model.Geofence, error)
	GetAllGeofences(ctx context.Context) ([]model.Geofence, error)
	GetGeofencesInBox(ctx context.Context, box model.BoundingBox) ([]model.Geofence, error)
	GetMonitoredGeofences(ctx context.Context) ([]model.Geofence, error)
	GetSyncedGeofences(ctx context.Context) ([]model.Geofence, error)
	GetGeofencesByCodes(ctx context.Context, codes []string, limit int) ([]model.Geofence, error)
	SaveGeofence(ctx context.Context, geofence *model.Geofence) error
	UpdateGeofence(ctx context.Context, geofence *model.Geofence) error
	DeleteGeofence(ctx context.Context, code string) error
	DeleteGeofences(ctx context.Context, codes []string) (int, error)
	SetMonitored(ctx context.Context, monitored, unmonitored []string) error

	// Download operations
	CreateDownload(ctx context.Context, download *model.Download) error
	UpdateDownload(ctx context.Context, download *model.Download) error
	GetDownload(ctx context.Context, id int64) (*model.Download, error)
	GetDownloadByTask(ctx context.Context, sessionID string, taskID int64) (*model.Download, error)
	GetDownloads(ctx context.Context, limit int) ([]model.Download, error)

	// Database management
	DeleteAll(ctx context.Context) error
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}

// RegionMonitor is the platform primitive that watches circular regions.
type RegionMonitor interface {
	StartMonitoring(ctx context.Context, region model.Region) error
	StopMonitoring(ctx context.Context, identifier string) error
	MonitoredRegions() []model.Region
	MaxRegions() int
}

// TransitionHandler receives boundary crossings from a RegionMonitor.
type TransitionHandler interface {
	HandleTransition(ctx context.Context, identifier string, crossing model.Crossing)
}

// GeofenceObserver is notified of enter and exit events. The geofence is
// nil when the region identifier no longer resolves to a catalog row.
type GeofenceObserver interface {
	DidEnterGeofence(ctx context.Context, geofence *model.Geofence)
	DidExitGeofence(ctx context.Context, geofence *model.Geofence)
}

// DownloadObserver is notified about catalog refresh progress.
type DownloadObserver interface {
	DidStartDownload(ctx context.Context, download model.Download)
	DidReceiveDownload(ctx context.Context, download model.Download)
}

// RetryOptions configures retry behavior.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
