package service

import (
	"context"

	"github.com/Veraticus/fencewatch/internal/model"
)

// GeofenceObserverFuncs adapts plain functions to GeofenceObserver.
// Nil fields are skipped.
type GeofenceObserverFuncs struct {
	OnEnter func(ctx context.Context, geofence *model.Geofence)
	OnExit  func(ctx context.Context, geofence *model.Geofence)
}

// DidEnterGeofence implements GeofenceObserver.
func (f GeofenceObserverFuncs) DidEnterGeofence(ctx context.Context, geofence *model.Geofence) {
	if f.OnEnter != nil {
		f.OnEnter(ctx, geofence)
	}
}

// DidExitGeofence implements GeofenceObserver.
func (f GeofenceObserverFuncs) DidExitGeofence(ctx context.Context, geofence *model.Geofence) {
	if f.OnExit != nil {
		f.OnExit(ctx, geofence)
	}
}

// DownloadObserverFuncs adapts plain functions to DownloadObserver.
type DownloadObserverFuncs struct {
	OnStart   func(ctx context.Context, download model.Download)
	OnReceive func(ctx context.Context, download model.Download)
}

// DidStartDownload implements DownloadObserver.
func (f DownloadObserverFuncs) DidStartDownload(ctx context.Context, download model.Download) {
	if f.OnStart != nil {
		f.OnStart(ctx, download)
	}
}

// DidReceiveDownload implements DownloadObserver.
func (f DownloadObserverFuncs) DidReceiveDownload(ctx context.Context, download model.Download) {
	if f.OnReceive != nil {
		f.OnReceive(ctx, download)
	}
}
