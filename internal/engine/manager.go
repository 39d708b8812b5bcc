// Package engine wires the catalog, the monitoring reconciler, the event
// dispatcher and the sync controller behind one facade.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/fencewatch/internal/dispatch"
	"github.com/Veraticus/fencewatch/internal/geo"
	"github.com/Veraticus/fencewatch/internal/model"
	"github.com/Veraticus/fencewatch/internal/monitor"
	"github.com/Veraticus/fencewatch/internal/service"
	"github.com/Veraticus/fencewatch/internal/syncer"
)

// ErrNotAuthorized is returned for positions received while location
// monitoring is not permitted.
var ErrNotAuthorized = errors.New("location monitoring not authorized")

// ErrInvalidGeofence rejects a local geofence with a bad center or radius.
var ErrInvalidGeofence = errors.New("invalid geofence")

// Platform is a region monitor that evaluates positions itself.
type Platform interface {
	service.RegionMonitor
	SetTransitionHandler(h service.TransitionHandler)
	OnDetermineState(fn monitor.StateFunc)
	UpdatePosition(ctx context.Context, pos model.Position)
}

// Manager is the entry point used by the CLI, the daemon and the API.
type Manager struct {
	store      service.Storage
	platform   Platform
	reconciler *monitor.Reconciler
	dispatcher *dispatch.Dispatcher
	syncer     *syncer.Controller
	now        func() time.Time
}

// New wires the platform's transitions into the dispatcher.
func New(store service.Storage, platform Platform, reconciler *monitor.Reconciler, dispatcher *dispatch.Dispatcher, controller *syncer.Controller) *Manager {
	m := &Manager{
		store:      store,
		platform:   platform,
		reconciler: reconciler,
		dispatcher: dispatcher,
		syncer:     controller,
		now:        time.Now,
	}
	platform.SetTransitionHandler(dispatcher)
	platform.OnDetermineState(func(_ context.Context, identifier string, state model.RegionState) {
		slog.Debug("Determined region state", "code", identifier, "state", state)
	})
	return m
}

// Reconciler returns the monitoring reconciler.
func (m *Manager) Reconciler() *monitor.Reconciler { return m.reconciler }

// Dispatcher returns the event dispatcher.
func (m *Manager) Dispatcher() *dispatch.Dispatcher { return m.dispatcher }

// Syncer returns the sync controller.
func (m *Manager) Syncer() *syncer.Controller { return m.syncer }

// UpdatePosition reconciles the monitored set around pos and then lets the
// platform evaluate crossings for the new set.
func (m *Manager) UpdatePosition(ctx context.Context, pos model.Position) (monitor.Delta, error) {
	if !m.syncer.Authorized() {
		return monitor.Delta{}, ErrNotAuthorized
	}

	delta, err := m.reconciler.UpdatePosition(ctx, pos)
	if err != nil {
		return delta, err
	}
	m.platform.UpdatePosition(ctx, pos)
	return delta, nil
}

// HandleAuthorization forwards a permission change to the sync controller.
func (m *Manager) HandleAuthorization(ctx context.Context, status model.AuthorizationStatus) error {
	return m.syncer.HandleAuthorization(ctx, status)
}

// AddGeofence stores a local geofence under a generated code and
// reconciles around the last position.
func (m *Manager) AddGeofence(ctx context.Context, name string, center model.Position, radius int) (*model.Geofence, error) {
	if !center.Valid() {
		return nil, fmt.Errorf("%w: center (%f, %f) out of range", ErrInvalidGeofence, center.Latitude, center.Longitude)
	}
	if radius <= 0 {
		return nil, fmt.Errorf("%w: radius must be positive, got %d", ErrInvalidGeofence, radius)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidGeofence)
	}

	now := m.now()
	fence := &model.Geofence{
		Code:      uuid.NewString(),
		Name:      name,
		Latitude:  center.Latitude,
		Longitude: center.Longitude,
		Radius:    radius,
		Local:     true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.SaveGeofence(ctx, fence); err != nil {
		return nil, fmt.Errorf("failed to save geofence: %w", err)
	}
	slog.Info("Added local geofence", "code", fence.Code, "name", fence.Name, "radius", fence.Radius)

	if err := m.refresh(ctx); err != nil {
		return fence, err
	}
	// The reconcile may have flagged the new fence as monitored.
	return m.store.GetGeofence(ctx, fence.Code)
}

// RemoveGeofence stops monitoring code and deletes it from the catalog.
func (m *Manager) RemoveGeofence(ctx context.Context, code string) error {
	if err := m.reconciler.Remove(ctx, code); err != nil {
		return fmt.Errorf("failed to remove geofence %s: %w", code, err)
	}
	slog.Info("Removed geofence", "code", code)
	return nil
}

// Reconcile refreshes the monitored set around the last position.
func (m *Manager) Reconcile(ctx context.Context) (monitor.Delta, error) {
	return m.reconciler.Refresh(ctx)
}

func (m *Manager) refresh(ctx context.Context) error {
	if !m.syncer.Authorized() {
		return nil
	}
	if _, err := m.reconciler.Refresh(ctx); err != nil && !errors.Is(err, geo.ErrNoPosition) {
		return fmt.Errorf("failed to reconcile: %w", err)
	}
	return nil
}

// QueryAllGeofences returns the whole catalog ordered by code.
func (m *Manager) QueryAllGeofences(ctx context.Context) ([]model.Geofence, error) {
	return m.store.GetAllGeofences(ctx)
}

// QueryGeofence resolves a region identifier back to its catalog row.
func (m *Manager) QueryGeofence(ctx context.Context, code string) (*model.Geofence, error) {
	return m.store.GetGeofence(ctx, code)
}

// MonitoredGeofences returns the rows flagged as monitored.
func (m *Manager) MonitoredGeofences(ctx context.Context) ([]model.Geofence, error) {
	return m.store.GetMonitoredGeofences(ctx)
}

// Downloads returns the most recent download records.
func (m *Manager) Downloads(ctx context.Context, limit int) ([]model.Download, error) {
	return m.store.GetDownloads(ctx, limit)
}

// Synchronize refreshes the catalog from the backend. force ignores the
// download throttle.
func (m *Manager) Synchronize(ctx context.Context, force bool) (syncer.Outcome, error) {
	if force {
		return m.syncer.SynchronizeNow(ctx)
	}
	return m.syncer.Synchronize(ctx)
}

// Close waits for in-flight deliveries to finish.
func (m *Manager) Close() {
	m.dispatcher.Close()
}
