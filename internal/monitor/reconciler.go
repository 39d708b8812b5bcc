// Package monitor decides which geofences the platform actively watches and
// drives the platform region monitor accordingly.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Veraticus/fencewatch/internal/geo"
	"github.com/Veraticus/fencewatch/internal/model"
	"github.com/Veraticus/fencewatch/internal/service"
)

const (
	// DefaultMaxRegions is the monitoring quota used when none is configured.
	DefaultMaxRegions = 15
	// PlatformMaxRegions is the hard ceiling enforced by the platform.
	PlatformMaxRegions = 20
	// DefaultMaxDistance is the bounding distance in meters around the device.
	DefaultMaxDistance = 10_000
)

// ErrQuotaOutOfRange reports a configured quota outside [1, PlatformMaxRegions].
var ErrQuotaOutOfRange = errors.New("monitoring quota out of range")

// NormalizeQuota returns quota when it is usable. Otherwise it returns
// DefaultMaxRegions together with a non-fatal ErrQuotaOutOfRange.
func NormalizeQuota(quota int) (int, error) {
	if quota < 1 || quota > PlatformMaxRegions {
		return DefaultMaxRegions, fmt.Errorf("%w: %d not in [1,%d], using %d",
			ErrQuotaOutOfRange, quota, PlatformMaxRegions, DefaultMaxRegions)
	}
	return quota, nil
}

// Delta is the outcome of one reconcile cycle, codes sorted ascending.
type Delta struct {
	Start []string `json:"start"`
	Stop  []string `json:"stop"`
	Keep  []string `json:"keep"`
}

// Empty reports whether the cycle changed nothing.
func (d Delta) Empty() bool {
	return len(d.Start) == 0 && len(d.Stop) == 0
}

// Observer is called after every applied reconcile cycle.
type Observer func(ctx context.Context, delta Delta)

// Config holds reconciler tuning.
type Config struct {
	MaxRegions  int
	MaxDistance float64
}

// Reconciler owns the active region set. A nil set means uninitialized;
// an empty non-nil set means monitoring was authoritatively stopped.
// All catalog writes to the monitored flag go through it.
type Reconciler struct {
	store        service.Storage
	platform     service.RegionMonitor
	active       map[string]model.Region
	lastPosition *model.Position
	observers    []Observer
	maxDistance  float64
	quota        int
	mu           sync.Mutex
}

// NewReconciler creates a reconciler. An out of range quota is replaced by
// DefaultMaxRegions and logged as a warning.
func NewReconciler(store service.Storage, platform service.RegionMonitor, cfg Config) *Reconciler {
	quota, err := NormalizeQuota(cfg.MaxRegions)
	if err != nil {
		slog.Warn("Rejected monitoring quota", "configured", cfg.MaxRegions, "using", quota, "error", err)
	}
	if limit := platform.MaxRegions(); limit > 0 && quota > limit {
		slog.Warn("Monitoring quota exceeds platform limit", "quota", quota, "platform_limit", limit)
		quota = limit
	}

	maxDistance := cfg.MaxDistance
	if maxDistance <= 0 {
		maxDistance = DefaultMaxDistance
	}

	return &Reconciler{
		store:       store,
		platform:    platform,
		quota:       quota,
		maxDistance: maxDistance,
	}
}

// Quota returns the effective monitoring quota.
func (r *Reconciler) Quota() int {
	return r.quota
}

// MaxDistance returns the bounding distance in meters.
func (r *Reconciler) MaxDistance() float64 {
	return r.maxDistance
}

// Observe registers fn to be called after each reconcile cycle.
func (r *Reconciler) Observe(fn Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// LastPosition returns the most recent position seen, if any.
func (r *Reconciler) LastPosition() (model.Position, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastPosition == nil {
		return model.Position{}, false
	}
	return *r.lastPosition, true
}

// ActiveRegions returns a sorted copy of the active set and whether it
// has been initialized.
func (r *Reconciler) ActiveRegions() ([]model.Region, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil, false
	}
	regions := make([]model.Region, 0, len(r.active))
	for _, region := range r.active {
		regions = append(regions, region)
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Identifier < regions[j].Identifier })
	return regions, true
}

// UpdatePosition records pos and reconciles against the catalog around it.
func (r *Reconciler) UpdatePosition(ctx context.Context, pos model.Position) (Delta, error) {
	if !pos.Valid() {
		return Delta{}, geo.ErrNoPosition
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastPosition = &pos
	return r.reconcileAroundLocked(ctx, pos)
}

// Refresh reconciles again around the last known position. It returns
// geo.ErrNoPosition when no position has been seen yet.
func (r *Reconciler) Refresh(ctx context.Context) (Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastPosition == nil {
		return Delta{}, geo.ErrNoPosition
	}
	return r.reconcileAroundLocked(ctx, *r.lastPosition)
}

func (r *Reconciler) reconcileAroundLocked(ctx context.Context, pos model.Position) (Delta, error) {
	box := geo.BoundingBoxAround(pos, r.maxDistance)
	candidates, err := r.store.GetGeofencesInBox(ctx, box)
	if err != nil {
		return Delta{}, fmt.Errorf("failed to load candidate geofences: %w", err)
	}

	selected, err := geo.Select(&pos, candidates, r.maxDistance)
	if err != nil {
		return Delta{}, err
	}

	return r.applyLocked(ctx, selected)
}

// Reconcile applies an already ordered selection: the first Quota entries
// become the active set.
func (r *Reconciler) Reconcile(ctx context.Context, selected []model.Geofence) (Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyLocked(ctx, selected)
}

func (r *Reconciler) applyLocked(ctx context.Context, selected []model.Geofence) (Delta, error) {
	if err := r.ensureInitializedLocked(ctx); err != nil {
		return Delta{}, err
	}

	// The first occurrence of a code wins; duplicates do not use quota.
	fencesToMonitor := make([]model.Geofence, 0, min(len(selected), r.quota))
	codesToMonitor := make(map[string]model.Geofence, cap(fencesToMonitor))
	for _, g := range selected {
		if len(fencesToMonitor) == r.quota {
			break
		}
		if _, seen := codesToMonitor[g.Code]; seen {
			continue
		}
		codesToMonitor[g.Code] = g
		fencesToMonitor = append(fencesToMonitor, g)
	}

	var delta Delta
	for code := range r.active {
		if _, ok := codesToMonitor[code]; ok {
			delta.Keep = append(delta.Keep, code)
		} else {
			delta.Stop = append(delta.Stop, code)
		}
	}
	for _, g := range fencesToMonitor {
		if _, ok := r.active[g.Code]; !ok {
			delta.Start = append(delta.Start, g.Code)
		}
	}
	sort.Strings(delta.Start)
	sort.Strings(delta.Stop)
	sort.Strings(delta.Keep)

	if !delta.Empty() {
		if err := r.store.SetMonitored(ctx, delta.Start, delta.Stop); err != nil {
			return Delta{}, fmt.Errorf("failed to persist monitored flags: %w", err)
		}
	}

	// Kept regions the platform lost on its own, or whose geometry changed
	// in the catalog, are started again.
	platformHas := make(map[string]bool)
	for _, region := range r.platform.MonitoredRegions() {
		platformHas[region.Identifier] = true
	}
	var restart []string
	for _, code := range delta.Keep {
		if !platformHas[code] || r.active[code] != codesToMonitor[code].Region() {
			restart = append(restart, code)
		}
	}

	for _, code := range delta.Stop {
		delete(r.active, code)
		if err := r.platform.StopMonitoring(ctx, code); err != nil {
			slog.Error("Failed to stop monitoring region", "code", code, "error", err)
		}
	}

	starts := make([]model.Region, 0, len(delta.Start)+len(restart))
	for _, code := range delta.Start {
		region := codesToMonitor[code].Region()
		r.active[code] = region
		starts = append(starts, region)
	}
	for _, code := range restart {
		region := codesToMonitor[code].Region()
		r.active[code] = region
		starts = append(starts, region)
	}
	for _, region := range starts {
		if err := r.platform.StartMonitoring(ctx, region); err != nil {
			slog.Error("Failed to start monitoring region", "code", region.Identifier, "error", err)
		}
	}

	if !delta.Empty() || len(restart) > 0 {
		slog.Info("Reconciled monitored regions",
			"started", len(delta.Start),
			"stopped", len(delta.Stop),
			"kept", len(delta.Keep),
			"restarted", len(restart))
	}

	for _, observe := range r.observers {
		observe(ctx, delta)
	}

	return delta, nil
}

// ensureInitializedLocked rebuilds the active set from the catalog once per
// process lifetime.
func (r *Reconciler) ensureInitializedLocked(ctx context.Context) error {
	if r.active != nil {
		return nil
	}

	monitored, err := r.store.GetMonitoredGeofences(ctx)
	if err != nil {
		return fmt.Errorf("failed to load monitored geofences: %w", err)
	}

	r.active = make(map[string]model.Region, len(monitored))
	for _, g := range monitored {
		r.active[g.Code] = g.Region()
	}
	slog.Debug("Initialized active region set", "regions", len(r.active))
	return nil
}

// StopAll clears every monitored flag, stops every platform region and
// leaves the active set empty.
func (r *Reconciler) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	monitored, err := r.store.GetMonitoredGeofences(ctx)
	if err != nil {
		return fmt.Errorf("failed to load monitored geofences: %w", err)
	}

	codes := make([]string, len(monitored))
	for i, g := range monitored {
		codes[i] = g.Code
	}

	if len(codes) > 0 {
		if err := r.store.SetMonitored(ctx, nil, codes); err != nil {
			return fmt.Errorf("failed to clear monitored flags: %w", err)
		}
	}

	toStop := make(map[string]bool, len(codes))
	for _, code := range codes {
		toStop[code] = true
	}
	for code := range r.active {
		toStop[code] = true
	}
	for _, region := range r.platform.MonitoredRegions() {
		toStop[region.Identifier] = true
	}

	stopped := make([]string, 0, len(toStop))
	for code := range toStop {
		stopped = append(stopped, code)
	}
	sort.Strings(stopped)

	for _, code := range stopped {
		if err := r.platform.StopMonitoring(ctx, code); err != nil {
			slog.Error("Failed to stop monitoring region", "code", code, "error", err)
		}
	}

	r.active = make(map[string]model.Region)
	slog.Info("Stopped all region monitoring", "regions", len(stopped))

	delta := Delta{Stop: stopped}
	for _, observe := range r.observers {
		observe(ctx, delta)
	}
	return nil
}

// Remove stops platform monitoring for code and deletes it from the
// catalog, then reconciles around the last position so a replacement
// can take the freed slot.
func (r *Reconciler) Remove(ctx context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureInitializedLocked(ctx); err != nil {
		return err
	}

	if _, ok := r.active[code]; ok {
		delete(r.active, code)
		if err := r.platform.StopMonitoring(ctx, code); err != nil {
			slog.Error("Failed to stop monitoring region", "code", code, "error", err)
		}
	}

	if err := r.store.DeleteGeofence(ctx, code); err != nil {
		return fmt.Errorf("failed to delete geofence %s: %w", code, err)
	}

	if r.lastPosition == nil {
		return nil
	}
	if _, err := r.reconcileAroundLocked(ctx, *r.lastPosition); err != nil {
		return fmt.Errorf("failed to reconcile after removing %s: %w", code, err)
	}
	return nil
}

// Forget drops codes from the active set and the platform without touching
// the catalog. It is used when rows were already deleted in a larger
// transaction.
func (r *Reconciler) Forget(ctx context.Context, codes []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, code := range codes {
		if _, ok := r.active[code]; !ok {
			continue
		}
		delete(r.active, code)
		if err := r.platform.StopMonitoring(ctx, code); err != nil {
			slog.Error("Failed to stop monitoring region", "code", code, "error", err)
		}
	}
}
