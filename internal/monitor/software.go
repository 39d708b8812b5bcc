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

// ErrRegionLimit is returned when the monitor is already watching its maximum
// number of regions.
var ErrRegionLimit = errors.New("region monitoring limit reached")

// StateFunc receives the outcome of a state determination.
type StateFunc func(ctx context.Context, identifier string, state model.RegionState)

type watchedRegion struct {
	region model.Region
	state  model.RegionState
}

// SoftwareRegionMonitor is a RegionMonitor that derives crossings from
// position updates instead of OS support. It is safe for concurrent use.
type SoftwareRegionMonitor struct {
	handler    service.TransitionHandler
	onState    StateFunc
	regions    map[string]*watchedRegion
	maxRegions int
	mu         sync.Mutex
}

// NewSoftwareRegionMonitor creates a monitor bounded to maxRegions, or to
// PlatformMaxRegions when maxRegions is not positive.
func NewSoftwareRegionMonitor(maxRegions int) *SoftwareRegionMonitor {
	if maxRegions <= 0 {
		maxRegions = PlatformMaxRegions
	}
	return &SoftwareRegionMonitor{
		regions:    make(map[string]*watchedRegion),
		maxRegions: maxRegions,
	}
}

// SetTransitionHandler sets the receiver for enter and exit crossings.
func (m *SoftwareRegionMonitor) SetTransitionHandler(h service.TransitionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// OnDetermineState sets the receiver for initial state determinations.
func (m *SoftwareRegionMonitor) OnDetermineState(fn StateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = fn
}

// MaxRegions implements service.RegionMonitor.
func (m *SoftwareRegionMonitor) MaxRegions() int {
	return m.maxRegions
}

// StartMonitoring implements service.RegionMonitor. Starting an identifier
// that is already watched replaces its geometry and resets its state.
func (m *SoftwareRegionMonitor) StartMonitoring(_ context.Context, region model.Region) error {
	if region.Identifier == "" {
		return fmt.Errorf("region identifier cannot be empty")
	}
	if region.Radius <= 0 {
		return fmt.Errorf("region %s: radius must be positive", region.Identifier)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.regions[region.Identifier]; !ok && len(m.regions) >= m.maxRegions {
		return fmt.Errorf("%w: %d regions", ErrRegionLimit, m.maxRegions)
	}
	m.regions[region.Identifier] = &watchedRegion{region: region, state: model.RegionStateUnknown}
	return nil
}

// StopMonitoring implements service.RegionMonitor. Unknown identifiers are ignored.
func (m *SoftwareRegionMonitor) StopMonitoring(_ context.Context, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.regions, identifier)
	return nil
}

// MonitoredRegions implements service.RegionMonitor.
func (m *SoftwareRegionMonitor) MonitoredRegions() []model.Region {
	m.mu.Lock()
	defer m.mu.Unlock()

	regions := make([]model.Region, 0, len(m.regions))
	for _, w := range m.regions {
		regions = append(regions, w.region)
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Identifier < regions[j].Identifier })
	return regions
}

type stateChange struct {
	identifier string
	previous   model.RegionState
	current    model.RegionState
}

// UpdatePosition evaluates every watched region against pos. A region seen
// for the first time only reports its state; later changes of side are
// delivered to the transition handler in identifier order.
func (m *SoftwareRegionMonitor) UpdatePosition(ctx context.Context, pos model.Position) {
	if !pos.Valid() {
		slog.Debug("Ignoring invalid position", "latitude", pos.Latitude, "longitude", pos.Longitude)
		return
	}

	m.mu.Lock()
	handler := m.handler
	onState := m.onState
	var changes []stateChange
	for id, w := range m.regions {
		current := model.RegionStateOutside
		if geo.Inside(pos, w.region) {
			current = model.RegionStateInside
		}
		if current == w.state {
			continue
		}
		changes = append(changes, stateChange{identifier: id, previous: w.state, current: current})
		w.state = current
	}
	m.mu.Unlock()

	sort.Slice(changes, func(i, j int) bool { return changes[i].identifier < changes[j].identifier })

	for _, c := range changes {
		if c.previous == model.RegionStateUnknown {
			if onState != nil {
				onState(ctx, c.identifier, c.current)
			}
			continue
		}
		if handler == nil {
			continue
		}
		crossing := model.CrossingExit
		if c.current == model.RegionStateInside {
			crossing = model.CrossingEnter
		}
		handler.HandleTransition(ctx, c.identifier, crossing)
	}
}
