package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/Veraticus/fencewatch/internal/model"
	"github.com/Veraticus/fencewatch/internal/service"
)

type platformCall struct {
	op string
	id string
}

// recordingPlatform is a RegionMonitor that remembers every call in order.
type recordingPlatform struct {
	regions map[string]model.Region
	calls   []platformCall
	failIDs map[string]bool
	max     int
	mu      sync.Mutex
}

func newRecordingPlatform() *recordingPlatform {
	return &recordingPlatform{
		regions: make(map[string]model.Region),
		failIDs: make(map[string]bool),
		max:     PlatformMaxRegions,
	}
}

func (p *recordingPlatform) StartMonitoring(_ context.Context, region model.Region) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, platformCall{op: "start", id: region.Identifier})
	if p.failIDs[region.Identifier] {
		return errors.New("platform refused region")
	}
	p.regions[region.Identifier] = region
	return nil
}

func (p *recordingPlatform) StopMonitoring(_ context.Context, identifier string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, platformCall{op: "stop", id: identifier})
	delete(p.regions, identifier)
	return nil
}

func (p *recordingPlatform) MonitoredRegions() []model.Region {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Region, 0, len(p.regions))
	for _, r := range p.regions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

func (p *recordingPlatform) MaxRegions() int {
	return p.max
}

func (p *recordingPlatform) ids() []string {
	regions := p.MonitoredRegions()
	out := make([]string, len(regions))
	for i, r := range regions {
		out[i] = r.Identifier
	}
	return out
}

func (p *recordingPlatform) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

// failingStore makes SetMonitored fail while delegating everything else.
type failingStore struct {
	service.Storage
	err error
}

func (s *failingStore) SetMonitored(context.Context, []string, []string) error {
	return s.err
}
