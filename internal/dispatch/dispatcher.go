// Package dispatch turns region crossings into observer callbacks and
// collector notifications.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Veraticus/fencewatch/internal/common"
	"github.com/Veraticus/fencewatch/internal/model"
	"github.com/Veraticus/fencewatch/internal/service"
	"github.com/Veraticus/fencewatch/internal/transport"
)

// ErrPrivacy is returned by Deliver while privacy mode is on.
var ErrPrivacy = errors.New("privacy mode suppresses event delivery")

// GeofenceLookup resolves a region identifier to a catalog row.
type GeofenceLookup interface {
	GetGeofence(ctx context.Context, code string) (*model.Geofence, error)
}

// Poster sends a JSON body to the collector.
type Poster interface {
	PostJSON(ctx context.Context, path string, body []byte) transport.Result
}

// DeliveryFunc is told about every finished delivery attempt.
type DeliveryFunc func(event Event, result transport.Result)

// Config configures a Dispatcher.
type Config struct {
	Grant      Grant
	Now        func() time.Time
	Tenant     string
	Org        string
	Descriptor string
	SDKVersion string
	Privacy    bool
}

// Dispatcher implements service.TransitionHandler. Observers are notified
// synchronously; collector delivery runs in the background.
type Dispatcher struct {
	store      GeofenceLookup
	poster     Poster
	grant      Grant
	now        func() time.Time
	root       context.Context
	stop       context.CancelFunc
	tenant     string
	org        string
	descriptor string
	sdkVersion string
	observers  []service.GeofenceObserver
	onDelivery []DeliveryFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	privacy    atomic.Bool
	closed     bool
}

var _ service.TransitionHandler = (*Dispatcher)(nil)

// New creates a Dispatcher. Close must be called to release it.
func New(store GeofenceLookup, poster Poster, cfg Config) *Dispatcher {
	if cfg.Grant == nil {
		cfg.Grant = TimeoutGrant{Budget: DefaultGrantBudget}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	root, stop := context.WithCancel(context.Background())
	d := &Dispatcher{
		store:      store,
		poster:     poster,
		grant:      cfg.Grant,
		now:        cfg.Now,
		root:       root,
		stop:       stop,
		tenant:     cfg.Tenant,
		org:        cfg.Org,
		descriptor: cfg.Descriptor,
		sdkVersion: cfg.SDKVersion,
	}
	d.privacy.Store(cfg.Privacy)
	return d
}

// Subscribe registers an observer for enter and exit callbacks.
func (d *Dispatcher) Subscribe(observer service.GeofenceObserver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, observer)
}

// OnDelivery registers fn to be told about delivery outcomes.
func (d *Dispatcher) OnDelivery(fn DeliveryFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDelivery = append(d.onDelivery, fn)
}

// SetPrivacy toggles suppression of collector notifications.
func (d *Dispatcher) SetPrivacy(on bool) {
	d.privacy.Store(on)
}

// Privacy reports whether collector notifications are suppressed.
func (d *Dispatcher) Privacy() bool {
	return d.privacy.Load()
}

// HandleTransition resolves identifier, notifies observers, then schedules a
// collector notification. An identifier missing from the catalog is still
// reported to observers, with a nil geofence.
func (d *Dispatcher) HandleTransition(ctx context.Context, identifier string, crossing model.Crossing) {
	if crossing != model.CrossingEnter && crossing != model.CrossingExit {
		slog.Warn("Ignoring unknown crossing type", "code", identifier, "crossing", crossing)
		return
	}
	detectedAt := d.now()

	geofence, err := d.store.GetGeofence(ctx, identifier)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			slog.Error("Geofence not found for region signal", "code", identifier, "crossing", crossing)
		} else {
			slog.Error("Failed to resolve geofence for region signal", "code", identifier, "crossing", crossing, "error", err)
		}
		geofence = nil
	} else {
		slog.Debug("Region signal", "code", geofence.Code, "name", geofence.Name, "crossing", crossing)
	}

	d.mu.RLock()
	observers := append([]service.GeofenceObserver(nil), d.observers...)
	d.mu.RUnlock()

	for _, observer := range observers {
		if crossing == model.CrossingEnter {
			observer.DidEnterGeofence(ctx, geofence)
		} else {
			observer.DidExitGeofence(ctx, geofence)
		}
	}

	if geofence != nil {
		d.schedule(Event{
			DetectedAt: detectedAt,
			Code:       geofence.Code,
			Name:       geofence.Name,
			Crossing:   crossing,
		})
	}
}

func (d *Dispatcher) schedule(event Event) {
	if d.Privacy() {
		slog.Debug("Privacy mode on, not sending event", "code", event.Code, "crossing", event.Crossing)
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		slog.Warn("Dispatcher closed, dropping event", "code", event.Code, "crossing", event.Crossing)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		if err := d.Deliver(d.root, event); err != nil {
			slog.Error("Failed to deliver geofence event",
				"code", event.Code,
				"crossing", event.Crossing,
				"error", err)
		}
	}()
}

// Deliver posts event to the collector under an execution grant and returns
// the terminal outcome. It does not notify observers.
func (d *Dispatcher) Deliver(ctx context.Context, event Event) error {
	if d.Privacy() {
		return ErrPrivacy
	}
	if d.org == "" {
		return common.ErrMissingOrg
	}

	body, err := EncodePayload(d.descriptor, d.sdkVersion, event)
	if err != nil {
		return err
	}

	scoped, release, granted := d.grant.Acquire(ctx)
	defer release()
	if !granted {
		slog.Warn("No extended execution time for event delivery", "code", event.Code)
	}

	result := d.poster.PostJSON(scoped, d.path(), body)

	d.mu.RLock()
	hooks := append([]DeliveryFunc(nil), d.onDelivery...)
	d.mu.RUnlock()
	for _, hook := range hooks {
		hook(event, result)
	}

	if err := result.Error(); err != nil {
		return fmt.Errorf("event %s %s after %d attempts: %w", event.Crossing, event.Code, result.Attempts, err)
	}
	slog.Info("Delivered geofence event", "code", event.Code, "crossing", event.Crossing)
	return nil
}

func (d *Dispatcher) path() string {
	return fmt.Sprintf("conn-geofence/v1/tenants/%s/orgs/%s", d.tenant, d.org)
}

// Wait blocks until every scheduled delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close cancels in-flight deliveries and waits for them to return.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.stop()
	d.wg.Wait()
}
