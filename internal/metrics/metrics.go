// Package metrics exposes prometheus counters for monitoring, delivery and
// sync activity.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Veraticus/fencewatch/internal/dispatch"
	"github.com/Veraticus/fencewatch/internal/model"
	"github.com/Veraticus/fencewatch/internal/monitor"
	"github.com/Veraticus/fencewatch/internal/syncer"
	"github.com/Veraticus/fencewatch/internal/transport"
)

// Metrics holds every collector. Register them with New.
type Metrics struct {
	gatherer prometheus.Gatherer

	MonitoredRegions  prometheus.Gauge
	RegionChanges     *prometheus.CounterVec
	Crossings         *prometheus.CounterVec
	Deliveries        *prometheus.CounterVec
	DeliveryAttempts  prometheus.Histogram
	Syncs             *prometheus.CounterVec
	MergedGeofences   *prometheus.CounterVec
	MalformedFeatures prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		MonitoredRegions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fencewatch_monitored_regions",
			Help: "Number of regions currently handed to the region monitor",
		}),
		RegionChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fencewatch_region_changes_total",
			Help: "Regions started or stopped by the reconciler",
		}, []string{"op"}),
		Crossings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fencewatch_crossings_total",
			Help: "Geofence boundary crossings observed",
		}, []string{"crossing"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fencewatch_deliveries_total",
			Help: "Event deliveries by terminal outcome",
		}, []string{"result"}),
		DeliveryAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fencewatch_delivery_attempts",
			Help:    "Transport attempts per event delivery",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		Syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fencewatch_syncs_total",
			Help: "Catalog synchronizations by outcome",
		}, []string{"outcome"}),
		MergedGeofences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fencewatch_merged_geofences_total",
			Help: "Geofences written by catalog merges",
		}, []string{"op"}),
		MalformedFeatures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fencewatch_malformed_features_total",
			Help: "Feed features rejected during parsing",
		}),
	}

	reg.MustRegister(
		m.MonitoredRegions,
		m.RegionChanges,
		m.Crossings,
		m.Deliveries,
		m.DeliveryAttempts,
		m.Syncs,
		m.MergedGeofences,
		m.MalformedFeatures,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveDelta is a monitor.Observer.
func (m *Metrics) ObserveDelta(_ context.Context, delta monitor.Delta) {
	m.RegionChanges.WithLabelValues("start").Add(float64(len(delta.Start)))
	m.RegionChanges.WithLabelValues("stop").Add(float64(len(delta.Stop)))
	m.MonitoredRegions.Set(float64(len(delta.Start) + len(delta.Keep)))
}

// ObserveDelivery is a dispatch.DeliveryFunc.
func (m *Metrics) ObserveDelivery(_ dispatch.Event, result transport.Result) {
	m.Deliveries.WithLabelValues(result.Kind.String()).Inc()
	m.DeliveryAttempts.Observe(float64(result.Attempts))
}

// ObserveSync is a syncer.SyncObserver.
func (m *Metrics) ObserveSync(_ context.Context, outcome syncer.Outcome, err error) {
	switch {
	case outcome.Skipped:
		m.Syncs.WithLabelValues("skipped").Inc()
	case err != nil && outcome.Download == nil:
		m.Syncs.WithLabelValues("error").Inc()
	case outcome.Download != nil:
		m.Syncs.WithLabelValues(string(outcome.Download.Status)).Inc()
	default:
		m.Syncs.WithLabelValues("processed").Inc()
	}

	m.MergedGeofences.WithLabelValues("insert").Add(float64(outcome.Stats.Inserted))
	m.MergedGeofences.WithLabelValues("update").Add(float64(outcome.Stats.Updated))
	m.MergedGeofences.WithLabelValues("delete").Add(float64(outcome.Stats.Deleted))
	m.MalformedFeatures.Add(float64(outcome.Stats.Malformed))
}

// DidEnterGeofence implements service.GeofenceObserver.
func (m *Metrics) DidEnterGeofence(context.Context, *model.Geofence) {
	m.Crossings.WithLabelValues(string(model.CrossingEnter)).Inc()
}

// DidExitGeofence implements service.GeofenceObserver.
func (m *Metrics) DidExitGeofence(context.Context, *model.Geofence) {
	m.Crossings.WithLabelValues(string(model.CrossingExit)).Inc()
}
