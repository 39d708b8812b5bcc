package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/fencewatch/internal/dispatch"
	"github.com/Veraticus/fencewatch/internal/model"
	"github.com/Veraticus/fencewatch/internal/monitor"
	"github.com/Veraticus/fencewatch/internal/syncer"
	"github.com/Veraticus/fencewatch/internal/transport"
)

func TestMetrics_ObserveDelta(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveDelta(context.Background(), monitor.Delta{Start: []string{"A", "B"}, Keep: []string{"C"}})
	m.ObserveDelta(context.Background(), monitor.Delta{Stop: []string{"A"}, Keep: []string{"B", "C"}})

	assert.InDelta(t, 2.0, promtest.ToFloat64(m.RegionChanges.WithLabelValues("start")), 0)
	assert.InDelta(t, 1.0, promtest.ToFloat64(m.RegionChanges.WithLabelValues("stop")), 0)
	assert.InDelta(t, 2.0, promtest.ToFloat64(m.MonitoredRegions), 0)
}

func TestMetrics_ObserveDelivery(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveDelivery(dispatch.Event{}, transport.Result{Kind: transport.KindOK, Attempts: 1})
	m.ObserveDelivery(dispatch.Event{}, transport.Result{Kind: transport.KindHTTPStatus, Attempts: 4})

	assert.InDelta(t, 1.0, promtest.ToFloat64(m.Deliveries.WithLabelValues(transport.KindOK.String())), 0)
	assert.InDelta(t, 1.0, promtest.ToFloat64(m.Deliveries.WithLabelValues(transport.KindHTTPStatus.String())), 0)
}

func TestMetrics_ObserveSync(t *testing.T) {
	m := New(prometheus.NewRegistry())
	ctx := context.Background()

	m.ObserveSync(ctx, syncer.Outcome{Skipped: true}, nil)
	m.ObserveSync(ctx, syncer.Outcome{}, errors.New("no org"))
	m.ObserveSync(ctx, syncer.Outcome{
		Download: &model.Download{Status: model.DownloadProcessed},
		Stats:    syncer.MergeStats{Inserted: 3, Updated: 1, Deleted: 2, Malformed: 4},
	}, nil)

	assert.InDelta(t, 1.0, promtest.ToFloat64(m.Syncs.WithLabelValues("skipped")), 0)
	assert.InDelta(t, 1.0, promtest.ToFloat64(m.Syncs.WithLabelValues("error")), 0)
	assert.InDelta(t, 1.0, promtest.ToFloat64(m.Syncs.WithLabelValues(string(model.DownloadProcessed))), 0)
	assert.InDelta(t, 3.0, promtest.ToFloat64(m.MergedGeofences.WithLabelValues("insert")), 0)
	assert.InDelta(t, 2.0, promtest.ToFloat64(m.MergedGeofences.WithLabelValues("delete")), 0)
	assert.InDelta(t, 4.0, promtest.ToFloat64(m.MalformedFeatures), 0)
}

func TestMetrics_CrossingsAndHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.DidEnterGeofence(context.Background(), nil)
	m.DidExitGeofence(context.Background(), &model.Geofence{Code: "A"})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `fencewatch_crossings_total{crossing="enter"} 1`)
	assert.Contains(t, rec.Body.String(), `fencewatch_crossings_total{crossing="exit"} 1`)
}
