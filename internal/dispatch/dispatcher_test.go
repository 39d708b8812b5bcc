package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/fencewatch/internal/common"
	"github.com/Veraticus/fencewatch/internal/model"
	"github.com/Veraticus/fencewatch/internal/service"
	"github.com/Veraticus/fencewatch/internal/testutil"
	"github.com/Veraticus/fencewatch/internal/transport"
)

type postCall struct {
	path string
	body []byte
}

type fakePoster struct {
	result transport.Result
	calls  []postCall
	mu     sync.Mutex
}

func (p *fakePoster) PostJSON(_ context.Context, path string, body []byte) transport.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, postCall{path: path, body: body})
	return p.result
}

func (p *fakePoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type observed struct {
	crossing model.Crossing
	geofence *model.Geofence
}

func recordingObserver(out *[]observed) service.GeofenceObserver {
	return service.GeofenceObserverFuncs{
		OnEnter: func(_ context.Context, g *model.Geofence) {
			*out = append(*out, observed{crossing: model.CrossingEnter, geofence: g})
		},
		OnExit: func(_ context.Context, g *model.Geofence) {
			*out = append(*out, observed{crossing: model.CrossingExit, geofence: g})
		},
	}
}

var fixedNow = time.Date(2024, 3, 1, 12, 30, 45, 123_000_000, time.FixedZone("CET", 3600))

func newTestDispatcher(t *testing.T, poster Poster, privacy bool) *Dispatcher {
	t.Helper()
	db := testutil.SetupTestDB(t, testutil.Fence("A", 0, 0, 200))
	d := New(db.Storage, poster, Config{
		Tenant:     "tenant",
		Org:        "org",
		Descriptor: "device-1",
		SDKVersion: "1.2.3",
		Privacy:    privacy,
		Now:        func() time.Time { return fixedNow },
	})
	t.Cleanup(d.Close)
	return d
}

func TestDispatcher_EnterDeliversPayload(t *testing.T) {
	poster := &fakePoster{result: transport.Result{Kind: transport.KindOK, Attempts: 1}}
	d := newTestDispatcher(t, poster, false)

	var got []observed
	d.Subscribe(recordingObserver(&got))

	d.HandleTransition(context.Background(), "A", model.CrossingEnter)
	d.Wait()

	require.Len(t, got, 1)
	require.NotNil(t, got[0].geofence)
	assert.Equal(t, "A", got[0].geofence.Code)

	require.Equal(t, 1, poster.count())
	assert.Equal(t, "conn-geofence/v1/tenants/tenant/orgs/org", poster.calls[0].path)
	assert.JSONEq(t, `{
		"notifications": [{
			"descriptor": "device-1",
			"detectedTime": "2024-03-01T12:30:45.123+01:00",
			"data": {"geofenceCode": "A", "geofenceName": "Fence A", "crossingType": "enter"}
		}],
		"sdkVersion": "1.2.3"
	}`, string(poster.calls[0].body))
}

func TestDispatcher_UnknownRegionNotifiesWithNil(t *testing.T) {
	poster := &fakePoster{}
	d := newTestDispatcher(t, poster, false)

	var got []observed
	d.Subscribe(recordingObserver(&got))

	assert.NotPanics(t, func() {
		d.HandleTransition(context.Background(), "STALE", model.CrossingEnter)
	})
	d.Wait()

	require.Len(t, got, 1)
	assert.Equal(t, model.CrossingEnter, got[0].crossing)
	assert.Nil(t, got[0].geofence)
	assert.Zero(t, poster.count())
}

func TestDispatcher_TransitionAfterCloseIsDropped(t *testing.T) {
	poster := &fakePoster{result: transport.Result{Kind: transport.KindOK, Attempts: 1}}
	d := newTestDispatcher(t, poster, false)

	d.Close()
	d.HandleTransition(context.Background(), "A", model.CrossingEnter)
	d.Wait()

	assert.Zero(t, poster.count())
}

func TestDispatcher_CloseDuringTransitions(t *testing.T) {
	for i := 0; i < 50; i++ {
		poster := &fakePoster{result: transport.Result{Kind: transport.KindOK, Attempts: 1}}
		d := newTestDispatcher(t, poster, false)

		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d.HandleTransition(context.Background(), "A", model.CrossingEnter)
			}()
		}
		d.Close()
		delivered := poster.count()
		wg.Wait()

		// Nothing scheduled after Close may still be running or start posting.
		d.Wait()
		assert.Equal(t, delivered, poster.count())
	}
}

func TestDispatcher_PrivacySuppressesPostOnly(t *testing.T) {
	poster := &fakePoster{}
	d := newTestDispatcher(t, poster, true)

	var got []observed
	d.Subscribe(recordingObserver(&got))

	d.HandleTransition(context.Background(), "A", model.CrossingExit)
	d.Wait()

	require.Len(t, got, 1)
	assert.Equal(t, model.CrossingExit, got[0].crossing)
	assert.Zero(t, poster.count())

	err := d.Deliver(context.Background(), Event{Code: "A", Crossing: model.CrossingExit})
	assert.ErrorIs(t, err, ErrPrivacy)

	d.SetPrivacy(false)
	assert.False(t, d.Privacy())
}

func TestDispatcher_UnknownCrossingIgnored(t *testing.T) {
	poster := &fakePoster{}
	d := newTestDispatcher(t, poster, false)

	var got []observed
	d.Subscribe(recordingObserver(&got))

	d.HandleTransition(context.Background(), "A", model.Crossing("dwell"))
	d.Wait()
	assert.Empty(t, got)
	assert.Zero(t, poster.count())
}

func TestDispatcher_DeliverSurfacesTerminalFailure(t *testing.T) {
	poster := &fakePoster{result: transport.Result{Kind: transport.KindHTTPStatus, StatusCode: 502, Attempts: 4}}
	d := newTestDispatcher(t, poster, false)

	var outcomes []transport.Kind
	d.OnDelivery(func(_ Event, r transport.Result) { outcomes = append(outcomes, r.Kind) })

	err := d.Deliver(context.Background(), Event{Code: "A", Name: "Fence A", Crossing: model.CrossingEnter, DetectedAt: fixedNow})

	var statusErr *transport.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 502, statusErr.Code)
	assert.Contains(t, err.Error(), "after 4 attempts")
	assert.Equal(t, []transport.Kind{transport.KindHTTPStatus}, outcomes)
}

func TestDispatcher_DeliverRequiresOrg(t *testing.T) {
	db := testutil.SetupTestDB(t)
	d := New(db.Storage, &fakePoster{}, Config{Tenant: "tenant"})
	t.Cleanup(d.Close)

	err := d.Deliver(context.Background(), Event{Code: "A", Crossing: model.CrossingEnter})
	assert.ErrorIs(t, err, common.ErrMissingOrg)
}

func TestDispatcher_GrantExpiryCancelsDelivery(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	client, err := transport.NewClient(transport.Config{BaseURL: server.URL, RetryDelay: time.Millisecond, MaxRetry: 3})
	require.NoError(t, err)

	db := testutil.SetupTestDB(t)
	d := New(db.Storage, client, Config{
		Tenant: "tenant",
		Org:    "org",
		Grant:  TimeoutGrant{Budget: 50 * time.Millisecond},
	})
	t.Cleanup(d.Close)

	err = d.Deliver(context.Background(), Event{Code: "A", Crossing: model.CrossingEnter, DetectedAt: fixedNow})
	assert.ErrorIs(t, err, transport.ErrCancelled)
}

func TestDispatcher_EndToEndOverHTTP(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conn-geofence/v1/tenants/tenant/orgs/org", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := transport.NewClient(transport.Config{BaseURL: server.URL, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	d := newTestDispatcher(t, client, false)
	d.HandleTransition(context.Background(), "A", model.CrossingEnter)
	d.HandleTransition(context.Background(), "A", model.CrossingExit)
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	for _, body := range bodies {
		assert.Equal(t, "1.2.3", body["sdkVersion"])
	}
}

func TestTimeoutGrant(t *testing.T) {
	ctx, release, granted := TimeoutGrant{}.Acquire(context.Background())
	defer release()
	assert.False(t, granted)
	assert.Equal(t, context.Background(), ctx)

	scoped, release2, granted := TimeoutGrant{Budget: time.Minute}.Acquire(context.Background())
	defer release2()
	assert.True(t, granted)
	_, hasDeadline := scoped.Deadline()
	assert.True(t, hasDeadline)
}

func TestEncodePayload_Validation(t *testing.T) {
	_, err := EncodePayload("d", "v")
	assert.Error(t, err)

	_, err = EncodePayload("d", "v", Event{Code: "A", Crossing: "dwell"})
	assert.Error(t, err)
}
