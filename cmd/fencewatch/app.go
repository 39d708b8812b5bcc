package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Veraticus/fencewatch/internal/common"
	"github.com/Veraticus/fencewatch/internal/config"
	"github.com/Veraticus/fencewatch/internal/dispatch"
	"github.com/Veraticus/fencewatch/internal/engine"
	"github.com/Veraticus/fencewatch/internal/metrics"
	"github.com/Veraticus/fencewatch/internal/model"
	"github.com/Veraticus/fencewatch/internal/monitor"
	"github.com/Veraticus/fencewatch/internal/prefs"
	"github.com/Veraticus/fencewatch/internal/publish"
	"github.com/Veraticus/fencewatch/internal/storage"
	"github.com/Veraticus/fencewatch/internal/syncer"
	"github.com/Veraticus/fencewatch/internal/transport"
)

// app holds every long-lived component of one invocation.
type app struct {
	cfg       *config.Config
	store     *storage.SQLiteStorage
	prefs     *prefs.Store
	client    *transport.Client
	manager   *engine.Manager
	metrics   *metrics.Metrics
	publisher *publish.CrossingPublisher
	closers   []func() error
}

type appOptions struct {
	onProgress transport.ProgressFunc
	// withPublisher dials the AMQP broker when one is configured.
	withPublisher bool
}

// newApp opens storage and preferences and wires the engine. Close must be
// called on the result.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.store, err = storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)
	if err := a.store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a.prefs, err = prefs.Open(prefs.Config{Path: cfg.PrefsPath, Logger: slog.Default()})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.prefs.Close)

	descriptor, err := a.prefs.Descriptor()
	if err != nil {
		return nil, fmt.Errorf("failed to load installation descriptor: %w", err)
	}

	if cfg.Backend.BaseURL != "" {
		a.client, err = transport.NewClient(cfg.Transport("fencewatch/" + version))
		if err != nil {
			return nil, err
		}
	}

	platform := monitor.NewSoftwareRegionMonitor(cfg.Monitor.MaxRegions)
	reconciler := monitor.NewReconciler(a.store, platform, monitor.Config{
		MaxRegions:  cfg.Monitor.MaxRegions,
		MaxDistance: cfg.Monitor.MaxDistance,
	})

	var poster dispatch.Poster
	var downloader syncer.Downloader
	if a.client != nil {
		poster = a.client
		downloader = a.client
	} else {
		poster = offlinePoster{}
		downloader = offlineDownloader{}
	}

	dispatcher := dispatch.New(a.store, poster, dispatch.Config{
		Tenant:     cfg.Backend.Tenant,
		Org:        cfg.Backend.Org,
		Descriptor: descriptor,
		SDKVersion: version,
		Privacy:    cfg.Privacy,
	})
	a.closers = append(a.closers, func() error {
		dispatcher.Close()
		return nil
	})

	controller := syncer.New(a.store, downloader, reconciler, a.prefs, syncer.Config{
		OnProgress:  opts.onProgress,
		Tenant:      cfg.Backend.Tenant,
		Org:         cfg.Backend.Org,
		DownloadDir: cfg.DownloadDir,
		Throttle: syncer.Throttle{
			IntervalDays: cfg.Sync.IntervalDays,
			ErrorBackoff: cfg.Sync.ErrorBackoff,
		},
		MaxDownloadRetry: cfg.Sync.MaxDownloadRetry,
	})

	a.metrics = metrics.New(prometheus.NewRegistry())
	reconciler.Observe(a.metrics.ObserveDelta)
	dispatcher.OnDelivery(a.metrics.ObserveDelivery)
	dispatcher.Subscribe(a.metrics)
	controller.OnSynchronized(a.metrics.ObserveSync)
	controller.AddObserver(downloadLogger{})

	if opts.withPublisher && cfg.AMQP.URL != "" {
		ch, closeConn, err := publish.Dial(cfg.AMQP.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeConn)
		a.publisher, err = publish.NewCrossingPublisher(ch, cfg.AMQP.Exchange)
		if err != nil {
			return nil, err
		}
		dispatcher.Subscribe(a.publisher)
	}

	a.manager = engine.New(a.store, platform, reconciler, dispatcher, controller)
	return a, nil
}

// Close releases components in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("Failed to close component", "error", err)
		}
	}
	a.closers = nil
}

// requireBackend fails fast for commands that talk to the backend.
func (a *app) requireBackend() error {
	err := a.cfg.RequireBackend()
	if err == nil && a.client == nil {
		err = fmt.Errorf("%w: backend.base_url", common.ErrMissingConfig)
	}
	if err != nil {
		return common.NewUserError("Backend not configured. Set it in config.yaml or FENCEWATCH_BACKEND_* variables", err)
	}
	return nil
}

// errOffline is returned by collaborators standing in for a missing backend.
var errOffline = errors.New("no backend configured")

type offlinePoster struct{}

func (offlinePoster) PostJSON(context.Context, string, []byte) transport.Result {
	return transport.Result{Kind: transport.KindError, Err: errOffline}
}

type offlineDownloader struct{}

func (offlineDownloader) Download(context.Context, string, url.Values, string, transport.ProgressFunc) (string, error) {
	return "", errOffline
}

// downloadLogger reports download lifecycle events to the log.
type downloadLogger struct{}

func (downloadLogger) DidStartDownload(_ context.Context, download model.Download) {
	slog.Info("Geofence download started", "id", download.ID, "task", download.TaskID)
}

func (downloadLogger) DidReceiveDownload(_ context.Context, download model.Download) {
	slog.Info("Geofence download finished", "id", download.ID, "status", download.Status)
}
