package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/fencewatch/internal/api"
	"github.com/Veraticus/fencewatch/internal/certs"
	"github.com/Veraticus/fencewatch/internal/feed"
	"github.com/Veraticus/fencewatch/internal/position"
	"github.com/Veraticus/fencewatch/internal/syncer"
)

// syncCheckInterval is how often the daemon asks the throttle whether a
// catalog refresh is due.
const syncCheckInterval = 15 * time.Minute

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring daemon",
		Long: `Run the monitoring daemon: consume positions and authorization changes from
MQTT, keep the catalog in sync, seed from the watched directory, publish
crossings to AMQP and serve the HTTP API with Prometheus metrics.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd, appOptions{withPublisher: true})
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	g, ctx := errgroup.WithContext(cmd.Context())

	if cfg.APIListen != "" {
		server := api.NewServer(a.manager, a.metrics.Handler(), cfg.APIListen, version)
		if cfg.APITLSDir != "" {
			cert, err := certs.NewFileManager(cfg.APITLSDir).GetOrCreateCertificate()
			if err != nil {
				return err
			}
			server.UseTLS(cert)
		}
		g.Go(func() error { return server.Run(ctx) })
	}

	if cfg.MQTT.Broker != "" {
		client, err := position.Connect(position.BrokerConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			return err
		}
		defer client.Disconnect(250)

		subscriber := position.NewSubscriber(client, cfg.MQTT.Topic, a.manager)
		g.Go(func() error { return subscriber.Run(ctx) })
	} else {
		slog.Warn("No MQTT broker configured, positions only arrive through the API")
	}

	if cfg.Sync.SeedDir != "" {
		watcher, err := syncer.NewSeedWatcher(cfg.Sync.SeedDir, a.manager.Syncer(), nil, syncer.DefaultSeedDebounce)
		if err != nil {
			return err
		}
		defer func() { _ = watcher.Close() }()
		g.Go(func() error { return watcher.Run(ctx) })
	}

	if a.requireBackend() == nil {
		g.Go(func() error { return syncLoop(ctx, a) })
	} else {
		slog.Warn("Backend not configured, catalog sync disabled")
	}

	slog.Info("fencewatch running", "version", version, "quota", cfg.Monitor.MaxRegions)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("fencewatch stopped")
	return nil
}

// syncLoop synchronizes once at startup and then on every tick. The
// throttle decides whether a download actually runs.
func syncLoop(ctx context.Context, a *app) error {
	ticker := time.NewTicker(syncCheckInterval)
	defer ticker.Stop()

	for {
		outcome, err := a.manager.Synchronize(ctx, false)
		switch {
		case errors.Is(err, syncer.ErrCancelled):
			return nil
		case err != nil && feed.IsFatal(err):
			slog.Error("Catalog sync failed", "error", err)
		case err != nil:
			slog.Warn("Catalog sync applied with errors", "error", err)
		case outcome.Skipped:
			slog.Debug("Catalog sync skipped", "reason", outcome.SkipReason)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
