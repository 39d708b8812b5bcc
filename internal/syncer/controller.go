// Package syncer keeps the local geofence catalog in step with the backend:
// throttled downloads, feed merging, seeding and teardown.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/fencewatch/internal/common"
	"github.com/Veraticus/fencewatch/internal/feed"
	"github.com/Veraticus/fencewatch/internal/geo"
	"github.com/Veraticus/fencewatch/internal/model"
	"github.com/Veraticus/fencewatch/internal/monitor"
	"github.com/Veraticus/fencewatch/internal/prefs"
	"github.com/Veraticus/fencewatch/internal/service"
	"github.com/Veraticus/fencewatch/internal/transport"
)

// ErrCancelled reports a sync interrupted by its context. No catalog writes
// happen for a cancelled sync.
var ErrCancelled = errors.New("synchronization cancelled")

// Downloader fetches a feed into a local file.
type Downloader interface {
	Download(ctx context.Context, path string, query url.Values, dir string, progress transport.ProgressFunc) (string, error)
}

// Reconciler is the part of the monitoring reconciler a sync drives.
type Reconciler interface {
	Refresh(ctx context.Context) (monitor.Delta, error)
	StopAll(ctx context.Context) error
	Forget(ctx context.Context, codes []string)
}

// Preferences persists throttle state.
type Preferences interface {
	LoadSyncState() (prefs.SyncState, error)
	SaveSyncState(state prefs.SyncState) error
	Reset() error
}

// Config configures a Controller.
type Config struct {
	Now              func() time.Time
	OnProgress       transport.ProgressFunc
	Tenant           string
	Org              string
	DownloadDir      string
	Throttle         Throttle
	MaxDownloadRetry int
}

// Outcome describes one Synchronize call.
type Outcome struct {
	Download   *model.Download `json:"download,omitempty"`
	SkipReason string          `json:"skip_reason,omitempty"`
	Stats      MergeStats      `json:"stats"`
	Skipped    bool            `json:"skipped"`
}

// SyncObserver is told about every finished synchronization.
type SyncObserver func(ctx context.Context, outcome Outcome, err error)

// Controller serializes catalog refreshes.
type Controller struct {
	store         service.Storage
	downloader    Downloader
	reconciler    Reconciler
	prefs         Preferences
	now           func() time.Time
	onProgress    transport.ProgressFunc
	tenant        string
	org           string
	downloadDir   string
	sessionID     string
	observers     []service.DownloadObserver
	syncObservers []SyncObserver
	throttle      Throttle
	maxRetry      int
	taskID        atomic.Int64
	authorized    atomic.Bool
	mu            sync.Mutex
	obsMu         sync.RWMutex
}

// New creates a Controller.
func New(store service.Storage, downloader Downloader, reconciler Reconciler, preferences Preferences, cfg Config) *Controller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = os.TempDir()
	}

	c := &Controller{
		store:       store,
		downloader:  downloader,
		reconciler:  reconciler,
		prefs:       preferences,
		now:         cfg.Now,
		onProgress:  cfg.OnProgress,
		tenant:      cfg.Tenant,
		org:         cfg.Org,
		downloadDir: cfg.DownloadDir,
		sessionID:   uuid.NewString(),
		throttle:    cfg.Throttle,
		maxRetry:    cfg.MaxDownloadRetry,
	}
	c.authorized.Store(true)
	return c
}

// AddObserver registers a download observer.
func (c *Controller) AddObserver(observer service.DownloadObserver) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, observer)
}

// OnSynchronized registers fn to run after every Synchronize call.
func (c *Controller) OnSynchronized(fn SyncObserver) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.syncObservers = append(c.syncObservers, fn)
}

func (c *Controller) downloadObservers() []service.DownloadObserver {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	return append([]service.DownloadObserver(nil), c.observers...)
}

func (c *Controller) notifyStart(ctx context.Context, d model.Download) {
	for _, o := range c.downloadObservers() {
		o.DidStartDownload(ctx, d)
	}
}

func (c *Controller) notifyReceive(ctx context.Context, d model.Download) {
	for _, o := range c.downloadObservers() {
		o.DidReceiveDownload(ctx, d)
	}
}

// FeedPath is the backend path of the geofence feed.
func (c *Controller) FeedPath() string {
	return fmt.Sprintf("pi-config/v2/tenants/%s/orgs/%s/geofences", c.tenant, c.org)
}

// FeedQuery builds the feed query for the given watermark.
func FeedQuery(lastSync *time.Time) url.Values {
	query := url.Values{"paginate": {"false"}}
	if lastSync != nil {
		query.Set("updatedAfter", strconv.FormatInt(lastSync.Unix(), 10))
	}
	return query
}

// Synchronize refreshes the catalog unless the throttle says it is too soon.
func (c *Controller) Synchronize(ctx context.Context) (Outcome, error) {
	return c.synchronize(ctx, false)
}

// SynchronizeNow refreshes the catalog ignoring the throttle.
func (c *Controller) SynchronizeNow(ctx context.Context) (Outcome, error) {
	return c.synchronize(ctx, true)
}

func (c *Controller) synchronize(ctx context.Context, force bool) (outcome Outcome, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer func() {
		c.obsMu.RLock()
		observers := append([]SyncObserver(nil), c.syncObservers...)
		c.obsMu.RUnlock()
		for _, fn := range observers {
			fn(ctx, outcome, err)
		}
	}()

	if c.org == "" {
		return Outcome{}, common.ErrMissingOrg
	}

	state, err := c.prefs.LoadSyncState()
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load sync state: %w", err)
	}
	if c.maxRetry > 0 {
		state.MaxDownloadRetry = c.maxRetry
	}

	now := c.now()
	if !force {
		if ok, reason := c.throttle.Allow(state, now); !ok {
			slog.Debug("Skipping catalog refresh", "reason", reason)
			return Outcome{Skipped: true, SkipReason: reason}, nil
		}
	}

	c.throttle.Attempt(&state, now)
	if err := c.prefs.SaveSyncState(state); err != nil {
		return Outcome{}, fmt.Errorf("failed to save sync state: %w", err)
	}

	download := &model.Download{
		SessionID: c.sessionID,
		TaskID:    c.taskID.Add(1),
		Status:    model.DownloadInProgress,
		StartedAt: now,
	}
	if err := c.store.CreateDownload(ctx, download); err != nil {
		return Outcome{}, fmt.Errorf("failed to record download: %w", err)
	}
	c.notifyStart(ctx, *download)
	outcome.Download = download

	slog.Info("Downloading geofence feed", "path", c.FeedPath(), "updated_after", state.LastSyncDate)

	file, err := c.downloader.Download(ctx, c.FeedPath(), FeedQuery(state.LastSyncDate), c.downloadDir, c.progress(download))
	if err != nil {
		c.finish(download, model.DownloadNetworkError, "")
		if errors.Is(err, transport.ErrCancelled) || ctx.Err() != nil {
			c.throttle.Interrupted(&state)
			c.saveState(state)
			c.notifyReceive(context.WithoutCancel(ctx), *download)
			return outcome, ErrCancelled
		}
		c.throttle.Failure(&state, c.now())
		c.saveState(state)
		c.notifyReceive(ctx, *download)
		return outcome, fmt.Errorf("failed to download geofence feed: %w", err)
	}

	download.Status = model.DownloadReceived
	download.Progress = 1
	download.URL = file
	ended := c.now()
	download.EndedAt = &ended
	c.updateDownload(download)

	stats, batch, err := c.processFile(ctx, file)
	outcome.Stats = stats
	switch {
	case errors.Is(err, ErrCancelled):
		c.finish(download, model.DownloadProcessingError, file)
		c.throttle.Interrupted(&state)
		c.saveState(state)
		c.notifyReceive(context.WithoutCancel(ctx), *download)
		return outcome, ErrCancelled
	case feed.IsFatal(err):
		c.finish(download, model.DownloadProcessingError, file)
		c.throttle.Failure(&state, c.now())
		c.saveState(state)
		c.notifyReceive(ctx, *download)
		return outcome, err
	case err != nil:
		c.finish(download, model.DownloadProcessingError, file)
	default:
		c.finish(download, model.DownloadProcessed, file)
	}

	c.throttle.Success(&state, batch.UpdatedBefore)
	c.saveState(state)
	c.notifyReceive(ctx, *download)
	c.afterMerge(ctx)

	return outcome, err
}

// progress returns a callback that records download progress in coarse steps.
func (c *Controller) progress(download *model.Download) transport.ProgressFunc {
	last := 0.0
	return func(fraction float64) {
		if c.onProgress != nil {
			c.onProgress(fraction)
		}
		if fraction < 1 && fraction-last < 0.05 {
			return
		}
		last = fraction
		download.Progress = fraction
		c.updateDownload(download)
	}
}

func (c *Controller) finish(download *model.Download, status model.DownloadStatus, file string) {
	download.Status = status
	if file != "" {
		download.URL = file
	}
	if download.EndedAt == nil {
		ended := c.now()
		download.EndedAt = &ended
	}
	c.updateDownload(download)
}

func (c *Controller) updateDownload(download *model.Download) {
	// The record outlives a cancelled caller.
	if err := c.store.UpdateDownload(context.Background(), download); err != nil {
		slog.Error("Failed to update download record", "id", download.ID, "status", download.Status, "error", err)
	}
}

func (c *Controller) saveState(state prefs.SyncState) {
	if err := c.prefs.SaveSyncState(state); err != nil {
		slog.Error("Failed to save sync state", "error", err)
	}
}

// processFile parses the downloaded feed and applies it.
func (c *Controller) processFile(ctx context.Context, file string) (MergeStats, *feed.Feed, error) {
	data, err := os.ReadFile(file) //nolint:gosec // file was written by the downloader
	if err != nil {
		return MergeStats{}, nil, fmt.Errorf("failed to read downloaded feed: %w", err)
	}
	return c.applyDocument(ctx, data, nil)
}

// applyDocument parses one document and merges it. The returned error is
// nil, a *feed.WrongFencesError when the batch was applied with rejected
// features, ErrCancelled, or a fatal parse or persistence error.
func (c *Controller) applyDocument(ctx context.Context, data []byte, generator feed.PropertiesGenerator) (MergeStats, *feed.Feed, error) {
	batch, err := feed.Parse(data, feed.Options{Org: c.org, Generator: generator})
	if err != nil {
		return MergeStats{}, nil, err
	}
	if ctx.Err() != nil {
		return MergeStats{}, batch, ErrCancelled
	}

	stats, err := apply(ctx, c.store, batch, c.reconciler.Forget)
	if err != nil {
		if ctx.Err() != nil {
			return stats, batch, ErrCancelled
		}
		return stats, batch, err
	}
	return stats, batch, batch.Err()
}

// afterMerge reconciles around the last known position.
func (c *Controller) afterMerge(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if !c.authorized.Load() {
		return
	}
	if _, err := c.reconciler.Refresh(ctx); err != nil {
		if errors.Is(err, geo.ErrNoPosition) {
			slog.Debug("No position yet, reconcile deferred")
			return
		}
		slog.Error("Failed to reconcile after merge", "error", err)
	}
}

// Seed applies a feed document directly, bypassing the download and the
// throttle.
func (c *Controller) Seed(ctx context.Context, data []byte, generator feed.PropertiesGenerator) (MergeStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.org == "" {
		return MergeStats{}, common.ErrMissingOrg
	}

	stats, _, err := c.applyDocument(ctx, data, generator)
	if feed.IsFatal(err) {
		return stats, err
	}
	c.afterMerge(ctx)
	return stats, err
}

// SeedFile seeds every document stored at path, which may be a .zip archive.
// Malformed feature counts are summed over all documents.
func (c *Controller) SeedFile(ctx context.Context, path string, generator feed.PropertiesGenerator) (MergeStats, error) {
	docs, err := feed.ReadDocuments(path)
	if err != nil {
		return MergeStats{}, err
	}

	var total MergeStats
	for i, doc := range docs {
		stats, err := c.Seed(ctx, doc, generator)
		total.add(stats)
		if feed.IsFatal(err) {
			return total, fmt.Errorf("document %d of %s: %w", i+1, path, err)
		}
	}
	if total.Malformed > 0 {
		return total, &feed.WrongFencesError{Count: total.Malformed}
	}
	return total, nil
}

// HandleAuthorization reacts to a location permission change. Anything but
// granted stops all monitoring.
func (c *Controller) HandleAuthorization(ctx context.Context, status model.AuthorizationStatus) error {
	granted := status.IsGranted()
	previous := c.authorized.Swap(granted)
	slog.Info("Location authorization changed", "status", status)

	if granted {
		if !previous {
			if _, err := c.reconciler.Refresh(ctx); err != nil && !errors.Is(err, geo.ErrNoPosition) {
				return fmt.Errorf("failed to resume monitoring: %w", err)
			}
		}
		return nil
	}
	if err := c.reconciler.StopAll(ctx); err != nil {
		return fmt.Errorf("failed to stop monitoring: %w", err)
	}
	return nil
}

// Authorized reports whether background monitoring is allowed.
func (c *Controller) Authorized() bool {
	return c.authorized.Load()
}

// Reset stops monitoring, wipes the catalog and download records, clears
// sync preferences and removes downloaded files.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.reconciler.StopAll(ctx); err != nil {
		return fmt.Errorf("failed to stop monitoring: %w", err)
	}
	if err := c.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("failed to clear catalog: %w", err)
	}
	if err := c.prefs.Reset(); err != nil {
		return err
	}

	downloads, err := os.ReadDir(c.downloadDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to list download directory", "dir", c.downloadDir, "error", err)
	}
	for _, entry := range downloads {
		if entry.IsDir() || !feed.IsFeedFile(entry.Name()) {
			continue
		}
		if err := os.Remove(c.downloadDir + string(os.PathSeparator) + entry.Name()); err != nil {
			slog.Warn("Failed to remove downloaded feed", "file", entry.Name(), "error", err)
		}
	}

	slog.Info("Reset geofence state")
	return nil
}
