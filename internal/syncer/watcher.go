package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Veraticus/fencewatch/internal/feed"
)

// DefaultSeedDebounce is how long a seed file must be quiet before it is
// applied.
const DefaultSeedDebounce = 500 * time.Millisecond

// Seeder applies a seed file.
type Seeder interface {
	SeedFile(ctx context.Context, path string, generator feed.PropertiesGenerator) (MergeStats, error)
}

// SeedWatcher applies feed files dropped into a directory.
type SeedWatcher struct {
	seeder    Seeder
	watcher   *fsnotify.Watcher
	generator feed.PropertiesGenerator
	onSeed    func(path string, stats MergeStats, err error)
	pending   map[string]*time.Timer
	dir       string
	debounce  time.Duration
	mu        sync.Mutex
	wg        sync.WaitGroup
}

// NewSeedWatcher creates a watcher for dir.
func NewSeedWatcher(dir string, seeder Seeder, generator feed.PropertiesGenerator, debounce time.Duration) (*SeedWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create seed watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultSeedDebounce
	}
	return &SeedWatcher{
		seeder:    seeder,
		watcher:   watcher,
		generator: generator,
		pending:   make(map[string]*time.Timer),
		dir:       dir,
		debounce:  debounce,
	}, nil
}

// OnSeed registers a callback run after each applied file.
func (w *SeedWatcher) OnSeed(fn func(path string, stats MergeStats, err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onSeed = fn
}

// Run watches until ctx is cancelled. Pending seeds are cancelled on return.
func (w *SeedWatcher) Run(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	slog.Info("Watching for seed files", "dir", w.dir)

	defer w.stopPending()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Seed watcher error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}

func (w *SeedWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if !feed.IsFeedFile(filepath.Base(event.Name)) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[event.Name]; ok && timer.Stop() {
		timer.Reset(w.debounce)
		return
	}
	path := event.Name
	w.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.seed(ctx, path, timer)
	})
	w.pending[path] = timer
}

func (w *SeedWatcher) seed(ctx context.Context, path string, timer *time.Timer) {
	w.mu.Lock()
	if w.pending[path] == timer {
		delete(w.pending, path)
	}
	onSeed := w.onSeed
	w.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	stats, err := w.seeder.SeedFile(ctx, path, w.generator)
	if err != nil {
		slog.Warn("Seed file applied with errors", "file", path, "error", err)
	} else {
		slog.Info("Seed file applied", "file", path, "inserted", stats.Inserted, "updated", stats.Updated)
	}
	if onSeed != nil {
		onSeed(path, stats, err)
	}
}

func (w *SeedWatcher) stopPending() {
	w.mu.Lock()
	for path, timer := range w.pending {
		if timer.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// Close releases the underlying watcher.
func (w *SeedWatcher) Close() error {
	return w.watcher.Close()
}
