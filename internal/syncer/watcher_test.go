package syncer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/fencewatch/internal/feed"
)

type recordingSeeder struct {
	paths []string
	mu    sync.Mutex
}

func (s *recordingSeeder) SeedFile(_ context.Context, path string, _ feed.PropertiesGenerator) (MergeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	return MergeStats{Inserted: 1}, nil
}

func (s *recordingSeeder) seeded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func startWatcher(t *testing.T, dir string, seeder Seeder) (*SeedWatcher, *seedCounter) {
	t.Helper()

	w, err := NewSeedWatcher(dir, seeder, nil, 50*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	calls := &seedCounter{}
	w.OnSeed(func(_ string, stats MergeStats, err error) {
		assert.NoError(t, err)
		assert.Equal(t, 1, stats.Inserted)
		calls.inc()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	// Give Run time to register the directory.
	time.Sleep(100 * time.Millisecond)
	return w, calls
}

type seedCounter struct {
	n  int
	mu sync.Mutex
}

func (c *seedCounter) inc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *seedCounter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestSeedWatcher_AppliesFeedFile(t *testing.T) {
	dir := t.TempDir()
	seeder := &recordingSeeder{}
	_, calls := startWatcher(t, dir, seeder)

	path := filepath.Join(dir, "fences.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"FeatureCollection","features":[]}`), 0o600))

	require.Eventually(t, func() bool { return calls.get() == 1 }, 2*time.Second, 10*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, calls.get())
	assert.Equal(t, []string{path}, seeder.seeded())
}

func TestSeedWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	seeder := &recordingSeeder{}
	_, calls := startWatcher(t, dir, seeder)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.geojson"), []byte("{}"), 0o600))

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, calls.get())
	assert.Empty(t, seeder.seeded())
}

func TestNewSeedWatcher_DefaultDebounce(t *testing.T) {
	w, err := NewSeedWatcher(t.TempDir(), &recordingSeeder{}, nil, 0)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	assert.Equal(t, DefaultSeedDebounce, w.debounce)
}
