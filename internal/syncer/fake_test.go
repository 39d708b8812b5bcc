package syncer

import (
	"context"
	"sync"

	"github.com/Veraticus/fencewatch/internal/geo"
	"github.com/Veraticus/fencewatch/internal/monitor"
)

// fakeReconciler counts the calls a sync makes into monitoring.
type fakeReconciler struct {
	refreshErr error
	forgotten  []string
	refreshes  int
	stops      int
	mu         sync.Mutex
}

func newFakeReconciler() *fakeReconciler {
	return &fakeReconciler{refreshErr: geo.ErrNoPosition}
}

func (r *fakeReconciler) Refresh(context.Context) (monitor.Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes++
	return monitor.Delta{}, r.refreshErr
}

func (r *fakeReconciler) StopAll(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

func (r *fakeReconciler) Forget(_ context.Context, codes []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgotten = append(r.forgotten, codes...)
}

func (r *fakeReconciler) counts() (refreshes, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshes, r.stops
}
