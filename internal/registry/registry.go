package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/nbforge/spawnd/internal/domain"
	domainerrors "github.com/nbforge/spawnd/internal/domain/errors"
)

// Registry tracks active notebooks by container id. One mutex guards the
// whole map, and the engine-facing work for create, reconcile and delete
// runs inside the critical section via callbacks, so concurrent handlers
// never observe a half-created or half-destroyed notebook.
//
// The registry is not persisted: after a restart the engine may still hold
// containers with no matching entry here. That staleness is accepted and
// never corrected from this side.
type Registry struct {
	mu        sync.Mutex
	notebooks map[string]*domain.Notebook
	logger    *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		notebooks: make(map[string]*domain.Notebook),
		logger:    logger,
	}
}

// LaunchFunc performs port allocation and the engine launch for one
// notebook. It runs under the registry lock.
type LaunchFunc func(ctx context.Context) (*domain.Notebook, error)

// ProbeFunc reports whether the container behind the entry is still
// running, refreshing any engine-reported attributes on it along the way.
// It must return domainerrors.NotFoundError when the engine no longer
// knows the container.
type ProbeFunc func(ctx context.Context, nb *domain.Notebook) (bool, error)

// TeardownFunc stops and removes the container behind a notebook and cleans
// up its config file. It runs under the registry lock.
type TeardownFunc func(ctx context.Context, nb *domain.Notebook) error

// Create runs launch under the registry lock and records the notebook it
// returns. Any launch error leaves the registry untouched.
func (r *Registry) Create(ctx context.Context, launch LaunchFunc) (*domain.Notebook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nb, err := launch(ctx)
	if err != nil {
		return nil, err
	}

	r.notebooks[nb.ID] = nb
	return nb, nil
}

// Reconcile cross-checks every entry against live engine state. Entries
// whose container is gone or no longer running are evicted and handed to
// onEvict for cleanup. A probe failure on one entry does not abort the
// remaining entries; failures other than not-found keep the entry, since an
// engine blip must not evict a live notebook. Returns a snapshot copy of
// the survivors, oldest first.
func (r *Registry) Reconcile(ctx context.Context, probe ProbeFunc, onEvict func(*domain.Notebook)) []domain.Notebook {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []string
	for id, nb := range r.notebooks {
		running, err := probe(ctx, nb)
		if err != nil {
			var notFound domainerrors.NotFoundError
			if errors.As(err, &notFound) {
				stale = append(stale, id)
				continue
			}
			r.logger.Warn("reconcile: probe failed, keeping entry", "id", id, "err", err)
			nb.Status = domain.StatusUnknown
			continue
		}
		if !running {
			stale = append(stale, id)
			continue
		}
		nb.Status = domain.StatusRunning
	}

	for _, id := range stale {
		nb := r.notebooks[id]
		delete(r.notebooks, id)
		nb.Status = domain.StatusStopped
		r.logger.Info("reconcile: evicted stale notebook", "id", id, "name", nb.Name)
		if onEvict != nil {
			onEvict(nb)
		}
	}

	out := make([]domain.Notebook, 0, len(r.notebooks))
	for _, nb := range r.notebooks {
		out = append(out, *nb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// Delete removes the notebook matching id or name after running teardown
// under the lock. When teardown fails the entry is kept so the caller can
// retry; teardown itself is expected to treat an engine-side not-found as
// success, so entries never outlive containers the engine has forgotten.
func (r *Registry) Delete(ctx context.Context, idOrName string, teardown TeardownFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	nb, ok := r.lookup(idOrName)
	if !ok {
		return domainerrors.NotFoundError{ID: idOrName}
	}

	if err := teardown(ctx, nb); err != nil {
		return err
	}

	delete(r.notebooks, nb.ID)
	return nil
}

// Get returns a copy of the notebook matching id or name.
func (r *Registry) Get(idOrName string) (domain.Notebook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nb, ok := r.lookup(idOrName)
	if !ok {
		return domain.Notebook{}, domainerrors.NotFoundError{ID: idOrName}
	}
	return *nb, nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notebooks)
}

// lookup resolves either a container id or a generated name.
// Caller must hold the lock.
func (r *Registry) lookup(idOrName string) (*domain.Notebook, bool) {
	if nb, ok := r.notebooks[idOrName]; ok {
		return nb, true
	}
	for _, nb := range r.notebooks {
		if nb.Name == idOrName {
			return nb, true
		}
	}
	return nil, false
}
