package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nbforge/spawnd/internal/domain"
	domainerrors "github.com/nbforge/spawnd/internal/domain/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func insert(t *testing.T, r *Registry, id, name string) *domain.Notebook {
	t.Helper()
	nb, err := r.Create(context.Background(), func(context.Context) (*domain.Notebook, error) {
		return &domain.Notebook{ID: id, Name: name, Created: time.Now()}, nil
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return nb
}

func TestCreateInsertsOnSuccess(t *testing.T) {
	r := New(testLogger())
	insert(t, r, "ctr-1", "jupyter-aaaa")

	if r.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", r.Len())
	}
	if _, err := r.Get("ctr-1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
}

func TestCreateFailureLeavesRegistryEmpty(t *testing.T) {
	r := New(testLogger())
	_, err := r.Create(context.Background(), func(context.Context) (*domain.Notebook, error) {
		return nil, errors.New("launch failed")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d entries", r.Len())
	}
}

func TestReconcileEvictsForgottenContainers(t *testing.T) {
	r := New(testLogger())
	insert(t, r, "ctr-1", "jupyter-aaaa")
	insert(t, r, "ctr-2", "jupyter-bbbb")

	var evicted []string
	probe := func(_ context.Context, nb *domain.Notebook) (bool, error) {
		if nb.ID == "ctr-1" {
			return false, domainerrors.NotFoundError{ID: nb.ID}
		}
		return true, nil
	}
	live := r.Reconcile(context.Background(), probe, func(nb *domain.Notebook) {
		evicted = append(evicted, nb.ID)
	})

	if len(live) != 1 || live[0].ID != "ctr-2" {
		t.Fatalf("expected only ctr-2 to survive, got %+v", live)
	}
	if len(evicted) != 1 || evicted[0] != "ctr-1" {
		t.Fatalf("expected ctr-1 evicted, got %v", evicted)
	}
	if live[0].Status != domain.StatusRunning {
		t.Fatalf("expected survivor marked running, got %s", live[0].Status)
	}
}

func TestReconcileEvictsStoppedContainers(t *testing.T) {
	r := New(testLogger())
	insert(t, r, "ctr-1", "jupyter-aaaa")

	var evicted []*domain.Notebook
	live := r.Reconcile(context.Background(), func(context.Context, *domain.Notebook) (bool, error) {
		return false, nil
	}, func(nb *domain.Notebook) {
		evicted = append(evicted, nb)
	})

	if len(live) != 0 {
		t.Fatalf("expected no survivors, got %+v", live)
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
	if len(evicted) != 1 || evicted[0].Status != domain.StatusStopped {
		t.Fatalf("expected evicted entry marked stopped, got %+v", evicted)
	}
}

func TestReconcileKeepsEntriesOnProbeError(t *testing.T) {
	r := New(testLogger())
	insert(t, r, "ctr-1", "jupyter-aaaa")

	live := r.Reconcile(context.Background(), func(context.Context, *domain.Notebook) (bool, error) {
		return false, errors.New("engine timeout")
	}, func(*domain.Notebook) {
		t.Fatal("entry must not be evicted on a transient probe error")
	})

	if len(live) != 1 {
		t.Fatalf("expected entry to survive, got %+v", live)
	}
	if live[0].Status != domain.StatusUnknown {
		t.Fatalf("expected unknown status, got %s", live[0].Status)
	}
}

func TestReconcileIsolatesPerEntryFailures(t *testing.T) {
	r := New(testLogger())
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("ctr-%d", i)
		insert(t, r, id, "jupyter-"+id)
	}

	probed := 0
	r.Reconcile(context.Background(), func(_ context.Context, nb *domain.Notebook) (bool, error) {
		probed++
		if nb.ID == "ctr-1" {
			return false, errors.New("engine timeout")
		}
		return true, nil
	}, nil)

	if probed != 3 {
		t.Fatalf("expected all 3 entries probed, got %d", probed)
	}
}

func TestReconcileReturnsSnapshotCopies(t *testing.T) {
	r := New(testLogger())
	insert(t, r, "ctr-1", "jupyter-aaaa")

	live := r.Reconcile(context.Background(), func(context.Context, *domain.Notebook) (bool, error) {
		return true, nil
	}, nil)
	live[0].Name = "mutated"

	nb, err := r.Get("ctr-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if nb.Name != "jupyter-aaaa" {
		t.Fatalf("snapshot mutation leaked into registry: %q", nb.Name)
	}
}

func TestReconcileProbeCanRefreshEntries(t *testing.T) {
	r := New(testLogger())
	insert(t, r, "ctr-1", "jupyter-aaaa")

	live := r.Reconcile(context.Background(), func(_ context.Context, nb *domain.Notebook) (bool, error) {
		nb.IP = "172.17.0.2"
		nb.Port = 9005
		return true, nil
	}, nil)

	if live[0].IP != "172.17.0.2" || live[0].Port != 9005 {
		t.Fatalf("expected probe refresh to reach the snapshot, got %+v", live[0])
	}
	if nb, _ := r.Get("ctr-1"); nb.IP != "172.17.0.2" {
		t.Fatalf("expected probe refresh to persist in the registry, got %+v", nb)
	}
}

func TestDeleteUnknownIDReturnsNotFound(t *testing.T) {
	r := New(testLogger())
	err := r.Delete(context.Background(), "nope", func(context.Context, *domain.Notebook) error {
		t.Fatal("teardown must not run for unknown ids")
		return nil
	})

	var notFound domainerrors.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestDeleteRemovesEntryAfterTeardown(t *testing.T) {
	r := New(testLogger())
	insert(t, r, "ctr-1", "jupyter-aaaa")

	tornDown := false
	err := r.Delete(context.Background(), "ctr-1", func(_ context.Context, nb *domain.Notebook) error {
		tornDown = true
		return nil
	})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !tornDown {
		t.Fatal("teardown did not run")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestDeleteByName(t *testing.T) {
	r := New(testLogger())
	insert(t, r, "ctr-1", "jupyter-aaaa")

	if err := r.Delete(context.Background(), "jupyter-aaaa", func(context.Context, *domain.Notebook) error {
		return nil
	}); err != nil {
		t.Fatalf("Delete by name: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestDeleteKeepsEntryWhenTeardownFails(t *testing.T) {
	r := New(testLogger())
	insert(t, r, "ctr-1", "jupyter-aaaa")

	err := r.Delete(context.Background(), "ctr-1", func(context.Context, *domain.Notebook) error {
		return domainerrors.EngineError{Op: "stop", Err: errors.New("daemon down")}
	})
	if err == nil {
		t.Fatal("expected teardown error")
	}
	if r.Len() != 1 {
		t.Fatal("entry must survive a failed teardown so the delete can be retried")
	}
}
