package notebook

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nbforge/spawnd/internal/config"
	"github.com/nbforge/spawnd/internal/domain"
	domainerrors "github.com/nbforge/spawnd/internal/domain/errors"
	"github.com/nbforge/spawnd/internal/engine"
	"github.com/nbforge/spawnd/internal/jupyter"
	"github.com/nbforge/spawnd/internal/registry"
)

// Engine is the slice of the container engine this service consumes.
type Engine interface {
	Ping(ctx context.Context) error
	EnsureImage(ctx context.Context, ref string) error
	Launch(ctx context.Context, spec engine.LaunchSpec) (engine.Container, error)
	Inspect(ctx context.Context, idOrName string) (engine.Container, error)
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
}

// PortAllocator picks an unused host port for a new notebook.
type PortAllocator interface {
	Allocate() (int, error)
}

const notebookPort = 8888

// Service orchestrates notebook lifecycle: port allocation, config
// materialization, engine launch, registry bookkeeping and teardown.
type Service struct {
	engine  Engine
	ports   PortAllocator
	reg     *registry.Registry
	configs *jupyter.Materializer
	cfg     *config.Config
	logger  *slog.Logger

	// waitReady is swapped out in tests.
	waitReady func(ctx context.Context, logger *slog.Logger, url string) bool
}

func NewService(eng Engine, ports PortAllocator, reg *registry.Registry, configs *jupyter.Materializer, cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{
		engine:    eng,
		ports:     ports,
		reg:       reg,
		configs:   configs,
		cfg:       cfg,
		logger:    logger,
		waitReady: jupyter.WaitReady,
	}
}

// Create allocates a port, writes the per-notebook config file and launches
// the container, all inside the registry critical section. Any engine
// failure rolls the config file back before returning: a failed create
// leaves no registry entry, no container and no file behind.
func (s *Service) Create(ctx context.Context) (*domain.Notebook, error) {
	nb, err := s.reg.Create(ctx, func(ctx context.Context) (*domain.Notebook, error) {
		port, err := s.ports.Allocate()
		if err != nil {
			return nil, err
		}

		name := s.cfg.NamePrefix + randomSuffix()
		token := uuid.NewString()

		configPath, err := s.configs.Write(name, token)
		if err != nil {
			return nil, err
		}

		spec := engine.LaunchSpec{
			Image:         s.cfg.Image,
			Name:          name,
			HostPort:      port,
			ContainerPort: notebookPort,
			Env: []string{
				"JUPYTER_TOKEN=" + token,
				"GRANT_SUDO=yes",
			},
			Mounts: []engine.Mount{
				{Source: s.cfg.NotebooksDir, Target: "/home/jovyan/work"},
				{Source: configPath, Target: jupyter.ConfigTarget, ReadOnly: true},
			},
			MemoryBytes: s.cfg.MemoryBytes,
			CPUQuota:    s.cfg.CPUQuota,
		}

		if err := s.engine.EnsureImage(ctx, s.cfg.Image); err != nil {
			s.configs.Remove(configPath)
			return nil, err
		}

		ctr, err := s.engine.Launch(ctx, spec)
		if err != nil {
			s.configs.Remove(configPath)
			return nil, err
		}

		return &domain.Notebook{
			ID:         ctr.ID,
			Name:       name,
			Image:      s.cfg.Image,
			Port:       port,
			IP:         ctr.IP,
			Token:      token,
			ConfigPath: configPath,
			URL:        s.renderURL(port, token),
			Created:    time.Now(),
			Status:     domain.StatusRunning,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("notebook created", "id", nb.ID, "name", nb.Name, "port", nb.Port)

	if s.waitReady != nil {
		go s.probeReady(nb.Name, nb.URL)
	}
	return nb, nil
}

// List reconciles the registry against live engine state and returns the
// survivors, with host port and container IP refreshed from the engine's
// network attributes. Evicted entries get their config files removed on
// the way out.
func (s *Service) List(ctx context.Context) []domain.Notebook {
	probe := func(ctx context.Context, nb *domain.Notebook) (bool, error) {
		ctr, err := s.engine.Inspect(ctx, nb.ID)
		if err != nil {
			return false, err
		}
		nb.IP = ctr.IP
		if ctr.HostPort != 0 && ctr.HostPort != nb.Port {
			nb.Port = ctr.HostPort
			nb.URL = s.renderURL(nb.Port, nb.Token)
		}
		return ctr.Running, nil
	}
	return s.reg.Reconcile(ctx, probe, func(nb *domain.Notebook) {
		s.configs.Remove(nb.ConfigPath)
	})
}

// Get returns the tracked notebook matching id or name.
func (s *Service) Get(ctx context.Context, idOrName string) (domain.Notebook, error) {
	return s.reg.Get(idOrName)
}

// Delete stops and removes the container, deletes its config file and drops
// the registry entry. A container the engine has already forgotten still
// gets its entry and config file cleaned up.
func (s *Service) Delete(ctx context.Context, idOrName string) error {
	err := s.reg.Delete(ctx, idOrName, func(ctx context.Context, nb *domain.Notebook) error {
		if err := s.engine.Stop(ctx, nb.ID); err != nil && !isNotFound(err) {
			return err
		}
		if err := s.engine.Remove(ctx, nb.ID); err != nil && !isNotFound(err) {
			return err
		}
		s.configs.Remove(nb.ConfigPath)
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("notebook deleted", "id", idOrName)
	return nil
}

func (s *Service) renderURL(port int, token string) string {
	r := strings.NewReplacer(
		"{host}", s.cfg.ExternalHost,
		"{port}", strconv.Itoa(port),
		"{token}", token,
	)
	return r.Replace(s.cfg.URLTemplate)
}

func (s *Service) probeReady(name, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.waitReady(ctx, s.logger, url) {
		s.logger.Info("notebook answering", "name", name)
	} else {
		s.logger.Warn("notebook did not answer readiness probe", "name", name)
	}
}

// randomSuffix returns 8 characters of lowercase hex, enough that collisions
// among active notebooks are treated as negligible.
func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func isNotFound(err error) bool {
	var nf domainerrors.NotFoundError
	return errors.As(err, &nf)
}
