package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nbforge/spawnd/internal/config"
	"github.com/nbforge/spawnd/internal/engine"
	"github.com/nbforge/spawnd/internal/jupyter"
	"github.com/nbforge/spawnd/internal/network"
	"github.com/nbforge/spawnd/internal/registry"
	"github.com/nbforge/spawnd/internal/server"
	notebookuc "github.com/nbforge/spawnd/internal/usecase/notebook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg)
	logger.Info("starting spawnd",
		"version", config.Version,
		"build_time", config.BuildTime,
		"image", cfg.Image,
		"port_range", fmt.Sprintf("%d-%d", cfg.PortRangeStart, cfg.PortRangeEnd),
	)

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	if err := os.MkdirAll(cfg.NotebooksDir, 0o755); err != nil {
		logger.Error("failed to create notebooks dir", "dir", cfg.NotebooksDir, "err", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.ConfigsDir, 0o755); err != nil {
		logger.Error("failed to create configs dir", "dir", cfg.ConfigsDir, "err", err)
		os.Exit(1)
	}

	eng, err := engine.NewClient()
	if err != nil {
		logger.Error("failed to create engine client", "err", err)
		os.Exit(1)
	}
	defer eng.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err = eng.Ping(pingCtx)
	pingCancel()
	if err != nil {
		logger.Error("container engine unreachable", "err", err)
		os.Exit(1)
	}

	// The registry is not persisted, so managed containers left over from a
	// previous run are untracked from here on. Report them at startup.
	listCtx, listCancel := context.WithTimeout(ctx, 5*time.Second)
	leftovers, err := eng.List(listCtx, cfg.NamePrefix)
	listCancel()
	if err != nil {
		logger.Warn("could not list existing managed containers", "err", err)
	}
	for _, ctr := range leftovers {
		logger.Warn("untracked managed container from a previous run",
			"id", ctr.ID, "name", ctr.Name, "status", ctr.Status, "port", ctr.HostPort)
	}

	allocator := network.NewAllocator(cfg.PortRangeStart, cfg.PortRangeEnd, cfg.PortStrategy, cfg.PortRetries)
	reg := registry.New(logger)
	configs := jupyter.NewMaterializer(cfg.ConfigsDir, cfg.FrontendOrigin, logger)
	notebooks := notebookuc.NewService(eng, allocator, reg, configs, cfg, logger)

	api := server.NewAPI(notebooks, eng, logger)
	srv := server.NewServer(cfg.BindAddr, api, cfg.APIKey, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr)
		errCh <- srv.Run()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server stopped unexpectedly", "err", err)
		os.Exit(1)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "err", err)
		os.Exit(1)
	}

	logger.Info("spawnd stopped cleanly")
}
