package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/go-units"
)

// Build-time variables injected via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Allocation strategies for host ports.
const (
	PortStrategyScan   = "scan"
	PortStrategyRandom = "random"
)

// Config holds all spawner configuration loaded from environment variables.
type Config struct {
	// APIKey is the shared secret required in the X-API-Key header.
	APIKey string

	// BindAddr is the host:port the HTTP server listens on.
	BindAddr string

	// Image is the notebook image launched for every instance.
	Image string

	// PortRangeStart and PortRangeEnd bound host port allocation.
	// The end of the range is exclusive.
	PortRangeStart int
	PortRangeEnd   int

	// PortStrategy selects how ports are picked: "scan" walks the range
	// in order, "random" draws up to PortRetries candidates.
	PortStrategy string

	// PortRetries bounds the random strategy.
	PortRetries int

	// NotebooksDir is mounted read-write into every notebook container.
	NotebooksDir string

	// ConfigsDir holds one generated Jupyter config per active notebook.
	ConfigsDir string

	// ExternalHost is the hostname clients use to reach spawned notebooks.
	ExternalHost string

	// URLTemplate renders the notebook access URL. Placeholders:
	// {host}, {port}, {token}.
	URLTemplate string

	// FrontendOrigin is the origin allowed to embed notebook UIs in an iframe.
	FrontendOrigin string

	// MemoryLimit caps container memory, e.g. "2g".
	MemoryLimit string

	// MemoryBytes is MemoryLimit parsed at load time.
	MemoryBytes int64

	// CPUQuota caps container CPU as a fraction of one core.
	CPUQuota float64

	// NamePrefix prefixes every generated container name.
	NamePrefix string

	// Debug enables verbose logging.
	Debug bool
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BindAddr:       "0.0.0.0:8000",
		Image:          "jupyter/base-notebook:latest",
		PortRangeStart: 9000,
		PortRangeEnd:   10000,
		PortStrategy:   PortStrategyScan,
		PortRetries:    5,
		NotebooksDir:   "notebooks",
		ConfigsDir:     "configs",
		ExternalHost:   "localhost",
		URLTemplate:    "http://{host}:{port}/?token={token}",
		FrontendOrigin: "",
		MemoryLimit:    "2g",
		CPUQuota:       0.5,
		NamePrefix:     "jupyter-",
	}
}

// Load reads configuration from environment variables, applying defaults
// for anything not explicitly set. Returns an error if required values
// are missing or malformed.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	cfg.APIKey = strings.TrimSpace(os.Getenv("SPAWND_API_KEY"))
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("SPAWND_API_KEY is required")
	}

	if v := os.Getenv("SPAWND_BIND_ADDR"); v != "" {
		cfg.BindAddr = v
	}

	if v := os.Getenv("SPAWND_IMAGE"); v != "" {
		cfg.Image = v
	}

	if v := os.Getenv("SPAWND_PORT_RANGE_START"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("SPAWND_PORT_RANGE_START: %w", err)
		}
		cfg.PortRangeStart = p
	}

	if v := os.Getenv("SPAWND_PORT_RANGE_END"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("SPAWND_PORT_RANGE_END: %w", err)
		}
		cfg.PortRangeEnd = p
	}

	if cfg.PortRangeStart < 1 || cfg.PortRangeEnd > 65536 || cfg.PortRangeStart >= cfg.PortRangeEnd {
		return nil, fmt.Errorf("invalid port range %d-%d", cfg.PortRangeStart, cfg.PortRangeEnd)
	}

	if v := os.Getenv("SPAWND_PORT_STRATEGY"); v != "" {
		if v != PortStrategyScan && v != PortStrategyRandom {
			return nil, fmt.Errorf("SPAWND_PORT_STRATEGY must be %q or %q", PortStrategyScan, PortStrategyRandom)
		}
		cfg.PortStrategy = v
	}

	if v := os.Getenv("SPAWND_PORT_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("SPAWND_PORT_RETRIES must be a positive integer")
		}
		cfg.PortRetries = n
	}

	if v := os.Getenv("SPAWND_NOTEBOOKS_DIR"); v != "" {
		cfg.NotebooksDir = v
	}
	abs, err := filepath.Abs(cfg.NotebooksDir)
	if err != nil {
		return nil, fmt.Errorf("resolve notebooks dir: %w", err)
	}
	cfg.NotebooksDir = abs

	if v := os.Getenv("SPAWND_CONFIGS_DIR"); v != "" {
		cfg.ConfigsDir = v
	}
	abs, err = filepath.Abs(cfg.ConfigsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve configs dir: %w", err)
	}
	cfg.ConfigsDir = abs

	if v := os.Getenv("SPAWND_EXTERNAL_HOST"); v != "" {
		cfg.ExternalHost = v
	}

	if v := os.Getenv("SPAWND_URL_TEMPLATE"); v != "" {
		cfg.URLTemplate = v
	}

	if v := os.Getenv("SPAWND_FRONTEND_ORIGIN"); v != "" {
		cfg.FrontendOrigin = v
	}

	if v := os.Getenv("SPAWND_MEMORY_LIMIT"); v != "" {
		cfg.MemoryLimit = v
	}
	cfg.MemoryBytes, err = units.RAMInBytes(cfg.MemoryLimit)
	if err != nil {
		return nil, fmt.Errorf("SPAWND_MEMORY_LIMIT: %w", err)
	}

	if v := os.Getenv("SPAWND_CPU_QUOTA"); v != "" {
		q, err := strconv.ParseFloat(v, 64)
		if err != nil || q <= 0 {
			return nil, fmt.Errorf("SPAWND_CPU_QUOTA must be a positive fraction of one core")
		}
		cfg.CPUQuota = q
	}

	if v := os.Getenv("SPAWND_NAME_PREFIX"); v != "" {
		cfg.NamePrefix = v
	}

	cfg.Debug = os.Getenv("SPAWND_DEBUG") == "true"

	return cfg, nil
}

// NewLogger creates the structured logger the rest of the service uses.
func NewLogger(cfg *Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
