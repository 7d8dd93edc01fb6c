package jupyter

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	domainerrors "github.com/nbforge/spawnd/internal/domain/errors"
)

// ConfigTarget is where the generated config is mounted inside the container.
const ConfigTarget = "/home/jovyan/.jupyter/jupyter_notebook_config.py"

// One file per active notebook. frame-ancestors plus allow_origin is what
// lets the configured frontend embed the notebook UI in an iframe.
const configTemplate = `# Generated by spawnd for %s. Do not edit.
c.NotebookApp.token = %q
c.NotebookApp.allow_origin = %q
c.NotebookApp.allow_credentials = True
c.NotebookApp.tornado_settings = {
    "headers": {
        "Content-Security-Policy": "frame-ancestors 'self' %s",
    },
}
`

// Materializer writes and removes per-notebook Jupyter config files.
type Materializer struct {
	dir    string
	origin string
	logger *slog.Logger
}

func NewMaterializer(dir, frontendOrigin string, logger *slog.Logger) *Materializer {
	return &Materializer{dir: dir, origin: frontendOrigin, logger: logger}
}

// Write renders the config file for one notebook and returns its path.
func (m *Materializer) Write(name, token string) (string, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", domainerrors.ConfigFileError{Path: m.dir, Err: err}
	}

	path := filepath.Join(m.dir, name+"_config.py")
	content := fmt.Sprintf(configTemplate, name, token, m.origin, m.origin)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", domainerrors.ConfigFileError{Path: path, Err: err}
	}
	return path, nil
}

// Remove deletes a config file. A file that is already gone counts as
// success; any other filesystem error is logged but not surfaced, since the
// notebook teardown it belongs to must proceed regardless.
func (m *Materializer) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("failed to remove notebook config", "path", path, "err", err)
	}
}
