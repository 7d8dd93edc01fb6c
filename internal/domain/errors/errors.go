package errors

import "fmt"

// PortAllocationError reports that no host port could be handed out.
// Reason distinguishes an exhausted range from an exceeded retry budget.
type PortAllocationError struct {
	Reason string
}

func (e PortAllocationError) Error() string {
	return "port allocation failed: " + e.Reason
}

// NotFoundError reports that no tracked notebook (or engine container)
// matches the given id or name.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return "notebook not found: " + e.ID
}

// EngineError wraps a failure reported by the container engine.
type EngineError struct {
	Op  string
	Err error
}

func (e EngineError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

func (e EngineError) Unwrap() error {
	return e.Err
}

// ConfigFileError reports a failure writing a per-notebook config file.
type ConfigFileError struct {
	Path string
	Err  error
}

func (e ConfigFileError) Error() string {
	return fmt.Sprintf("config file %s: %v", e.Path, e.Err)
}

func (e ConfigFileError) Unwrap() error {
	return e.Err
}
