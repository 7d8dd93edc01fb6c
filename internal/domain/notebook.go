package domain

import "time"

type NotebookStatus string

const (
	StatusRunning NotebookStatus = "running"
	StatusStopped NotebookStatus = "stopped"
	StatusUnknown NotebookStatus = "unknown"
)

// Notebook is one tracked notebook container plus the metadata the service
// assigned at creation. Status is not stored authoritatively; it is refreshed
// from the container engine during reconciliation.
type Notebook struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Image      string         `json:"image"`
	Port       int            `json:"port"`
	IP         string         `json:"ip"`
	Token      string         `json:"token"`
	ConfigPath string         `json:"-"`
	URL        string         `json:"url"`
	Created    time.Time      `json:"created"`
	Status     NotebookStatus `json:"status"`
}
