// Package record persists simulated events as append-only CSV records with
// a YAML run header sidecar, and streams them back for analysis.
package record

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FormatVersion is the current record format version.
const FormatVersion = 1

// RunHeader captures metadata for one generated record file.
type RunHeader struct {
	Version       int              `yaml:"format_version"`
	Seed          int64            `yaml:"seed"`
	Start         string           `yaml:"start"` // RFC 3339
	Days          int              `yaml:"days"`
	Tick          string           `yaml:"tick"`
	Customers     int              `yaml:"customers"`
	Organizations int              `yaml:"organizations"`
	Scenarios     []ScenarioHeader `yaml:"scenarios"`
	Columns       []string         `yaml:"columns"`

	// Filled after the run.
	Records    int64  `yaml:"records"`
	Bytes      int64  `yaml:"bytes"`
	TicksRun   int64  `yaml:"ticks_run"`
	StopReason string `yaml:"stop_reason,omitempty"`
}

// ScenarioHeader names one scenario of the run.
type ScenarioHeader struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// HeaderPath returns the sidecar path of a record file: events.csv -> events.header.yaml.
func HeaderPath(dataPath string) string {
	return strings.TrimSuffix(dataPath, ".csv") + ".header.yaml"
}

// WriteHeader writes h as YAML to path.
func WriteHeader(path string, h *RunHeader) error {
	data, err := yaml.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshaling run header: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing run header: %w", err)
	}
	return nil
}

// LoadHeader reads a run header written by WriteHeader.
func LoadHeader(path string) (*RunHeader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run header: %w", err)
	}
	var h RunHeader
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parsing run header: %w", err)
	}
	if h.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported record format version %d; supported: %d", h.Version, FormatVersion)
	}
	return &h, nil
}
