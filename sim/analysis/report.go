// Package analysis turns an aggregation into the structured report:
// per-group statistics, daily cost anomalies, spend forecast and ranked
// cost-optimization advice. Every function is pure over its inputs.
package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/usagesim/sim/metrics"
	"github.com/inference-sim/usagesim/sim/pricing"
)

// Status qualifies a derived result.
type Status string

// Result statuses.
const (
	StatusOK               Status = "ok"
	StatusInsufficientData Status = "insufficient_data"
	StatusNotRecommended   Status = "not_recommended"
)

// Config gathers every analysis parameter.
type Config struct {
	Anomaly  AnomalyConfig  `yaml:"anomaly" json:"anomaly"`
	Forecast ForecastConfig `yaml:"forecast" json:"forecast"`
	Advisor  AdvisorConfig  `yaml:"advisor" json:"advisor"`
}

// DefaultConfig returns the default analysis configuration.
func DefaultConfig() Config {
	return Config{
		Anomaly:  DefaultAnomalyConfig(),
		Forecast: DefaultForecastConfig(),
		Advisor:  DefaultAdvisorConfig(),
	}
}

// LoadConfig reads a YAML analysis config over the defaults.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading analysis config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, fmt.Errorf("parsing analysis config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid analysis config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Anomaly.Validate(); err != nil {
		return err
	}
	if err := c.Forecast.Validate(); err != nil {
		return err
	}
	return c.Advisor.Validate()
}

// GroupStats is the reported view of one group.
type GroupStats struct {
	metrics.Totals `yaml:",inline"`
	CostPerCallUSD float64          `json:"cost_per_call_usd" yaml:"cost_per_call_usd"`
	LatencyMs      *metrics.Summary `json:"latency_ms,omitempty" yaml:"latency_ms,omitempty"`
}

func statsOf(g *metrics.Group) GroupStats {
	s := GroupStats{Totals: g.Totals, CostPerCallUSD: g.CostPerCall()}
	if lat, err := g.Latency(); err == nil {
		s.LatencyMs = &lat
	}
	return s
}

// Period is the time span covered by the analyzed events.
type Period struct {
	First time.Time `json:"first" yaml:"first"`
	Last  time.Time `json:"last" yaml:"last"`
	Days  int       `json:"days" yaml:"days"`
}

// Report is the complete analysis result consumed by external renderers.
type Report struct {
	Period        Period                           `json:"period" yaml:"period"`
	Totals        GroupStats                       `json:"totals" yaml:"totals"`
	Rejected      int64                            `json:"rejected_records" yaml:"rejected_records"`
	RejectReasons []string                         `json:"reject_reasons,omitempty" yaml:"reject_reasons,omitempty"`
	Dimensions    map[string]map[string]GroupStats `json:"dimensions" yaml:"dimensions"`
	Hierarchy     []*metrics.Node                  `json:"hierarchy,omitempty" yaml:"hierarchy,omitempty"`
	CrossTab      *metrics.CrossTab                `json:"crosstab,omitempty" yaml:"crosstab,omitempty"`
	DailySpend    []Bucket                         `json:"daily_spend" yaml:"daily_spend"`
	Anomalies     AnomalyResult                    `json:"anomalies" yaml:"anomalies"`
	Forecast      Forecast                         `json:"forecast" yaml:"forecast"`
	Advice        Advice                           `json:"advice" yaml:"advice"`
}

// Analyze assembles the report from a completed aggregation. The
// aggregation must carry the day, provider, provider+model and
// task_type+model groupings; hierarchy and cross-tab are included when
// their groupings were registered.
func Analyze(a *metrics.Aggregator, cat *pricing.Catalog, cfg Config) (*Report, error) {
	if a == nil || cat == nil {
		return nil, fmt.Errorf("aggregator and catalog are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	daily, err := DailySpend(a)
	if err != nil {
		return nil, err
	}
	first, last := a.Span()
	r := &Report{
		Period:        Period{First: first, Last: last, Days: len(daily)},
		Totals:        statsOf(a.Total()),
		Rejected:      a.Rejected(),
		RejectReasons: a.Reasons(),
		Dimensions:    make(map[string]map[string]GroupStats, len(a.Tables())),
		DailySpend:    daily,
	}
	for _, t := range a.Tables() {
		groups := make(map[string]GroupStats, t.Len())
		for _, g := range t.Groups() {
			groups[g.Key()] = statsOf(g)
		}
		r.Dimensions[t.Grouping.Name()] = groups
	}
	if _, ok := a.Table(metrics.HierarchyGrouping); ok {
		if r.Hierarchy, err = a.Hierarchy(); err != nil {
			return nil, err
		}
	}
	if _, ok := a.Table(metrics.CrossTabGrouping); ok {
		if r.CrossTab, err = a.CrossTab(); err != nil {
			return nil, err
		}
	}

	costs := make([]float64, len(daily))
	for i, b := range daily {
		costs[i] = b.CostUSD
	}
	if r.Anomalies, err = DetectAnomalies(daily, cfg.Anomaly); err != nil {
		return nil, err
	}
	if r.Forecast, err = ForecastSpend(costs, cfg.Forecast); err != nil {
		return nil, err
	}
	if r.Advice, err = Advise(a, costs, cat, cfg.Advisor); err != nil {
		return nil, err
	}
	return r, nil
}

// DailySpend returns one bucket per calendar day from the first to the last
// event day; days without events are zero.
func DailySpend(a *metrics.Aggregator) ([]Bucket, error) {
	t, err := table(a, metrics.Grouping{metrics.DimDay})
	if err != nil {
		return nil, err
	}
	groups := t.Groups()
	if len(groups) == 0 {
		return []Bucket{}, nil
	}
	const layout = "2006-01-02"
	start, err := time.Parse(layout, groups[0].Values[0])
	if err != nil {
		return nil, fmt.Errorf("day bucket %q: %w", groups[0].Values[0], err)
	}
	end, err := time.Parse(layout, groups[len(groups)-1].Values[0])
	if err != nil {
		return nil, fmt.Errorf("day bucket %q: %w", groups[len(groups)-1].Values[0], err)
	}
	var out []Bucket
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		key := d.Format(layout)
		b := Bucket{Key: key}
		if g, ok := t.Get(key); ok {
			b.CostUSD = g.CostUSD
		}
		out = append(out, b)
	}
	return out, nil
}

// Output formats of Encode.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Encode writes the report as indented JSON or YAML.
func (r *Report) Encode(w io.Writer, format string) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown report format %q; valid: %s, %s", format, FormatJSON, FormatYAML)
}
