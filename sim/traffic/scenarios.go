package traffic

import (
	"fmt"
	"sort"
	"strings"

	"github.com/inference-sim/usagesim/sim"
)

// Built-in scenario presets. Each returns a valid SimulationSpec ready for
// SimulationSpec.Build: 100 customers over 30 days unless noted.

// PresetMixed combines base, burst and feature-launch traffic over one pool.
const PresetMixed = "mixed"

const (
	presetCustomers = 100
	presetDays      = 30
)

var presetScenarios = map[string]func() []ScenarioSpec{
	PresetMixed: func() []ScenarioSpec {
		return []ScenarioSpec{
			{Name: "steady", Pattern: PatternBase},
			{Name: "spiky", Pattern: PatternBurst, Params: map[string]float64{"baseline": 0.1}},
			{Name: "launch", Pattern: PatternFeatureLaunch},
		}
	},
	PatternModelMigration: func() []ScenarioSpec {
		return []ScenarioSpec{{
			Name: PatternModelMigration, Pattern: PatternModelMigration,
			Source: map[string]float64{"openai/gpt-4o": 0.8, "openai/gpt-4o-mini": 0.2},
			Target: map[string]float64{"anthropic/claude-3-5-sonnet": 0.7, "google/gemini-1.5-pro": 0.3},
		}}
	},
}

// PresetNames lists every preset: one per pattern plus PresetMixed.
func PresetNames() []string {
	names := append(PatternNames(), PresetMixed)
	sort.Strings(names)
	return names
}

// Preset returns the named preset spec seeded with seed.
func Preset(name string, seed int64) (*SimulationSpec, error) {
	var scenarios []ScenarioSpec
	switch build, ok := presetScenarios[name]; {
	case ok:
		scenarios = build()
	case IsValidPattern(name):
		scenarios = []ScenarioSpec{{Name: name, Pattern: name}}
	default:
		return nil, fmt.Errorf("unknown preset %q; valid: %s", name, strings.Join(PresetNames(), ", "))
	}
	return &SimulationSpec{
		Version:    SpecVersion,
		Seed:       seed,
		Days:       presetDays,
		Population: sim.PopulationConfig{Customers: presetCustomers},
		Scenarios:  scenarios,
	}, nil
}
