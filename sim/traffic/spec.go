package traffic

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/usagesim/sim"
	"github.com/inference-sim/usagesim/sim/pricing"
)

// SpecVersion is the current simulation spec format version.
const SpecVersion = "1"

// SimulationSpec is the top-level generation configuration.
// Loaded from YAML via LoadSimulationSpec(path).
type SimulationSpec struct {
	Version       string               `yaml:"version"`
	Seed          int64                `yaml:"seed"`
	Start         time.Time            `yaml:"start,omitempty"` // zero = sim.DefaultStart
	Days          int                  `yaml:"days"`
	Tick          time.Duration        `yaml:"tick,omitempty"` // zero = sim.DefaultTick
	Population    sim.PopulationConfig `yaml:"population"`
	Scenarios     []ScenarioSpec       `yaml:"scenarios"`
	TargetRecords int64                `yaml:"target_records,omitempty"` // 0 = run to horizon
	TargetBytes   int64                `yaml:"target_bytes,omitempty"`   // 0 = no size target
	Parallel      bool                 `yaml:"parallel,omitempty"`       // emit scenarios concurrently per tick

	// Profiles overrides archetype behavior; missing archetypes keep DefaultProfiles.
	Profiles map[sim.Archetype]ArchetypeProfile `yaml:"profiles,omitempty"`
}

// ScenarioSpec selects one pattern and its parameters.
type ScenarioSpec struct {
	Name       string             `yaml:"name"`
	Pattern    string             `yaml:"pattern"`
	Params     map[string]float64 `yaml:"params,omitempty"`
	Source     map[string]float64 `yaml:"source_weights,omitempty"` // "provider/model" -> weight
	Target     map[string]float64 `yaml:"target_weights,omitempty"`
	Product    string             `yaml:"product,omitempty"`
	Feature    string             `yaml:"feature,omitempty"`
	UTCOffsets []int              `yaml:"utc_offsets,omitempty"`
}

// LoadSimulationSpec reads and parses a YAML simulation spec.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadSimulationSpec(path string) (*SimulationSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading simulation spec: %w", err)
	}
	var spec SimulationSpec
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parsing simulation spec: %w", err)
	}
	if spec.Version == "" {
		spec.Version = SpecVersion
	}
	return &spec, nil
}

// StartTime is Start, or sim.DefaultStart when unset.
func (s *SimulationSpec) StartTime() time.Time {
	if s.Start.IsZero() {
		return sim.DefaultStart
	}
	return s.Start.UTC()
}

// TickLength is Tick, or sim.DefaultTick when unset.
func (s *SimulationSpec) TickLength() time.Duration {
	if s.Tick == 0 {
		return sim.DefaultTick
	}
	return s.Tick
}

// Validate checks every field. It fails on the first problem found.
func (s *SimulationSpec) Validate() error {
	if s.Version != "" && s.Version != SpecVersion {
		return fmt.Errorf("unsupported spec version %q; supported: %s", s.Version, SpecVersion)
	}
	if s.Days <= 0 {
		return fmt.Errorf("days must be positive, got %d", s.Days)
	}
	if s.Tick < 0 {
		return fmt.Errorf("tick must be non-negative, got %s", s.Tick)
	}
	if tick := s.TickLength(); tick < time.Minute || tick > 24*time.Hour || (24*time.Hour)%tick != 0 {
		return fmt.Errorf("tick must divide a day and be in [1m, 24h], got %s", tick)
	}
	if s.TargetRecords < 0 {
		return fmt.Errorf("target_records must be non-negative, got %d", s.TargetRecords)
	}
	if s.TargetBytes < 0 {
		return fmt.Errorf("target_bytes must be non-negative, got %d", s.TargetBytes)
	}
	if err := s.Population.Validate(); err != nil {
		return err
	}
	for arch, prof := range s.Profiles {
		if !arch.IsValid() {
			return fmt.Errorf("profiles: unknown archetype %q", arch)
		}
		if math.IsNaN(prof.CallsPerHour) || math.IsInf(prof.CallsPerHour, 0) || prof.CallsPerHour < 0 {
			return fmt.Errorf("profiles.%s.calls_per_hour must be finite and non-negative, got %f", arch, prof.CallsPerHour)
		}
		if _, err := NewTokenSampler(prof.Input); err != nil {
			return fmt.Errorf("profiles.%s.input_distribution: %w", arch, err)
		}
		if _, err := NewTokenSampler(prof.Output); err != nil {
			return fmt.Errorf("profiles.%s.output_distribution: %w", arch, err)
		}
	}
	if len(s.Scenarios) == 0 {
		return fmt.Errorf("at least one scenario required")
	}
	seen := make(map[string]bool, len(s.Scenarios))
	for i, sc := range s.Scenarios {
		prefix := fmt.Sprintf("scenario[%d]", i)
		if sc.Name == "" {
			return fmt.Errorf("%s: name required", prefix)
		}
		if seen[sc.Name] {
			return fmt.Errorf("%s: duplicate scenario name %q", prefix, sc.Name)
		}
		seen[sc.Name] = true
		info, ok := registry[sc.Pattern]
		if !ok {
			return fmt.Errorf("%s: unknown pattern %q; valid: %v", prefix, sc.Pattern, PatternNames())
		}
		if _, err := resolveParams(info.params, sc.Params); err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
	}
	return nil
}

// profiles merges overrides onto DefaultProfiles.
func (s *SimulationSpec) profiles() map[sim.Archetype]ArchetypeProfile {
	if len(s.Profiles) == 0 {
		return DefaultProfiles
	}
	out := make(map[sim.Archetype]ArchetypeProfile, len(DefaultProfiles))
	for arch, prof := range DefaultProfiles {
		out[arch] = prof
	}
	for arch, prof := range s.Profiles {
		out[arch] = prof
	}
	return out
}

// Simulation is a validated spec resolved into runnable parts.
type Simulation struct {
	Spec       *SimulationSpec
	Catalog    *pricing.Catalog
	Clock      sim.Clock
	Pool       *sim.CustomerPool
	Generators []*Generator
}

// Build validates the spec, creates the customer pool and one initialized
// generator per scenario. Nothing is generated yet.
func (s *SimulationSpec) Build(cat *pricing.Catalog) (*Simulation, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulation spec: %w", err)
	}
	if cat == nil {
		cat = pricing.DefaultCatalog()
	}
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(s.Seed))
	pool, err := sim.NewCustomerPool(s.Population, rng.ForSubsystem(sim.SubsystemPopulation))
	if err != nil {
		return nil, err
	}
	clk := sim.NewClock(s.StartTime(), s.TickLength(), s.Days)

	profiles := s.profiles()
	gens := make([]*Generator, 0, len(s.Scenarios))
	for i, sc := range s.Scenarios {
		pattern, err := NewPattern(sc, cat)
		if err != nil {
			return nil, err
		}
		gen, err := NewGenerator(i, sc.Name, pattern, cat, rng.ForSubsystem(sim.SubsystemScenario(i, sc.Name)), profiles)
		if err != nil {
			return nil, err
		}
		gen.Init(pool)
		gens = append(gens, gen)
	}
	logrus.Infof("built simulation: %d customers, %d organizations, %d scenarios, %d ticks of %s",
		pool.Len(), len(pool.Organizations()), len(gens), clk.Horizon, clk.TickLength)
	return &Simulation{Spec: s, Catalog: cat, Clock: clk, Pool: pool, Generators: gens}, nil
}
