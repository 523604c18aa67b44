package traffic

import (
	"math"

	"github.com/inference-sim/usagesim/sim"
)

// ArchetypeProfile is the baseline behavior of one archetype before any
// pattern multiplier is applied.
type ArchetypeProfile struct {
	CallsPerHour float64  `yaml:"calls_per_hour"` // mean calls per customer per hour at multiplier 1
	Input        DistSpec `yaml:"input_distribution"`
	Output       DistSpec `yaml:"output_distribution"`
}

// DefaultProfiles is the built-in archetype behavior table.
var DefaultProfiles = map[sim.Archetype]ArchetypeProfile{
	sim.ArchetypeLight: {
		CallsPerHour: 0.2,
		Input:        DistSpec{Type: "gaussian", Params: map[string]float64{"mean": 400, "std_dev": 150, "min": 20, "max": 2000}},
		Output:       DistSpec{Type: "exponential", Params: map[string]float64{"mean": 200}},
	},
	sim.ArchetypePower: {
		CallsPerHour: 1.0,
		Input:        DistSpec{Type: "gaussian", Params: map[string]float64{"mean": 1200, "std_dev": 400, "min": 50, "max": 8000}},
		Output:       DistSpec{Type: "exponential", Params: map[string]float64{"mean": 500}},
	},
	sim.ArchetypeHeavy: {
		CallsPerHour: 4.0,
		Input: DistSpec{Type: "pareto_lognormal", Params: map[string]float64{
			"alpha": 1.8, "xm": 1000, "mu": math.Log(3000), "sigma": 0.6, "mix_weight": 0.2,
		}},
		Output: DistSpec{Type: "exponential", Params: map[string]float64{"mean": 900}},
	},
}

// Call outcome rates and the latency recorded for timed-out calls.
const (
	DefaultErrorRate   = 0.020
	DefaultTimeoutRate = 0.005
	TimeoutLatencyMs   = 30_000
)
