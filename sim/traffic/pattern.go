package traffic

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/inference-sim/usagesim/sim"
	"github.com/inference-sim/usagesim/sim/pricing"
)

// MaxMultiplier caps any pattern multiplier after clamping at zero.
const MaxMultiplier = 1000.0

// Pattern is a traffic-shape strategy. Each instance owns its scenario
// state exclusively; the clock and pool are always passed in.
type Pattern interface {
	Name() string
	// Init prepares scenario state before the first tick.
	Init(pool *sim.CustomerPool, rng *rand.Rand)
	// Advance applies tick-boundary state changes such as churn or burst triggers.
	// It is the only place a pattern may mutate the pool.
	Advance(clk sim.Clock, pool *sim.CustomerPool, rng *rand.Rand)
	// Multiplier is the call-volume multiplier for c at clk. Callers clamp it to [0, MaxMultiplier].
	Multiplier(clk sim.Clock, c *sim.Customer) float64
}

// ModelWeigher is implemented by patterns that shift provider/model selection over time.
type ModelWeigher interface {
	ModelWeights(clk sim.Clock) []pricing.WeightedModel
}

// FeatureSelector is implemented by patterns that route calls to a specific feature.
// ok=false falls back to the customer's organization products.
type FeatureSelector interface {
	SelectFeature(clk sim.Clock, c *sim.Customer, rng *rand.Rand) (product, feature string, ok bool)
}

// RegionSelector is implemented by patterns that pin a customer to a region.
type RegionSelector interface {
	Region(c *sim.Customer) string
}

// BaseRater is implemented by patterns whose base volume ignores archetype.
type BaseRater interface {
	BaseRate(c *sim.Customer) float64 // calls per hour at multiplier 1
}

// stateless provides no-op Init and Advance for patterns without tick state.
type stateless struct{}

func (stateless) Init(*sim.CustomerPool, *rand.Rand)               {}
func (stateless) Advance(sim.Clock, *sim.CustomerPool, *rand.Rand) {}

// clampMultiplier maps NaN and negatives to 0 and caps at MaxMultiplier.
func clampMultiplier(m float64) float64 {
	if math.IsNaN(m) || m < 0 {
		return 0
	}
	return math.Min(m, MaxMultiplier)
}

// === Parameter registry ===

// paramDef declares one numeric pattern parameter.
type paramDef struct {
	def      float64
	min, max float64
}

// params is a resolved parameter set: every declared key present.
type params map[string]float64

type patternInfo struct {
	description string
	params      map[string]paramDef
	build       func(s ScenarioSpec, p params, cat *pricing.Catalog) (Pattern, error)
}

// Pattern names.
const (
	PatternBase             = "base"
	PatternSeasonal         = "seasonal"
	PatternBurst            = "burst"
	PatternMultiTenant      = "multi-tenant"
	PatternModelMigration   = "model-migration"
	PatternWeekendEffect    = "weekend-effect"
	PatternTimezone         = "timezone"
	PatternFeatureLaunch    = "feature-launch"
	PatternCostOptimization = "cost-optimization"
	PatternGradualDecline   = "gradual-decline"
	PatternSteadyGrowth     = "steady-growth"
	PatternViralSpike       = "viral-spike"
)

var registry = map[string]patternInfo{
	PatternBase: {
		description: "archetype-weighted volume with diurnal and weekend shape",
		params:      map[string]paramDef{"weekend_factor": {0.6, 0, 10}},
		build: func(_ ScenarioSpec, p params, _ *pricing.Catalog) (Pattern, error) {
			return &BasePattern{WeekendFactor: p["weekend_factor"]}, nil
		},
	},
	PatternSeasonal: {
		description: "weekly x daily x day-of-month sine seasonality",
		params:      map[string]paramDef{"monthly_amplitude": {0.2, 0, 1}},
		build: func(_ ScenarioSpec, p params, _ *pricing.Catalog) (Pattern, error) {
			return &SeasonalPattern{MonthlyAmplitude: p["monthly_amplitude"]}, nil
		},
	},
	PatternBurst: {
		description: "daily Bernoulli-triggered 1-3h bursts over a reduced baseline",
		params: map[string]paramDef{
			"trigger_probability": {0.15, 0, 1},
			"min_multiplier":      {5, 0, MaxMultiplier},
			"max_multiplier":      {20, 0, MaxMultiplier},
			"min_hours":           {1, 1, 24},
			"max_hours":           {3, 1, 24},
			"baseline":            {0.2, 0, 10},
		},
		build: buildBurst,
	},
	PatternMultiTenant: {
		description: "per-organization multiplier independent of archetype",
		params: map[string]paramDef{
			"min_multiplier": {3, 0, MaxMultiplier},
			"max_multiplier": {10, 0, MaxMultiplier},
			"base_rate":      {0.3, 0, 1000},
		},
		build: buildMultiTenant,
	},
	PatternModelMigration: {
		description: "linear shift of provider/model weights from source to target",
		params:      map[string]paramDef{"shift": {1, 0, 1}},
		build:       buildMigration,
	},
	PatternWeekendEffect: {
		description: "binary weekday/weekend multiplier",
		params: map[string]paramDef{
			"weekday_factor": {1.0, 0, 10},
			"weekend_factor": {0.25, 0, 10},
		},
		build: func(_ ScenarioSpec, p params, _ *pricing.Catalog) (Pattern, error) {
			return &WeekendEffectPattern{WeekdayFactor: p["weekday_factor"], WeekendFactor: p["weekend_factor"]}, nil
		},
	},
	PatternTimezone: {
		description: "regional cohorts active in local business hours",
		params: map[string]paramDef{
			"business_start": {9, 0, 23},
			"business_end":   {17, 1, 24},
			"off_hours":      {0.1, 0, 10},
		},
		build: buildTimezone,
	},
	PatternFeatureLaunch: {
		description: "logistic adoption curve of a newly launched feature",
		params: map[string]paramDef{
			"launch_day":    {5, 0, 3650},
			"midpoint_days": {7, 0, 3650},
			"steepness":     {0.5, 0.001, 100},
			"plateau":       {0.35, 0, 1},
		},
		build: buildFeatureLaunch,
	},
	PatternCostOptimization: {
		description: "weight shift toward cheaper models over the horizon",
		params:      map[string]paramDef{"shift": {0.8, 0, 1}},
		build:       buildCostOptimization,
	},
	PatternGradualDecline: {
		description: "daily multiplicative decay with permanent per-customer churn",
		params: map[string]paramDef{
			"daily_decay": {0.0043, 0, 1},
			"churn_rate":  {0.02, 0, 1},
			"factor_min":  {0.7, 0, 10},
			"factor_max":  {1.0, 0, 10},
		},
		build: buildDecline,
	},
	PatternSteadyGrowth: {
		description: "linear ramp from start to end multiplier over the horizon",
		params: map[string]paramDef{
			"start_multiplier": {1, 0, MaxMultiplier},
			"end_multiplier":   {2, 0, MaxMultiplier},
		},
		build: func(_ ScenarioSpec, p params, _ *pricing.Catalog) (Pattern, error) {
			return &SteadyGrowthPattern{Start: p["start_multiplier"], End: p["end_multiplier"]}, nil
		},
	},
	PatternViralSpike: {
		description: "baseline, spike, then decay to an elevated plateau",
		params: map[string]paramDef{
			"spike_start_day":     {10, 0, 3650},
			"spike_days":          {2, 0, 3650},
			"decay_days":          {5, 0, 3650},
			"spike_multiplier":    {50, 0, MaxMultiplier},
			"plateau_multiplier":  {5, 0, MaxMultiplier},
			"baseline_multiplier": {1, 0, MaxMultiplier},
		},
		build: buildViral,
	},
}

// PatternNames lists registered patterns in sorted order.
func PatternNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PatternDescription returns the one-line description of a pattern.
func PatternDescription(name string) string {
	return registry[name].description
}

// ParamInfo describes one tunable pattern parameter.
type ParamInfo struct {
	Default, Min, Max float64
}

// PatternParams returns the tunable parameters of a pattern.
func PatternParams(name string) map[string]ParamInfo {
	out := make(map[string]ParamInfo, len(registry[name].params))
	for k, d := range registry[name].params {
		out[k] = ParamInfo{Default: d.def, Min: d.min, Max: d.max}
	}
	return out
}

// IsValidPattern reports whether name is a registered pattern.
func IsValidPattern(name string) bool {
	_, ok := registry[name]
	return ok
}

// NewPattern builds the pattern described by s, filling unset params with
// their defaults.
func NewPattern(s ScenarioSpec, cat *pricing.Catalog) (Pattern, error) {
	info, ok := registry[s.Pattern]
	if !ok {
		return nil, fmt.Errorf("unknown pattern %q; valid: %s", s.Pattern, strings.Join(PatternNames(), ", "))
	}
	p, err := resolveParams(info.params, s.Params)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", s.Name, err)
	}
	pat, err := info.build(s, p, cat)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", s.Name, err)
	}
	return pat, nil
}

// resolveParams rejects unknown or out-of-range keys and fills defaults.
func resolveParams(defs map[string]paramDef, given map[string]float64) (params, error) {
	for name, val := range given {
		def, ok := defs[name]
		if !ok {
			known := make([]string, 0, len(defs))
			for k := range defs {
				known = append(known, k)
			}
			sort.Strings(known)
			return nil, fmt.Errorf("unknown param %q; valid: %s", name, strings.Join(known, ", "))
		}
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, fmt.Errorf("param %q must be finite, got %f", name, val)
		}
		if val < def.min || val > def.max {
			return nil, fmt.Errorf("param %q must be in [%g, %g], got %g", name, def.min, def.max, val)
		}
	}
	out := make(params, len(defs))
	for name, def := range defs {
		out[name] = def.def
		if v, ok := given[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}

func requireOrdered(p params, lo, hi string) error {
	if p[lo] > p[hi] {
		return fmt.Errorf("param %q (%g) exceeds %q (%g)", lo, p[lo], hi, p[hi])
	}
	return nil
}
