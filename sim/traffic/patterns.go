package traffic

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/inference-sim/usagesim/sim"
	"github.com/inference-sim/usagesim/sim/pricing"
)

// BasePattern is archetype-weighted volume with diurnal and weekend shape.
type BasePattern struct {
	stateless
	WeekendFactor float64
}

func (p *BasePattern) Name() string { return PatternBase }

func (p *BasePattern) Multiplier(clk sim.Clock, _ *sim.Customer) float64 {
	return baseShape(clk, p.WeekendFactor)
}

// SeasonalPattern composes weekly, daily and day-of-month cycles.
type SeasonalPattern struct {
	stateless
	MonthlyAmplitude float64
}

func (p *SeasonalPattern) Name() string { return PatternSeasonal }

func (p *SeasonalPattern) Multiplier(clk sim.Clock, _ *sim.Customer) float64 {
	monthly := 1 + p.MonthlyAmplitude*math.Sin(2*math.Pi*float64(clk.DayOfMonth())/float64(clk.DaysInMonth()))
	return WeeklyFactor(clk.Weekday()) * DiurnalFactor(clk.Hour()) * monthly
}

// WeekendEffectPattern is a binary weekday/weekend multiplier.
type WeekendEffectPattern struct {
	stateless
	WeekdayFactor float64
	WeekendFactor float64
}

func (p *WeekendEffectPattern) Name() string { return PatternWeekendEffect }

func (p *WeekendEffectPattern) Multiplier(clk sim.Clock, _ *sim.Customer) float64 {
	if clk.IsWeekend() {
		return p.WeekendFactor
	}
	return p.WeekdayFactor
}

// SteadyGrowthPattern ramps linearly from Start to End over the horizon.
type SteadyGrowthPattern struct {
	stateless
	Start, End float64
}

func (p *SteadyGrowthPattern) Name() string { return PatternSteadyGrowth }

func (p *SteadyGrowthPattern) Multiplier(clk sim.Clock, _ *sim.Customer) float64 {
	return DiurnalFactor(clk.Hour()) * (p.Start + (p.End-p.Start)*clk.Progress())
}

// === Burst ===

type burstWindow struct {
	start, end time.Time
	multiplier float64
}

// BurstPattern draws, at every day start, an independent burst trigger per
// customer. Outside a burst window volume drops to Baseline.
type BurstPattern struct {
	TriggerProbability float64
	MinMultiplier      float64
	MaxMultiplier      float64
	MinHours, MaxHours int
	Baseline           float64

	windows []burstWindow // by customer index; zero window = no burst
	carried []burstWindow // yesterday's window still running past midnight
}

func buildBurst(_ ScenarioSpec, p params, _ *pricing.Catalog) (Pattern, error) {
	if err := requireOrdered(p, "min_multiplier", "max_multiplier"); err != nil {
		return nil, err
	}
	if err := requireOrdered(p, "min_hours", "max_hours"); err != nil {
		return nil, err
	}
	return &BurstPattern{
		TriggerProbability: p["trigger_probability"],
		MinMultiplier:      p["min_multiplier"],
		MaxMultiplier:      p["max_multiplier"],
		MinHours:           int(p["min_hours"]),
		MaxHours:           int(p["max_hours"]),
		Baseline:           p["baseline"],
	}, nil
}

func (p *BurstPattern) Name() string { return PatternBurst }

func (p *BurstPattern) Init(pool *sim.CustomerPool, _ *rand.Rand) {
	p.windows = make([]burstWindow, pool.Len())
	p.carried = make([]burstWindow, pool.Len())
}

func (p *BurstPattern) Advance(clk sim.Clock, pool *sim.CustomerPool, rng *rand.Rand) {
	if !clk.IsDayStart() {
		return
	}
	if len(p.windows) < pool.Len() {
		p.windows = append(p.windows, make([]burstWindow, pool.Len()-len(p.windows))...)
	}
	if len(p.carried) < len(p.windows) {
		p.carried = append(p.carried, make([]burstWindow, len(p.windows)-len(p.carried))...)
	}
	dayStart := clk.Start.Add(time.Duration(clk.Day()) * 24 * time.Hour)
	for i, w := range p.windows {
		if w.multiplier > 0 && w.end.After(dayStart) {
			p.carried[i] = w
		} else {
			p.carried[i] = burstWindow{}
		}
	}
	// Every customer draws, churned or not, so one customer's churn
	// never shifts another's burst schedule.
	for _, c := range pool.Customers() {
		if rng.Float64() >= p.TriggerProbability {
			p.windows[c.Index] = burstWindow{}
			continue
		}
		startHour := rng.Intn(24)
		hours := p.MinHours + rng.Intn(p.MaxHours-p.MinHours+1)
		mult := p.MinMultiplier + rng.Float64()*(p.MaxMultiplier-p.MinMultiplier)
		start := dayStart.Add(time.Duration(startHour) * time.Hour)
		p.windows[c.Index] = burstWindow{start: start, end: start.Add(time.Duration(hours) * time.Hour), multiplier: mult}
	}
}

func (p *BurstPattern) Multiplier(clk sim.Clock, c *sim.Customer) float64 {
	if w, ok := p.active(clk, c); ok {
		return w.multiplier
	}
	return p.Baseline
}

// InBurst reports whether c has an active burst window at clk. A window
// started late in a day keeps running into the next one.
func (p *BurstPattern) InBurst(clk sim.Clock, c *sim.Customer) bool {
	_, ok := p.active(clk, c)
	return ok
}

func (p *BurstPattern) active(clk sim.Clock, c *sim.Customer) (burstWindow, bool) {
	if c.Index >= len(p.windows) {
		return burstWindow{}, false
	}
	now := clk.Now()
	for _, w := range []burstWindow{p.windows[c.Index], p.carried[c.Index]} {
		if w.multiplier > 0 && !now.Before(w.start) && now.Before(w.end) {
			return w, true
		}
	}
	return burstWindow{}, false
}

// === Multi-tenant ===

// MultiTenantPattern scales every customer of an organization by one
// organization-level multiplier drawn at Init. Base volume ignores archetype.
type MultiTenantPattern struct {
	MinMultiplier, MaxMultiplier float64
	Rate                         float64

	orgMultipliers map[string]float64
}

func buildMultiTenant(_ ScenarioSpec, p params, _ *pricing.Catalog) (Pattern, error) {
	if err := requireOrdered(p, "min_multiplier", "max_multiplier"); err != nil {
		return nil, err
	}
	return &MultiTenantPattern{
		MinMultiplier: p["min_multiplier"],
		MaxMultiplier: p["max_multiplier"],
		Rate:          p["base_rate"],
	}, nil
}

func (p *MultiTenantPattern) Name() string { return PatternMultiTenant }

func (p *MultiTenantPattern) Init(pool *sim.CustomerPool, rng *rand.Rand) {
	p.orgMultipliers = make(map[string]float64, len(pool.Organizations()))
	for _, org := range pool.Organizations() {
		p.orgMultipliers[org.ID] = p.MinMultiplier + rng.Float64()*(p.MaxMultiplier-p.MinMultiplier)
	}
}

func (p *MultiTenantPattern) Advance(sim.Clock, *sim.CustomerPool, *rand.Rand) {}

func (p *MultiTenantPattern) Multiplier(clk sim.Clock, c *sim.Customer) float64 {
	return p.orgMultipliers[c.OrganizationID] * DiurnalFactor(clk.Hour())
}

func (p *MultiTenantPattern) BaseRate(*sim.Customer) float64 { return p.Rate }

// OrgMultiplier returns the multiplier drawn for an organization.
func (p *MultiTenantPattern) OrgMultiplier(orgID string) float64 {
	return p.orgMultipliers[orgID]
}

// === Timezone ===

// TimezonePattern assigns customers round-robin to UTC-offset cohorts that
// are active during local business hours.
type TimezonePattern struct {
	stateless
	Offsets       []int
	BusinessStart int
	BusinessEnd   int
	OffHours      float64
}

// CoverageOffsets returns the UTC offsets of cohorts whose business windows
// [start, end) tile the whole UTC day, ascending. For 9-17 that is -8, 0, 8.
func CoverageOffsets(start, end int) []int {
	width := end - start
	n := (24 + width - 1) / width
	offsets := make([]int, n)
	for i := range offsets {
		offsets[i] = ((-i*width+12)%24+24)%24 - 12
	}
	sort.Ints(offsets)
	return offsets
}

func buildTimezone(s ScenarioSpec, p params, _ *pricing.Catalog) (Pattern, error) {
	if p["business_start"] >= p["business_end"] {
		return nil, fmt.Errorf("param %q must be below %q", "business_start", "business_end")
	}
	offsets := s.UTCOffsets
	if len(offsets) == 0 {
		offsets = CoverageOffsets(int(p["business_start"]), int(p["business_end"]))
	}
	for _, off := range offsets {
		if off < -12 || off > 14 {
			return nil, fmt.Errorf("utc offset %d out of range [-12, 14]", off)
		}
	}
	return &TimezonePattern{
		Offsets:       append([]int(nil), offsets...),
		BusinessStart: int(p["business_start"]),
		BusinessEnd:   int(p["business_end"]),
		OffHours:      p["off_hours"],
	}, nil
}

func (p *TimezonePattern) Name() string { return PatternTimezone }

// Offset is the UTC offset of c's cohort.
func (p *TimezonePattern) Offset(c *sim.Customer) int {
	return p.Offsets[c.Index%len(p.Offsets)]
}

func (p *TimezonePattern) Multiplier(clk sim.Clock, c *sim.Customer) float64 {
	local := ((clk.Hour()+p.Offset(c))%24 + 24) % 24
	if local >= p.BusinessStart && local < p.BusinessEnd {
		return 1
	}
	return p.OffHours
}

// Region maps the cohort offset to the nearest catalog region.
func (p *TimezonePattern) Region(c *sim.Customer) string {
	switch off := p.Offset(c); {
	case off <= -6:
		return "us-west-2"
	case off < -2:
		return "us-east-1"
	case off < 5:
		return "eu-west-1"
	default:
		return "ap-southeast-1"
	}
}

// === Feature launch ===

// FeatureLaunchPattern routes a logistic share of calls to a new feature.
type FeatureLaunchPattern struct {
	stateless
	Product      string
	Feature      string
	LaunchDay    float64
	MidpointDays float64 // days after launch at which half the plateau is reached
	Steepness    float64
	Plateau      float64
}

// Default launched feature.
const (
	DefaultLaunchProduct = "assistant"
	DefaultLaunchFeature = "agent-mode"
)

func buildFeatureLaunch(s ScenarioSpec, p params, _ *pricing.Catalog) (Pattern, error) {
	product, feature := s.Product, s.Feature
	if product == "" {
		product = DefaultLaunchProduct
	}
	if feature == "" {
		feature = DefaultLaunchFeature
	}
	if _, ok := sim.ProductByID(product); !ok {
		return nil, fmt.Errorf("unknown product %q", product)
	}
	return &FeatureLaunchPattern{
		Product:      product,
		Feature:      feature,
		LaunchDay:    p["launch_day"],
		MidpointDays: p["midpoint_days"],
		Steepness:    p["steepness"],
		Plateau:      p["plateau"],
	}, nil
}

func (p *FeatureLaunchPattern) Name() string { return PatternFeatureLaunch }

func (p *FeatureLaunchPattern) Multiplier(clk sim.Clock, _ *sim.Customer) float64 {
	return baseShape(clk, 0.6)
}

// Adoption is the share of calls routed to the launched feature at clk.
func (p *FeatureLaunchPattern) Adoption(clk sim.Clock) float64 {
	day := dayFraction(clk)
	if day < p.LaunchDay {
		return 0
	}
	return p.Plateau / (1 + math.Exp(-p.Steepness*(day-p.LaunchDay-p.MidpointDays)))
}

func (p *FeatureLaunchPattern) SelectFeature(clk sim.Clock, _ *sim.Customer, rng *rand.Rand) (string, string, bool) {
	share := p.Adoption(clk)
	// Always draw so the stream position does not depend on the launch phase.
	if rng.Float64() < share {
		return p.Product, p.Feature, true
	}
	return "", "", false
}

// === Gradual decline ===

// DeclinePattern decays volume per day and churns a share of the active
// customers at every day boundary after the first day.
type DeclinePattern struct {
	DailyDecay           float64
	ChurnRate            float64
	FactorMin, FactorMax float64

	factors []float64 // by customer index
}

func buildDecline(_ ScenarioSpec, p params, _ *pricing.Catalog) (Pattern, error) {
	if err := requireOrdered(p, "factor_min", "factor_max"); err != nil {
		return nil, err
	}
	return &DeclinePattern{
		DailyDecay: p["daily_decay"],
		ChurnRate:  p["churn_rate"],
		FactorMin:  p["factor_min"],
		FactorMax:  p["factor_max"],
	}, nil
}

func (p *DeclinePattern) Name() string { return PatternGradualDecline }

func (p *DeclinePattern) Init(pool *sim.CustomerPool, rng *rand.Rand) {
	p.factors = make([]float64, pool.Len())
	for _, c := range pool.Customers() {
		p.factors[c.Index] = p.FactorMin + rng.Float64()*(p.FactorMax-p.FactorMin)
	}
}

func (p *DeclinePattern) Advance(clk sim.Clock, pool *sim.CustomerPool, rng *rand.Rand) {
	if clk.Tick == 0 || !clk.IsDayStart() {
		return
	}
	for _, c := range pool.Active(clk.Tick) {
		if rng.Float64() < p.ChurnRate {
			pool.Churn(c, clk.Tick)
		}
	}
}

func (p *DeclinePattern) Multiplier(clk sim.Clock, c *sim.Customer) float64 {
	f := 1.0
	if c.Index < len(p.factors) {
		f = p.factors[c.Index]
	}
	return f * math.Pow(1-p.DailyDecay, float64(clk.Day()))
}

// === Viral spike ===

// ViralPattern is a baseline that spikes, decays exponentially and
// settles on an elevated plateau.
type ViralPattern struct {
	stateless
	SpikeStartDay float64
	SpikeDays     float64
	DecayDays     float64
	Spike         float64
	Plateau       float64
	Baseline      float64
}

func buildViral(_ ScenarioSpec, p params, _ *pricing.Catalog) (Pattern, error) {
	return &ViralPattern{
		SpikeStartDay: p["spike_start_day"],
		SpikeDays:     p["spike_days"],
		DecayDays:     p["decay_days"],
		Spike:         p["spike_multiplier"],
		Plateau:       p["plateau_multiplier"],
		Baseline:      p["baseline_multiplier"],
	}, nil
}

func (p *ViralPattern) Name() string { return PatternViralSpike }

// Phase returns the raw phase multiplier at clk, without diurnal shape.
func (p *ViralPattern) Phase(clk sim.Clock) float64 {
	day := dayFraction(clk)
	decayStart := p.SpikeStartDay + p.SpikeDays
	switch {
	case day < p.SpikeStartDay:
		return p.Baseline
	case day < decayStart:
		return p.Spike
	case day < decayStart+p.DecayDays:
		t := (day - decayStart) / p.DecayDays
		if p.Plateau <= 0 || p.Spike <= 0 {
			return p.Spike + (p.Plateau-p.Spike)*t
		}
		// geometric interpolation: exactly Spike at t=0 and Plateau at t=1
		return p.Spike * math.Pow(p.Plateau/p.Spike, t)
	default:
		return p.Plateau
	}
}

func (p *ViralPattern) Multiplier(clk sim.Clock, _ *sim.Customer) float64 {
	return p.Phase(clk) * DiurnalFactor(clk.Hour())
}
