package analysis

import (
	"fmt"
	"sort"

	"github.com/inference-sim/usagesim/sim"
	"github.com/inference-sim/usagesim/sim/metrics"
	"github.com/inference-sim/usagesim/sim/pricing"
)

// Advisor defaults. The reserved-capacity spend cutoffs apply to the
// observed window's spend per (provider, model).
const (
	DefaultReservedDiscount   = 0.30
	ReservedMinSpendUSD       = 10.0
	ReservedStrongSpendUSD    = 100.0
	DefaultCommitFraction     = 0.80
	DefaultCommitDiscount     = 0.15
	DefaultStabilityThreshold = 0.25
	DefaultLatencyCeilingMs   = 6000.0
	DefaultQualityFloor       = 0.75
	daysPerMonth              = 30
	daysPerYear               = 365
)

// DefaultQualityFloors is the minimum catalog quality a replacement model
// needs per task type. Task types not listed use DefaultQualityFloor.
var DefaultQualityFloors = map[string]float64{
	"conversation":       0.75,
	"summarization":      0.70,
	"code_generation":    0.85,
	"code_review":        0.85,
	"question_answering": 0.75,
	"ranking":            0.70,
	"classification":     0.70,
	"extraction":         0.70,
	"agentic":            0.90,
	sim.TaskTypeGeneral:  0.75,
}

// VolumeTier is one rung of a provider's volume discount ladder.
type VolumeTier struct {
	Name         string  `yaml:"name" json:"name"`
	MinAnnualUSD float64 `yaml:"min_annual_usd" json:"min_annual_usd"`
	Discount     float64 `yaml:"discount" json:"discount"`
}

// DefaultVolumeTiers is ordered by MinAnnualUSD.
var DefaultVolumeTiers = []VolumeTier{
	{Name: "Bronze", MinAnnualUSD: 1_000, Discount: 0.02},
	{Name: "Silver", MinAnnualUSD: 10_000, Discount: 0.05},
	{Name: "Gold", MinAnnualUSD: 50_000, Discount: 0.08},
	{Name: "Platinum", MinAnnualUSD: 250_000, Discount: 0.12},
}

// AdvisorConfig parameterizes the recommendations.
type AdvisorConfig struct {
	ReservedDiscount       float64            `yaml:"reserved_discount" json:"reserved_discount"`
	ReservedMinSpendUSD    float64            `yaml:"reserved_min_spend_usd" json:"reserved_min_spend_usd"`
	ReservedStrongSpendUSD float64            `yaml:"reserved_strong_spend_usd" json:"reserved_strong_spend_usd"`
	CommitFraction         float64            `yaml:"commit_fraction" json:"commit_fraction"`
	CommitDiscount         float64            `yaml:"commit_discount" json:"commit_discount"`
	StabilityThreshold     float64            `yaml:"stability_threshold" json:"stability_threshold"`
	LatencyCeilingMs       float64            `yaml:"latency_ceiling_ms" json:"latency_ceiling_ms"` // p95
	QualityFloors          map[string]float64 `yaml:"quality_floors" json:"quality_floors"`
	DefaultQualityFloor    float64            `yaml:"default_quality_floor" json:"default_quality_floor"`
	VolumeTiers            []VolumeTier       `yaml:"volume_tiers" json:"volume_tiers"`
}

// DefaultAdvisorConfig returns the default advisor configuration.
func DefaultAdvisorConfig() AdvisorConfig {
	floors := make(map[string]float64, len(DefaultQualityFloors))
	for k, v := range DefaultQualityFloors {
		floors[k] = v
	}
	return AdvisorConfig{
		ReservedDiscount:       DefaultReservedDiscount,
		ReservedMinSpendUSD:    ReservedMinSpendUSD,
		ReservedStrongSpendUSD: ReservedStrongSpendUSD,
		CommitFraction:         DefaultCommitFraction,
		CommitDiscount:         DefaultCommitDiscount,
		StabilityThreshold:     DefaultStabilityThreshold,
		LatencyCeilingMs:       DefaultLatencyCeilingMs,
		QualityFloors:          floors,
		DefaultQualityFloor:    DefaultQualityFloor,
		VolumeTiers:            append([]VolumeTier(nil), DefaultVolumeTiers...),
	}
}

// Validate checks fractions lie in [0, 1] and the ladder is ordered.
func (c AdvisorConfig) Validate() error {
	fractions := []struct {
		name string
		v    float64
	}{
		{"reserved_discount", c.ReservedDiscount},
		{"commit_fraction", c.CommitFraction},
		{"commit_discount", c.CommitDiscount},
		{"default_quality_floor", c.DefaultQualityFloor},
	}
	for _, f := range fractions {
		if !(f.v >= 0 && f.v <= 1) {
			return fmt.Errorf("advisor %s must be in [0, 1], got %v", f.name, f.v)
		}
	}
	if c.ReservedMinSpendUSD < 0 || c.ReservedStrongSpendUSD < c.ReservedMinSpendUSD {
		return fmt.Errorf("advisor reserved thresholds must satisfy 0 <= min (%v) <= strong (%v)",
			c.ReservedMinSpendUSD, c.ReservedStrongSpendUSD)
	}
	if c.StabilityThreshold < 0 || c.LatencyCeilingMs <= 0 {
		return fmt.Errorf("advisor stability_threshold must be >= 0 and latency_ceiling_ms > 0")
	}
	for i, t := range c.VolumeTiers {
		if t.Name == "" || !(t.Discount >= 0 && t.Discount <= 1) || t.MinAnnualUSD < 0 {
			return fmt.Errorf("advisor volume_tiers[%d]: invalid tier %+v", i, t)
		}
		if i > 0 && t.MinAnnualUSD <= c.VolumeTiers[i-1].MinAnnualUSD {
			return fmt.Errorf("advisor volume_tiers must be ordered by min_annual_usd")
		}
	}
	return nil
}

func (c AdvisorConfig) qualityFloor(taskType string) float64 {
	if f, ok := c.QualityFloors[taskType]; ok {
		return f
	}
	return c.DefaultQualityFloor
}

// Strength grades a reserved-capacity recommendation.
type Strength string

// Strengths.
const (
	StrengthStrong   Strength = "STRONG"
	StrengthConsider Strength = "CONSIDER"
)

// ReservedCapacity prices reserving one (provider, model) at a discount.
type ReservedCapacity struct {
	Provider        string   `json:"provider" yaml:"provider"`
	Model           string   `json:"model" yaml:"model"`
	CostUSD         float64  `json:"cost_usd" yaml:"cost_usd"`
	ReservedCostUSD float64  `json:"reserved_cost_usd" yaml:"reserved_cost_usd"`
	SavingsUSD      float64  `json:"savings_usd" yaml:"savings_usd"`
	Strength        Strength `json:"strength" yaml:"strength"`
}

// ReservedCapacityFor evaluates every group of a provider+model table whose
// spend reaches the minimum threshold.
func ReservedCapacityFor(byModel *metrics.Table, cfg AdvisorConfig) []ReservedCapacity {
	out := []ReservedCapacity{}
	for _, g := range byModel.Groups() {
		if g.CostUSD < cfg.ReservedMinSpendUSD || g.CostUSD <= 0 {
			continue
		}
		strength := StrengthConsider
		if g.CostUSD >= cfg.ReservedStrongSpendUSD {
			strength = StrengthStrong
		}
		out = append(out, ReservedCapacity{
			Provider:        g.Values[0],
			Model:           g.Values[1],
			CostUSD:         g.CostUSD,
			ReservedCostUSD: g.CostUSD * (1 - cfg.ReservedDiscount),
			SavingsUSD:      g.CostUSD * cfg.ReservedDiscount,
			Strength:        strength,
		})
	}
	return out
}

// ModelSwitch proposes a cheaper model for one task type.
type ModelSwitch struct {
	TaskType              string  `json:"task_type" yaml:"task_type"`
	CurrentModel          string  `json:"current_model" yaml:"current_model"`
	CandidateModel        string  `json:"candidate_model" yaml:"candidate_model"`
	CurrentCostPerCall    float64 `json:"current_cost_per_call_usd" yaml:"current_cost_per_call_usd"`
	CandidateCostPerCall  float64 `json:"candidate_cost_per_call_usd" yaml:"candidate_cost_per_call_usd"`
	CandidateQuality      float64 `json:"candidate_quality" yaml:"candidate_quality"`
	CandidateP95LatencyMs float64 `json:"candidate_p95_latency_ms" yaml:"candidate_p95_latency_ms"`
	Calls                 int64   `json:"calls" yaml:"calls"`
	SavingsUSD            float64 `json:"savings_usd" yaml:"savings_usd"`
}

// ModelSwitchesFor scans a task_type+model table. Per task type the current
// model is the highest-spend one; the candidate is the observed model with
// the lowest cost per call whose quality meets the task's floor and whose
// p95 latency is within the ceiling. Task types with no cheaper candidate
// are omitted.
func ModelSwitchesFor(byTask *metrics.Table, cat *pricing.Catalog, cfg AdvisorConfig) []ModelSwitch {
	perTask := map[string][]*metrics.Group{}
	var tasks []string
	for _, g := range byTask.Groups() {
		if _, seen := perTask[g.Values[0]]; !seen {
			tasks = append(tasks, g.Values[0])
		}
		perTask[g.Values[0]] = append(perTask[g.Values[0]], g)
	}

	out := []ModelSwitch{}
	for _, task := range tasks {
		groups := perTask[task]
		current := groups[0]
		for _, g := range groups[1:] {
			if g.CostUSD > current.CostUSD {
				current = g
			}
		}
		floor := cfg.qualityFloor(task)
		var best *metrics.Group
		var bestQuality, bestP95 float64
		for _, g := range groups {
			spec, ok := cat.Model(g.Values[1])
			if !ok || spec.Quality < floor || g.Count == 0 {
				continue
			}
			p95, err := metrics.Percentile(g.Latencies(), 95)
			if err != nil || p95 > cfg.LatencyCeilingMs {
				continue
			}
			if best == nil || g.CostPerCall() < best.CostPerCall() {
				best, bestQuality, bestP95 = g, spec.Quality, p95
			}
		}
		if best == nil || best == current || best.CostPerCall() >= current.CostPerCall() {
			continue
		}
		out = append(out, ModelSwitch{
			TaskType:              task,
			CurrentModel:          current.Values[1],
			CandidateModel:        best.Values[1],
			CurrentCostPerCall:    current.CostPerCall(),
			CandidateCostPerCall:  best.CostPerCall(),
			CandidateQuality:      bestQuality,
			CandidateP95LatencyMs: bestP95,
			Calls:                 current.Count,
			SavingsUSD:            (current.CostPerCall() - best.CostPerCall()) * float64(current.Count),
		})
	}
	return out
}

// Commitment is the spend-commitment verdict over daily spend.
type Commitment struct {
	Status                 Status  `json:"status" yaml:"status"`
	Days                   int     `json:"days" yaml:"days"`
	CoefficientOfVariation float64 `json:"coefficient_of_variation" yaml:"coefficient_of_variation"`
	MonthlySpendUSD        float64 `json:"monthly_spend_usd" yaml:"monthly_spend_usd"`
	CommitUSD              float64 `json:"commit_usd" yaml:"commit_usd"`
	MonthlySavingsUSD      float64 `json:"monthly_savings_usd" yaml:"monthly_savings_usd"`
}

// CommitmentFor recommends committing CommitFraction of the recent average
// monthly spend when daily spend is stable (CV below StabilityThreshold).
// Recent means the trailing 30 days.
func CommitmentFor(daily []float64, cfg AdvisorConfig) Commitment {
	c := Commitment{Days: len(daily)}
	m := mean(daily)
	if len(daily) < 2 || m <= 0 {
		c.Status = StatusInsufficientData
		return c
	}
	c.CoefficientOfVariation = stddev(daily) / m
	recent := daily
	if len(recent) > daysPerMonth {
		recent = recent[len(recent)-daysPerMonth:]
	}
	c.MonthlySpendUSD = mean(recent) * daysPerMonth
	if c.CoefficientOfVariation >= cfg.StabilityThreshold {
		c.Status = StatusNotRecommended
		return c
	}
	c.Status = StatusOK
	c.CommitUSD = c.MonthlySpendUSD * cfg.CommitFraction
	c.MonthlySavingsUSD = c.CommitUSD * cfg.CommitDiscount
	return c
}

// VolumeDiscount places one provider on the volume ladder.
type VolumeDiscount struct {
	Provider           string  `json:"provider" yaml:"provider"`
	AnnualizedUSD      float64 `json:"annualized_usd" yaml:"annualized_usd"`
	CurrentTier        string  `json:"current_tier,omitempty" yaml:"current_tier,omitempty"`
	RealizedSavingsUSD float64 `json:"realized_savings_usd" yaml:"realized_savings_usd"` // annual
	NextTier           string  `json:"next_tier,omitempty" yaml:"next_tier,omitempty"`
	SpendGapUSD        float64 `json:"spend_gap_usd" yaml:"spend_gap_usd"`
}

// VolumeLadderFor annualizes each provider's spend over historyDays and
// finds its tier. A provider below the first rung has no current tier.
func VolumeLadderFor(byProvider *metrics.Table, historyDays int, tiers []VolumeTier) []VolumeDiscount {
	out := []VolumeDiscount{}
	if historyDays <= 0 {
		return out
	}
	for _, g := range byProvider.Groups() {
		v := VolumeDiscount{Provider: g.Values[0], AnnualizedUSD: g.CostUSD * daysPerYear / float64(historyDays)}
		next := 0
		for i, t := range tiers {
			if v.AnnualizedUSD >= t.MinAnnualUSD {
				v.CurrentTier = t.Name
				v.RealizedSavingsUSD = v.AnnualizedUSD * t.Discount
				next = i + 1
			}
		}
		if next < len(tiers) {
			v.NextTier = tiers[next].Name
			v.SpendGapUSD = tiers[next].MinAnnualUSD - v.AnnualizedUSD
		}
		out = append(out, v)
	}
	return out
}

// RecommendationKind names the source of a recommendation.
type RecommendationKind string

// Recommendation kinds.
const (
	KindCommitment     RecommendationKind = "commitment"
	KindModelSwitch    RecommendationKind = "model_switch"
	KindReserved       RecommendationKind = "reserved_capacity"
	KindVolumeDiscount RecommendationKind = "volume_discount"
)

// Recommendation is one ranked line of advice.
type Recommendation struct {
	Rank       int                `json:"rank" yaml:"rank"`
	Kind       RecommendationKind `json:"kind" yaml:"kind"`
	Key        string             `json:"key" yaml:"key"`
	SavingsUSD float64            `json:"estimated_savings_usd" yaml:"estimated_savings_usd"`
	Period     string             `json:"period" yaml:"period"` // observed, monthly or annual
	Summary    string             `json:"summary" yaml:"summary"`
}

// Advice bundles every advisor output.
type Advice struct {
	Status          Status             `json:"status" yaml:"status"`
	Reserved        []ReservedCapacity `json:"reserved_capacity" yaml:"reserved_capacity"`
	ModelSwitches   []ModelSwitch      `json:"model_switches" yaml:"model_switches"`
	Commitment      Commitment         `json:"commitment" yaml:"commitment"`
	VolumeDiscounts []VolumeDiscount   `json:"volume_discounts" yaml:"volume_discounts"`
	Recommendations []Recommendation   `json:"recommendations" yaml:"recommendations"`
}

// Advise runs every advisor over an aggregation that registered the
// provider, provider+model and task_type+model groupings, given the daily
// spend series.
func Advise(a *metrics.Aggregator, daily []float64, cat *pricing.Catalog, cfg AdvisorConfig) (Advice, error) {
	if err := cfg.Validate(); err != nil {
		return Advice{}, err
	}
	byModel, err := table(a, metrics.Grouping{metrics.DimProvider, metrics.DimModel})
	if err != nil {
		return Advice{}, err
	}
	byTask, err := table(a, metrics.Grouping{metrics.DimTaskType, metrics.DimModel})
	if err != nil {
		return Advice{}, err
	}
	byProvider, err := table(a, metrics.Grouping{metrics.DimProvider})
	if err != nil {
		return Advice{}, err
	}

	adv := Advice{
		Reserved:        []ReservedCapacity{},
		ModelSwitches:   []ModelSwitch{},
		VolumeDiscounts: []VolumeDiscount{},
		Recommendations: []Recommendation{},
	}
	if a.Total().Count == 0 {
		adv.Status = StatusInsufficientData
		adv.Commitment = Commitment{Status: StatusInsufficientData}
		return adv, nil
	}
	adv.Status = StatusOK
	adv.Reserved = ReservedCapacityFor(byModel, cfg)
	adv.ModelSwitches = ModelSwitchesFor(byTask, cat, cfg)
	adv.Commitment = CommitmentFor(daily, cfg)
	adv.VolumeDiscounts = VolumeLadderFor(byProvider, len(daily), cfg.VolumeTiers)
	adv.Recommendations = Rank(adv)
	return adv, nil
}

// Rank flattens the advice into recommendations ordered by estimated
// savings, descending; ties break on kind, then key.
func Rank(adv Advice) []Recommendation {
	out := []Recommendation{}
	for _, r := range adv.Reserved {
		out = append(out, Recommendation{
			Kind: KindReserved, Key: r.Provider + "/" + r.Model, SavingsUSD: r.SavingsUSD, Period: "observed",
			Summary: fmt.Sprintf("%s: reserve %s/%s capacity, $%.2f -> $%.2f", r.Strength, r.Provider, r.Model, r.CostUSD, r.ReservedCostUSD),
		})
	}
	for _, s := range adv.ModelSwitches {
		out = append(out, Recommendation{
			Kind: KindModelSwitch, Key: s.TaskType, SavingsUSD: s.SavingsUSD, Period: "observed",
			Summary: fmt.Sprintf("switch %s from %s to %s ($%.6f -> $%.6f per call)",
				s.TaskType, s.CurrentModel, s.CandidateModel, s.CurrentCostPerCall, s.CandidateCostPerCall),
		})
	}
	if c := adv.Commitment; c.Status == StatusOK {
		out = append(out, Recommendation{
			Kind: KindCommitment, Key: "spend", SavingsUSD: c.MonthlySavingsUSD, Period: "monthly",
			Summary: fmt.Sprintf("commit $%.2f/month (CV %.3f)", c.CommitUSD, c.CoefficientOfVariation),
		})
	}
	for _, v := range adv.VolumeDiscounts {
		if v.CurrentTier == "" {
			continue
		}
		summary := fmt.Sprintf("%s is at %s", v.Provider, v.CurrentTier)
		if v.NextTier != "" {
			summary += fmt.Sprintf("; $%.2f/year more reaches %s", v.SpendGapUSD, v.NextTier)
		}
		out = append(out, Recommendation{
			Kind: KindVolumeDiscount, Key: v.Provider, SavingsUSD: v.RealizedSavingsUSD, Period: "annual", Summary: summary,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SavingsUSD != out[j].SavingsUSD {
			return out[i].SavingsUSD > out[j].SavingsUSD
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Key < out[j].Key
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func table(a *metrics.Aggregator, g metrics.Grouping) (*metrics.Table, error) {
	t, ok := a.Table(g)
	if !ok {
		return nil, fmt.Errorf("analysis needs grouping %q", g.Name())
	}
	return t, nil
}
