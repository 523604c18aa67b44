package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/usagesim/sim"
	"github.com/inference-sim/usagesim/sim/metrics"
	"github.com/inference-sim/usagesim/sim/pricing"
)

func buckets(costs ...float64) []Bucket {
	out := make([]Bucket, len(costs))
	for i, c := range costs {
		out[i] = Bucket{Key: fmt.Sprintf("d%02d", i), CostUSD: c}
	}
	return out
}

func TestDetectAnomalies_LeaveOneOutBands(t *testing.T) {
	// GIVEN four flat days and one day per band; each baseline is the mean of the other buckets
	tests := []struct {
		name    string
		cost    float64
		want    Severity
		dir     Direction
		flagged bool
	}{
		{"quiet", 103, "", "", false},
		{"low spike", 108, SeverityLow, DirectionSpike, true},
		{"medium spike", 115, SeverityMedium, DirectionSpike, true},
		{"medium at high cutoff", 120, SeverityMedium, DirectionSpike, true},
		{"high spike", 150, SeverityHigh, DirectionSpike, true},
		{"high drop", 50, SeverityHigh, DirectionDrop, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := DetectAnomalies(buckets(100, 100, 100, 100, tc.cost), DefaultAnomalyConfig())
			require.NoError(t, err)
			assert.Equal(t, StatusOK, res.Status)

			var last *Anomaly
			for i := range res.Anomalies {
				if res.Anomalies[i].Bucket == "d04" {
					last = &res.Anomalies[i]
				}
			}
			if !tc.flagged {
				assert.Nil(t, last)
				return
			}
			require.NotNil(t, last)
			assert.Equal(t, 100.0, last.BaselineUSD)
			assert.InDelta(t, (tc.cost-100)/100, last.Deviation, 1e-12)
			assert.Equal(t, tc.want, last.Severity)
			assert.Equal(t, tc.dir, last.Direction)
		})
	}
}

func TestDetectAnomalies_DegenerateInput(t *testing.T) {
	res, err := DetectAnomalies(buckets(42), DefaultAnomalyConfig())
	require.NoError(t, err)
	assert.Equal(t, StatusInsufficientData, res.Status)

	res, err = DetectAnomalies(nil, DefaultAnomalyConfig())
	require.NoError(t, err)
	assert.Equal(t, StatusInsufficientData, res.Status)

	// zero baselines are skipped
	res, err = DetectAnomalies(buckets(0, 0, 10), DefaultAnomalyConfig())
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 2)
	for _, a := range res.Anomalies {
		assert.Equal(t, DirectionDrop, a.Direction)
	}

	_, err = DetectAnomalies(buckets(1, 2), AnomalyConfig{MinDeviation: 0.3, MediumThreshold: 0.1, HighThreshold: 0.2})
	assert.Error(t, err)
}

func TestForecastSpend_FlatHistory(t *testing.T) {
	f, err := ForecastSpend([]float64{10, 10, 10, 10}, DefaultForecastConfig())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, f.Status)
	assert.Equal(t, 10.0, f.DailyAverageUSD)
	assert.Equal(t, 300.0, f.LinearUSD)
	assert.Equal(t, 0.0, f.GrowthRatePerDay)
	assert.InDelta(t, 300.0, f.GrowthAdjustedUSD, 1e-9)
	assert.Len(t, f.Daily, DefaultHorizonDays)
	assert.Equal(t, 4, f.WindowDays)
}

func TestForecastSpend_GrowthUsesTrailingWindow(t *testing.T) {
	// GIVEN 10 flat days followed by a trailing window rising by 1/day
	var daily []float64
	for i := 0; i < 10; i++ {
		daily = append(daily, 5)
	}
	for i := 0; i < 4; i++ {
		daily = append(daily, float64(10+i))
	}
	cfg := ForecastConfig{HorizonDays: 2, WindowDays: 4}

	// WHEN forecasting two days
	f, err := ForecastSpend(daily, cfg)
	require.NoError(t, err)

	// THEN g = slope / window mean = 1 / 11.5, compounded over the horizon
	g := 1 / 11.5
	assert.InDelta(t, g, f.GrowthRatePerDay, 1e-12)
	assert.InDelta(t, 11.5*((1+g)+(1+g)*(1+g)), f.GrowthAdjustedUSD, 1e-9)
	assert.InDelta(t, mean(daily)*2, f.LinearUSD, 1e-12)
	assert.InDelta(t, 11.5*(1+g), f.Daily[0].GrowthAdjustedUSD, 1e-9)
}

func TestForecastSpend_DeclineIsValidAndFloored(t *testing.T) {
	f, err := ForecastSpend([]float64{40, 30, 20, 10}, DefaultForecastConfig())
	require.NoError(t, err)
	assert.Less(t, f.GrowthRatePerDay, 0.0)
	assert.InDelta(t, -10.0/25.0, f.GrowthRatePerDay, 1e-12)
	assert.Less(t, f.GrowthAdjustedUSD, f.LinearUSD)

	f, err = ForecastSpend([]float64{1000, 0}, DefaultForecastConfig())
	require.NoError(t, err)
	assert.Equal(t, -1.0, f.GrowthRatePerDay)
	assert.Equal(t, 0.0, f.GrowthAdjustedUSD)
}

func TestForecastSpend_InsufficientData(t *testing.T) {
	for _, daily := range [][]float64{nil, {12.5}} {
		f, err := ForecastSpend(daily, DefaultForecastConfig())
		require.NoError(t, err)
		assert.Equal(t, StatusInsufficientData, f.Status)
		assert.Empty(t, f.Daily)
	}
	_, err := ForecastSpend([]float64{1, 2}, ForecastConfig{HorizonDays: 0, WindowDays: 14})
	assert.Error(t, err)
}

func TestCommitmentFor(t *testing.T) {
	cfg := DefaultAdvisorConfig()

	stable := CommitmentFor([]float64{100, 102, 98, 100}, cfg)
	assert.Equal(t, StatusOK, stable.Status)
	assert.InDelta(t, 3000.0, stable.MonthlySpendUSD, 1e-9)
	assert.InDelta(t, 2400.0, stable.CommitUSD, 1e-9)
	assert.InDelta(t, 360.0, stable.MonthlySavingsUSD, 1e-9)

	volatile := CommitmentFor([]float64{10, 200, 5, 300}, cfg)
	assert.Equal(t, StatusNotRecommended, volatile.Status)
	assert.Greater(t, volatile.CoefficientOfVariation, cfg.StabilityThreshold)
	assert.Zero(t, volatile.CommitUSD)

	assert.Equal(t, StatusInsufficientData, CommitmentFor([]float64{5}, cfg).Status)
	assert.Equal(t, StatusInsufficientData, CommitmentFor([]float64{0, 0}, cfg).Status)
}

// stream builds events with a fixed cost mix over several days.
type stream struct {
	t   *testing.T
	cat *pricing.Catalog
	agg *metrics.Aggregator
	n   int
}

func newStream(t *testing.T) *stream {
	a, err := metrics.NewAggregator()
	require.NoError(t, err)
	return &stream{t: t, cat: pricing.DefaultCatalog(), agg: a}
}

func (s *stream) add(day int, model, feature string, in, out, latency int64, times int) {
	s.t.Helper()
	provider, ok := s.cat.ProviderOf(model)
	require.True(s.t, ok)
	for i := 0; i < times; i++ {
		s.n++
		e, err := sim.NewEvent(sim.Event{
			CallID:            fmt.Sprintf("c%d", s.n),
			Timestamp:         sim.DefaultStart.AddDate(0, 0, day).Add(time.Duration(i) * time.Second),
			CustomerID:        "cust_00001",
			OrganizationID:    "org_001",
			ProductID:         "assistant",
			FeatureID:         feature,
			Provider:          provider,
			Model:             model,
			InputTokens:       in,
			OutputTokens:      out,
			LatencyMs:         latency,
			Status:            sim.StatusSuccess,
			Environment:       "production",
			Region:            "us-east-1",
			SubscriptionTier:  "pro",
			TierPriceUSD:      99,
			CustomerArchetype: sim.ArchetypePower,
		}, s.cat)
		require.NoError(s.t, err)
		require.True(s.t, s.agg.Add(e))
	}
}

func TestReservedCapacityFor_SavingsAreExactDiscount(t *testing.T) {
	// GIVEN heavy o1 spend, mid gpt-4o spend and negligible mini spend
	s := newStream(t)
	s.add(0, "o1", "chat", 100_000, 50_000, 900, 40)      // $4.5 per call
	s.add(0, "gpt-4o", "chat", 100_000, 100_000, 500, 12) // $1.25 per call
	s.add(0, "gpt-4o-mini", "chat", 100, 100, 200, 5)
	tbl, ok := s.agg.Table(metrics.Grouping{metrics.DimProvider, metrics.DimModel})
	require.True(t, ok)

	// WHEN evaluating reserved capacity
	got := ReservedCapacityFor(tbl, DefaultAdvisorConfig())

	// THEN only spend above the minimum qualifies, with savings exactly cost * 0.30
	require.Len(t, got, 2)
	byModel := map[string]ReservedCapacity{}
	for _, r := range got {
		byModel[r.Model] = r
		g, _ := tbl.Get(r.Provider, r.Model)
		assert.Equal(t, g.CostUSD*0.30, r.SavingsUSD)
		assert.Equal(t, g.CostUSD*(1-0.30), r.ReservedCostUSD)
	}
	assert.Equal(t, StrengthStrong, byModel["o1"].Strength)
	assert.Equal(t, StrengthConsider, byModel["gpt-4o"].Strength)
}

func TestModelSwitchesFor_RespectsQualityAndLatency(t *testing.T) {
	// GIVEN chat traffic on expensive o1, plus cheaper observed alternatives
	s := newStream(t)
	s.add(0, "o1", "chat", 10_000, 1_000, 3000, 20)
	s.add(0, "gpt-4o", "chat", 10_000, 1_000, 800, 5)
	s.add(0, "mistral-small", "chat", 10_000, 1_000, 300, 5)     // below the 0.75 floor
	s.add(0, "claude-3-5-haiku", "chat", 10_000, 1_000, 9000, 5) // over the latency ceiling
	s.add(0, "gpt-4o-mini", "completion", 1_000, 100, 100, 3)    // only model for its task
	tbl, ok := s.agg.Table(metrics.Grouping{metrics.DimTaskType, metrics.DimModel})
	require.True(t, ok)

	// WHEN looking for switches
	got := ModelSwitchesFor(tbl, s.cat, DefaultAdvisorConfig())

	// THEN conversation moves to gpt-4o, the cheapest model meeting both floors
	require.Len(t, got, 1)
	sw := got[0]
	assert.Equal(t, "conversation", sw.TaskType)
	assert.Equal(t, "o1", sw.CurrentModel)
	assert.Equal(t, "gpt-4o", sw.CandidateModel)
	assert.Equal(t, int64(20), sw.Calls)
	assert.InDelta(t, (sw.CurrentCostPerCall-sw.CandidateCostPerCall)*20, sw.SavingsUSD, 1e-12)
	assert.Equal(t, 800.0, sw.CandidateP95LatencyMs)
}

func TestVolumeLadderFor(t *testing.T) {
	s := newStream(t)
	s.add(0, "o1", "chat", 100_000, 50_000, 900, 40) // $180 over 1 day
	s.add(0, "mistral-small", "chat", 100, 100, 100, 1)
	tbl, _ := s.agg.Table(metrics.Grouping{metrics.DimProvider})

	got := VolumeLadderFor(tbl, 1, DefaultVolumeTiers)

	require.Len(t, got, 2)
	mistral, openai := got[0], got[1]
	assert.Equal(t, "mistral", mistral.Provider)
	assert.Empty(t, mistral.CurrentTier)
	assert.Equal(t, "Bronze", mistral.NextTier)

	assert.InDelta(t, 180.0*365, openai.AnnualizedUSD, 1e-6)
	assert.Equal(t, "Gold", openai.CurrentTier)
	assert.InDelta(t, openai.AnnualizedUSD*0.08, openai.RealizedSavingsUSD, 1e-6)
	assert.Equal(t, "Platinum", openai.NextTier)
	assert.InDelta(t, 250_000-openai.AnnualizedUSD, openai.SpendGapUSD, 1e-6)
}

func TestRank_OrdersBySavingsThenKindThenKey(t *testing.T) {
	adv := Advice{
		Reserved: []ReservedCapacity{
			{Provider: "openai", Model: "o1", SavingsUSD: 50},
			{Provider: "anthropic", Model: "claude-3-opus", SavingsUSD: 10},
		},
		ModelSwitches: []ModelSwitch{{TaskType: "conversation", SavingsUSD: 10}},
		Commitment:    Commitment{Status: StatusOK, MonthlySavingsUSD: 80},
		VolumeDiscounts: []VolumeDiscount{
			{Provider: "google"},
			{Provider: "openai", CurrentTier: "Bronze", RealizedSavingsUSD: 10},
		},
	}
	got := Rank(adv)
	var keys []string
	for i, r := range got {
		assert.Equal(t, i+1, r.Rank)
		keys = append(keys, string(r.Kind)+":"+r.Key)
	}
	assert.Equal(t, []string{
		"commitment:spend",
		"reserved_capacity:openai/o1",
		"model_switch:conversation",
		"reserved_capacity:anthropic/claude-3-opus",
		"volume_discount:openai",
	}, keys)
}

func TestAnalyze_EndToEnd(t *testing.T) {
	// GIVEN three days of spend with a spike on day 1 and an empty day 2
	s := newStream(t)
	s.add(0, "gpt-4o", "chat", 10_000, 1_000, 500, 10)
	s.add(1, "gpt-4o", "chat", 10_000, 1_000, 500, 30)
	s.add(3, "gpt-4o", "chat", 10_000, 1_000, 500, 10)
	s.agg.Reject(2, "bad row")

	// WHEN the report is assembled
	r, err := Analyze(s.agg, s.cat, DefaultConfig())
	require.NoError(t, err)

	// THEN gaps are zero-filled and every section is populated
	require.Len(t, r.DailySpend, 4)
	assert.Equal(t, 0.0, r.DailySpend[2].CostUSD)
	assert.Equal(t, 4, r.Period.Days)
	assert.Equal(t, int64(50), r.Totals.Count)
	assert.Equal(t, int64(2), r.Rejected)
	assert.Equal(t, int64(30), r.Dimensions["day"]["2025-01-02"].Count)
	assert.Equal(t, int64(50), r.Dimensions["provider+model"]["openai/gpt-4o"].Count)
	assert.NotNil(t, r.Dimensions["model"]["gpt-4o"].LatencyMs)
	assert.Len(t, r.Hierarchy, 1)
	assert.NotNil(t, r.CrossTab)
	assert.Equal(t, StatusOK, r.Anomalies.Status)
	assert.NotEmpty(t, r.Anomalies.Anomalies)
	assert.Equal(t, StatusOK, r.Forecast.Status)
	assert.Equal(t, StatusOK, r.Advice.Status)

	// AND it encodes to both formats
	var js bytes.Buffer
	require.NoError(t, r.Encode(&js, FormatJSON))
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Contains(t, decoded, "advice")
	assert.Contains(t, decoded["totals"], "cost_usd")

	var ys bytes.Buffer
	require.NoError(t, r.Encode(&ys, FormatYAML))
	var ydecoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(ys.Bytes(), &ydecoded))
	assert.Contains(t, ydecoded, "forecast")

	assert.Error(t, r.Encode(&js, "xml"))
}

func TestAnalyze_EmptyAggregationIsInsufficientData(t *testing.T) {
	a, err := metrics.NewAggregator()
	require.NoError(t, err)
	r, err := Analyze(a, pricing.DefaultCatalog(), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, StatusInsufficientData, r.Anomalies.Status)
	assert.Equal(t, StatusInsufficientData, r.Forecast.Status)
	assert.Equal(t, StatusInsufficientData, r.Advice.Status)
	assert.Empty(t, r.Advice.Recommendations)
}

func TestAnalyze_NeedsDayGrouping(t *testing.T) {
	a, err := metrics.NewAggregator(metrics.Grouping{metrics.DimModel})
	require.NoError(t, err)
	_, err = Analyze(a, pricing.DefaultCatalog(), DefaultConfig())
	assert.Error(t, err)
}

func TestLoadConfig_StrictOverDefaults(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("anomaly:\n  min_deviation: 0.02\n  medium_threshold: 0.1\n  high_threshold: 0.3\n"), 0o644))
	cfg, err := LoadConfig(good)
	require.NoError(t, err)
	assert.Equal(t, 0.3, cfg.Anomaly.HighThreshold)
	assert.Equal(t, DefaultHorizonDays, cfg.Forecast.HorizonDays)
	assert.Equal(t, DefaultReservedDiscount, cfg.Advisor.ReservedDiscount)

	typo := filepath.Join(dir, "typo.yaml")
	require.NoError(t, os.WriteFile(typo, []byte("forecast:\n  horizon: 7\n"), 0o644))
	_, err = LoadConfig(typo)
	assert.Error(t, err)
}
