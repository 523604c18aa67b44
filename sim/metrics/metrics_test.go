package metrics

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/usagesim/sim"
	"github.com/inference-sim/usagesim/sim/pricing"
)

func event(t *testing.T, n int, org, product, customer, model string, in, out, latency int64) sim.Event {
	t.Helper()
	cat := pricing.DefaultCatalog()
	provider, ok := cat.ProviderOf(model)
	require.True(t, ok, model)
	features := map[string]string{"assistant": "chat", "codegen": "completion", "search": "rag-query"}
	e, err := sim.NewEvent(sim.Event{
		CallID:            fmt.Sprintf("call-%d", n),
		Timestamp:         sim.DefaultStart.Add(time.Duration(n) * time.Hour),
		CustomerID:        customer,
		OrganizationID:    org,
		ProductID:         product,
		FeatureID:         features[product],
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
		CustomerArchetype: sim.ArchetypeLight,
	}, cat)
	require.NoError(t, err)
	return e
}

func sampleEvents(t *testing.T) []sim.Event {
	return []sim.Event{
		event(t, 0, "org_001", "assistant", "cust_00001", "gpt-4o", 1000, 500, 800),
		event(t, 1, "org_001", "assistant", "cust_00002", "gpt-4o-mini", 2000, 100, 300),
		event(t, 2, "org_001", "codegen", "cust_00001", "claude-3-5-sonnet", 3000, 800, 1200),
		event(t, 30, "org_002", "search", "cust_00003", "gemini-1.5-flash", 500, 50, 200),
		event(t, 31, "org_002", "assistant", "cust_00003", "gpt-4o", 100, 100, 700),
	}
}

func TestPercentile_NearestRank(t *testing.T) {
	values := []float64{40, 10, 30, 20, 50}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 10},   // floor(0) = index 0
		{20, 20},  // floor(1.0) = 1
		{50, 30},  // floor(2.5) = 2
		{90, 50},  // floor(4.5) = 4
		{100, 50}, // clamped to N-1
	}
	for _, tc := range tests {
		got, err := Percentile(values, tc.p)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "p%v", tc.p)
	}
	assert.Equal(t, []float64{40, 10, 30, 20, 50}, values, "input is not reordered")
}

func TestPercentile_HundredIsMaxAndOrderIndependent(t *testing.T) {
	// GIVEN a random value set and a shuffled copy of it
	rng := rand.New(rand.NewSource(3))
	values := make([]float64, 1001)
	maxVal := 0.0
	for i := range values {
		values[i] = rng.Float64() * 1000
		if values[i] > maxVal {
			maxVal = values[i]
		}
	}
	shuffled := append([]float64(nil), values...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	// THEN p100 is the maximum and every percentile ignores ingestion order
	p100, err := Percentile(values, 100)
	require.NoError(t, err)
	assert.Equal(t, maxVal, p100)
	for _, p := range []float64{0, 1, 25, 50, 95, 99, 99.9, 100} {
		a, _ := Percentile(values, p)
		b, _ := Percentile(shuffled, p)
		assert.Equal(t, a, b, "p%v", p)
	}
}

func TestPercentile_Errors(t *testing.T) {
	_, err := Percentile(nil, 50)
	assert.ErrorIs(t, err, ErrEmpty)
	_, err = Percentile([]float64{1}, 101)
	assert.ErrorIs(t, err, ErrPercentileRange)
	_, err = Percentile([]float64{1}, -1)
	assert.ErrorIs(t, err, ErrPercentileRange)
	_, err = Summarize(nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestSummarize(t *testing.T) {
	s, err := Summarize([]float64{5, 1, 3})
	require.NoError(t, err)
	assert.Equal(t, Summary{Count: 3, Min: 1, Max: 5, Mean: 3, P50: 3, P90: 5, P95: 5, P99: 5}, s)
}

func TestParseGrouping(t *testing.T) {
	g, err := ParseGrouping("provider+model")
	require.NoError(t, err)
	assert.Equal(t, Grouping{DimProvider, DimModel}, g)
	assert.Equal(t, "provider+model", g.Name())

	for _, bad := range []string{"", "provider+colour", "model+model"} {
		_, err := ParseGrouping(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewAggregator_RejectsBadGroupingAndDedupes(t *testing.T) {
	_, err := NewAggregator(Grouping{"nope"})
	assert.Error(t, err)

	a, err := NewAggregator(Grouping{DimModel}, Grouping{DimModel})
	require.NoError(t, err)
	assert.Len(t, a.Tables(), 1)

	def, err := NewAggregator()
	require.NoError(t, err)
	assert.Len(t, def.Tables(), len(DefaultGroupings()))
}

func TestAggregator_EveryGroupingConservesTotals(t *testing.T) {
	// GIVEN the default groupings over a small stream
	a, err := NewAggregator()
	require.NoError(t, err)
	events := sampleEvents(t)
	var wantCost float64
	var wantTokens int64
	for _, e := range events {
		assert.True(t, a.Add(e))
		wantCost += e.CostUSD
		wantTokens += e.TotalTokens
	}

	// THEN each table partitions the stream: counts, tokens and cost sum to the totals
	assert.Equal(t, int64(len(events)), a.Total().Count)
	assert.Equal(t, wantTokens, a.Total().Tokens)
	for _, tbl := range a.Tables() {
		var count, tokens int64
		var cost float64
		var latencies int
		for _, g := range tbl.Groups() {
			count += g.Count
			tokens += g.Tokens
			cost += g.CostUSD
			latencies += len(g.Latencies())
		}
		assert.Equal(t, int64(len(events)), count, tbl.Grouping.Name())
		assert.Equal(t, wantTokens, tokens, tbl.Grouping.Name())
		assert.InDelta(t, wantCost, cost, 1e-12, tbl.Grouping.Name())
		assert.Equal(t, len(events), latencies, tbl.Grouping.Name())
	}

	first, last := a.Span()
	assert.Equal(t, events[0].Timestamp, first)
	assert.Equal(t, events[4].Timestamp, last)
}

func TestAggregator_GroupLookupAndLatency(t *testing.T) {
	a, err := NewAggregator(Grouping{DimProvider, DimModel}, Grouping{DimDay})
	require.NoError(t, err)
	for _, e := range sampleEvents(t) {
		a.Add(e)
	}

	tbl, ok := a.Table(Grouping{DimProvider, DimModel})
	require.True(t, ok)
	g, ok := tbl.Get("openai", "gpt-4o")
	require.True(t, ok)
	assert.Equal(t, int64(2), g.Count)
	assert.Equal(t, "openai/gpt-4o", g.Key())
	lat, err := g.Latency()
	require.NoError(t, err)
	assert.Equal(t, 800.0, lat.Max)

	days, _ := a.Table(Grouping{DimDay})
	require.Equal(t, 2, days.Len())
	assert.Equal(t, []string{"2025-01-01"}, days.Groups()[0].Values)
	assert.Equal(t, int64(3), days.Groups()[0].Count)

	_, ok = a.Table(Grouping{DimRegion})
	assert.False(t, ok)
}

func TestAggregator_CountsInvalidEventsAsRejected(t *testing.T) {
	a, err := NewAggregator(Grouping{DimModel})
	require.NoError(t, err)
	good := sampleEvents(t)[0]
	bad := good
	bad.TotalTokens = 1 // inconsistent derived field

	assert.True(t, a.Add(good))
	assert.False(t, a.Add(bad))
	a.Reject(3, "row 7: bad timestamp")

	assert.Equal(t, int64(1), a.Total().Count)
	assert.Equal(t, int64(4), a.Rejected())
	assert.Len(t, a.Reasons(), 2)
}

func TestAggregator_HierarchyRollsUpChildren(t *testing.T) {
	// GIVEN events from two organizations
	a, err := NewAggregator()
	require.NoError(t, err)
	for _, e := range sampleEvents(t) {
		a.Add(e)
	}

	// WHEN the hierarchy is built
	roots, err := a.Hierarchy()
	require.NoError(t, err)

	// THEN each level's totals equal the sum of its children
	require.Len(t, roots, 2)
	assert.Equal(t, "org_001", roots[0].Key)
	var orgCount int64
	for _, org := range roots {
		orgCount += org.Count
		var prodCount, prodTokens int64
		var prodCost float64
		for _, p := range org.Children {
			prodCount += p.Count
			prodTokens += p.Tokens
			prodCost += p.CostUSD
			var custCount int64
			for _, c := range p.Children {
				assert.Equal(t, DimCustomer, c.Dimension)
				custCount += c.Count
			}
			assert.Equal(t, p.Count, custCount)
		}
		assert.Equal(t, org.Count, prodCount)
		assert.Equal(t, org.Tokens, prodTokens)
		assert.InDelta(t, org.CostUSD, prodCost, 1e-12)
	}
	assert.Equal(t, a.Total().Count, orgCount)

	org1 := roots[0]
	require.Len(t, org1.Children, 2)
	assert.Equal(t, "assistant", org1.Children[0].Key)
	assert.Equal(t, int64(2), org1.Children[0].Count)
	assert.Len(t, org1.Children[0].Children, 2)
}

func TestAggregator_CrossTab(t *testing.T) {
	a, err := NewAggregator()
	require.NoError(t, err)
	for _, e := range sampleEvents(t) {
		a.Add(e)
	}
	ct, err := a.CrossTab()
	require.NoError(t, err)
	assert.Equal(t, []string{"org_001", "org_002"}, ct.Rows)
	assert.Equal(t, []string{"assistant", "codegen", "search"}, ct.Columns)
	assert.Equal(t, [][]int64{{2, 1, 0}, {1, 0, 1}}, ct.Count)
	assert.InDelta(t, a.Total().CostUSD, ct.RowTotals[0]+ct.RowTotals[1], 1e-12)
}

func TestAggregator_DerivationsNeedTheirGrouping(t *testing.T) {
	a, err := NewAggregator(Grouping{DimModel})
	require.NoError(t, err)
	_, err = a.Hierarchy()
	assert.Error(t, err)
	_, err = a.CrossTab()
	assert.Error(t, err)
}
