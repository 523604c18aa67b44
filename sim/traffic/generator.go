package traffic

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/usagesim/sim"
	"github.com/inference-sim/usagesim/sim/pricing"
)

// poissonNormalCutoff is the mean above which Poisson draws switch from
// Knuth's method to a clamped normal approximation.
const poissonNormalCutoff = 30.0

type lengthSamplers struct {
	input, output TokenSampler
	callsPerHour  float64
}

// Generator couples one Pattern with the catalog and a dedicated RNG stream.
// It never holds the clock or the pool; both are passed on every call.
// Not safe for concurrent use; distinct generators may Emit concurrently
// as long as nothing mutates the pool at the same time.
type Generator struct {
	Scenario string
	Index    int

	pattern     Pattern
	cat         *pricing.Catalog
	rng         *rand.Rand
	samplers    map[sim.Archetype]lengthSamplers
	market      []pricing.WeightedModel
	errorRate   float64
	timeoutRate float64
}

// NewGenerator builds a generator for the idx-th scenario. profiles may be
// nil for DefaultProfiles.
func NewGenerator(idx int, scenario string, pattern Pattern, cat *pricing.Catalog, rng *rand.Rand, profiles map[sim.Archetype]ArchetypeProfile) (*Generator, error) {
	if pattern == nil || cat == nil || rng == nil {
		return nil, fmt.Errorf("scenario %q: pattern, catalog and rng are required", scenario)
	}
	if profiles == nil {
		profiles = DefaultProfiles
	}
	samplers := make(map[sim.Archetype]lengthSamplers, len(sim.Archetypes))
	for _, arch := range sim.Archetypes {
		prof, ok := profiles[arch]
		if !ok {
			return nil, fmt.Errorf("scenario %q: no profile for archetype %q", scenario, arch)
		}
		in, err := NewTokenSampler(prof.Input)
		if err != nil {
			return nil, fmt.Errorf("scenario %q archetype %q input distribution: %w", scenario, arch, err)
		}
		out, err := NewTokenSampler(prof.Output)
		if err != nil {
			return nil, fmt.Errorf("scenario %q archetype %q output distribution: %w", scenario, arch, err)
		}
		samplers[arch] = lengthSamplers{input: in, output: out, callsPerHour: prof.CallsPerHour}
	}
	return &Generator{
		Scenario:    scenario,
		Index:       idx,
		pattern:     pattern,
		cat:         cat,
		rng:         rng,
		samplers:    samplers,
		market:      cat.MarketWeights(),
		errorRate:   DefaultErrorRate,
		timeoutRate: DefaultTimeoutRate,
	}, nil
}

// Pattern returns the strategy driving this generator.
func (g *Generator) Pattern() Pattern { return g.pattern }

// Init prepares pattern state against the pool. Call once before tick 0.
func (g *Generator) Init(pool *sim.CustomerPool) {
	g.pattern.Init(pool, g.rng)
}

// Advance applies tick-boundary state changes. Must run sequentially
// across generators: it may mutate the pool.
func (g *Generator) Advance(clk sim.Clock, pool *sim.CustomerPool) {
	before := pool.ActiveCount(clk.Tick)
	g.pattern.Advance(clk, pool, g.rng)
	if after := pool.ActiveCount(clk.Tick); after != before {
		logrus.Debugf("[tick %07d] scenario %s: active customers %d -> %d", clk.Tick, g.Scenario, before, after)
	}
}

// GenerateTick is Advance followed by Emit.
func (g *Generator) GenerateTick(clk sim.Clock, pool *sim.CustomerPool) ([]sim.Event, error) {
	g.Advance(clk, pool)
	return g.Emit(clk, pool)
}

// Emit produces the events of one tick ordered by timestamp. Ties keep
// draw order. It only reads the pool.
func (g *Generator) Emit(clk sim.Clock, pool *sim.CustomerPool) ([]sim.Event, error) {
	models := g.market
	if mw, ok := g.pattern.(ModelWeigher); ok {
		models = mw.ModelWeights(clk)
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("scenario %q: no models to select from", g.Scenario)
	}
	weights := weightsOf(models)

	tickHours := clk.TickLength.Hours()
	tickSeconds := int64(clk.TickLength / time.Second)
	if tickSeconds < 1 {
		tickSeconds = 1
	}

	var events []sim.Event
	for _, c := range pool.Customers() {
		if !c.IsActiveAt(clk.Tick) {
			continue
		}
		smp := g.samplers[c.Archetype]
		rate := smp.callsPerHour
		if br, ok := g.pattern.(BaseRater); ok {
			rate = br.BaseRate(c)
		}
		lambda := rate * tickHours * clampMultiplier(g.pattern.Multiplier(clk, c))
		n := poissonCount(g.rng, lambda)
		for i := 0; i < n; i++ {
			ev, err := g.drawCall(clk, pool, c, smp, models, weights, tickSeconds)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

// drawCall draws one call. The draw order is fixed: offset, model,
// product/feature, token lengths, status, latency, environment, region, id.
func (g *Generator) drawCall(clk sim.Clock, pool *sim.CustomerPool, c *sim.Customer, smp lengthSamplers,
	models []pricing.WeightedModel, weights []float64, tickSeconds int64) (sim.Event, error) {
	ts := clk.Now().Add(time.Duration(g.rng.Int63n(tickSeconds)) * time.Second)
	wm := models[sim.PickWeighted(g.rng, weights)]
	product, feature := g.pickFeature(clk, pool, c)

	in := smp.input.Sample(g.rng)
	out := smp.output.Sample(g.rng)

	status := sim.StatusSuccess
	switch u := g.rng.Float64(); {
	case u < g.errorRate:
		status = sim.StatusError
	case u < g.errorRate+g.timeoutRate:
		status = sim.StatusTimeout
	}
	if status != sim.StatusSuccess {
		out = 0
	}

	var latency int64 = TimeoutLatencyMs
	if status != sim.StatusTimeout {
		var err error
		if latency, err = g.cat.ModelLatency(wm.Model, in+out, g.rng); err != nil {
			return sim.Event{}, fmt.Errorf("scenario %q: %w", g.Scenario, err)
		}
	}

	env := sim.Environments[sim.PickWeighted(g.rng, sim.EnvironmentWeights)]
	var region string
	if rs, ok := g.pattern.(RegionSelector); ok {
		region = rs.Region(c)
	} else {
		region = sim.Regions[sim.PickWeighted(g.rng, sim.RegionWeights)]
	}

	id, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		return sim.Event{}, fmt.Errorf("scenario %q: call id: %w", g.Scenario, err)
	}

	return sim.NewEvent(sim.Event{
		CallID:            id.String(),
		Timestamp:         ts,
		CustomerID:        c.ID,
		OrganizationID:    c.OrganizationID,
		ProductID:         product,
		FeatureID:         feature,
		Provider:          wm.Provider,
		Model:             wm.Model,
		InputTokens:       in,
		OutputTokens:      out,
		LatencyMs:         latency,
		Status:            status,
		Environment:       env,
		Region:            region,
		SubscriptionTier:  c.Tier.Name,
		TierPriceUSD:      c.Tier.PriceUSD,
		CustomerArchetype: c.Archetype,
	}, g.cat)
}

// pickFeature asks the pattern first, then falls back to a uniform draw
// over the organization's licensed products and the product's features.
func (g *Generator) pickFeature(clk sim.Clock, pool *sim.CustomerPool, c *sim.Customer) (string, string) {
	if fs, ok := g.pattern.(FeatureSelector); ok {
		if product, feature, ok := fs.SelectFeature(clk, c, g.rng); ok {
			return product, feature
		}
	}
	productIDs := []string{sim.Products[0].ID}
	if org, ok := pool.Organization(c.OrganizationID); ok && len(org.Products) > 0 {
		productIDs = org.Products
	}
	product, _ := sim.ProductByID(productIDs[g.rng.Intn(len(productIDs))])
	return product.ID, product.Features[g.rng.Intn(len(product.Features))]
}

// poissonCount draws a Poisson(lambda) count.
func poissonCount(rng *rand.Rand, lambda float64) int {
	if lambda <= 0 || math.IsNaN(lambda) {
		return 0
	}
	if lambda > poissonNormalCutoff {
		n := math.Round(lambda + math.Sqrt(lambda)*rng.NormFloat64())
		if n < 0 {
			return 0
		}
		return int(n)
	}
	// Knuth: multiply uniforms until the product drops below e^-lambda.
	limit := math.Exp(-lambda)
	k := 0
	p := rng.Float64()
	for p > limit {
		k++
		p *= rng.Float64()
	}
	return k
}
