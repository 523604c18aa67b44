package traffic

import (
	"fmt"
	"sort"
	"strings"

	"github.com/inference-sim/usagesim/sim"
	"github.com/inference-sim/usagesim/sim/pricing"
)

// WeightShiftPattern interpolates provider/model selection weights from a
// source distribution to a target distribution over the horizon. It backs
// both the model-migration and the cost-optimization patterns.
type WeightShiftPattern struct {
	stateless
	name   string
	Shift  float64 // fraction of the target reached at the end of the horizon
	keys   []pricing.WeightedModel
	source []float64
	target []float64
}

func (p *WeightShiftPattern) Name() string { return p.name }

// Multiplier keeps the base traffic shape; this pattern only moves model mix.
func (p *WeightShiftPattern) Multiplier(clk sim.Clock, _ *sim.Customer) float64 {
	return baseShape(clk, 0.6)
}

// ModelWeights returns the interpolated weights at clk in a fixed key order.
func (p *WeightShiftPattern) ModelWeights(clk sim.Clock) []pricing.WeightedModel {
	t := p.Shift * clk.Progress()
	out := make([]pricing.WeightedModel, len(p.keys))
	for i, k := range p.keys {
		k.Weight = (1-t)*p.source[i] + t*p.target[i]
		out[i] = k
	}
	return out
}

func buildMigration(s ScenarioSpec, p params, cat *pricing.Catalog) (Pattern, error) {
	if len(s.Target) == 0 {
		return nil, fmt.Errorf("model-migration requires target weights")
	}
	market := cat.MarketWeights()
	keys := market
	source := weightsOf(market)
	if len(s.Source) > 0 {
		var err error
		if keys, source, err = resolveWeights(s.Source, cat); err != nil {
			return nil, fmt.Errorf("source: %w", err)
		}
	}
	tkeys, tweights, err := resolveWeights(s.Target, cat)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	keys, source, target := unionWeights(keys, source, tkeys, tweights)
	return &WeightShiftPattern{
		name:   PatternModelMigration,
		Shift:  p["shift"],
		keys:   keys,
		source: normalize(source),
		target: normalize(target),
	}, nil
}

func buildCostOptimization(_ ScenarioSpec, p params, cat *pricing.Catalog) (Pattern, error) {
	market := cat.MarketWeights()
	target := make([]float64, len(market))
	for i, wm := range market {
		m, _ := cat.Model(wm.Model)
		if rate := m.BlendedRate(); rate > 0 {
			target[i] = 1 / rate
		}
	}
	return &WeightShiftPattern{
		name:   PatternCostOptimization,
		Shift:  p["shift"],
		keys:   market,
		source: normalize(weightsOf(market)),
		target: normalize(target),
	}, nil
}

// resolveWeights turns a "provider/model" -> weight map into catalog
// entries sorted by key.
func resolveWeights(given map[string]float64, cat *pricing.Catalog) ([]pricing.WeightedModel, []float64, error) {
	names := make([]string, 0, len(given))
	for k := range given {
		names = append(names, k)
	}
	sort.Strings(names)

	keys := make([]pricing.WeightedModel, 0, len(names))
	weights := make([]float64, 0, len(names))
	total := 0.0
	for _, key := range names {
		provider, model, ok := strings.Cut(key, "/")
		if !ok {
			return nil, nil, fmt.Errorf("weight key %q must be provider/model", key)
		}
		if owner, found := cat.ProviderOf(model); !found || owner != provider {
			return nil, nil, fmt.Errorf("%w %q", pricing.ErrUnknownModel, key)
		}
		w := given[key]
		if w < 0 {
			return nil, nil, fmt.Errorf("weight for %q must be non-negative, got %g", key, w)
		}
		total += w
		keys = append(keys, pricing.WeightedModel{Provider: provider, Model: model})
		weights = append(weights, w)
	}
	if total <= 0 {
		return nil, nil, fmt.Errorf("weights must sum to a positive value")
	}
	return keys, weights, nil
}

// unionWeights aligns two weighted key sets on the union of their keys,
// first-set order first.
func unionWeights(ak []pricing.WeightedModel, aw []float64, bk []pricing.WeightedModel, bw []float64) ([]pricing.WeightedModel, []float64, []float64) {
	index := make(map[string]int, len(ak)+len(bk))
	keys := make([]pricing.WeightedModel, 0, len(ak)+len(bk))
	for _, k := range ak {
		index[k.Key()] = len(keys)
		keys = append(keys, pricing.WeightedModel{Provider: k.Provider, Model: k.Model})
	}
	for _, k := range bk {
		if _, ok := index[k.Key()]; !ok {
			index[k.Key()] = len(keys)
			keys = append(keys, pricing.WeightedModel{Provider: k.Provider, Model: k.Model})
		}
	}
	a := make([]float64, len(keys))
	b := make([]float64, len(keys))
	for i, k := range ak {
		a[index[k.Key()]] = aw[i]
	}
	for i, k := range bk {
		b[index[k.Key()]] = bw[i]
	}
	return keys, a, b
}

func weightsOf(wm []pricing.WeightedModel) []float64 {
	out := make([]float64, len(wm))
	for i, w := range wm {
		out[i] = w.Weight
	}
	return out
}

func normalize(w []float64) []float64 {
	total := 0.0
	for _, v := range w {
		total += v
	}
	out := make([]float64, len(w))
	if total <= 0 {
		return out
	}
	for i, v := range w {
		out[i] = v / total
	}
	return out
}
