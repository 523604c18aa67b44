// Package pricing holds the static provider/model catalog: per-token rates,
// latency shapes and quality scores. The catalog is read-only once built.
package pricing

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Sentinel errors returned by Cost and Latency.
var (
	ErrNegativeTokens = errors.New("negative token count")
	ErrUnknownModel   = errors.New("unknown model")
)

// ModelSpec is one model offered by a provider.
// Rates are quoted in USD per million tokens, the way providers publish them.
type ModelSpec struct {
	Name          string       `yaml:"name"`
	InputPerMTok  float64      `yaml:"input_per_mtok"`
	OutputPerMTok float64      `yaml:"output_per_mtok"`
	Class         LatencyClass `yaml:"latency_class"`
	Quality       float64      `yaml:"quality"` // 0..1, used by model-switching advice
	Weight        float64      `yaml:"weight"`  // selection weight within the provider
}

// InputRate is the USD cost of one input token.
func (m ModelSpec) InputRate() float64 { return m.InputPerMTok / 1e6 }

// OutputRate is the USD cost of one output token.
func (m ModelSpec) OutputRate() float64 { return m.OutputPerMTok / 1e6 }

// BlendedRate is the sum of input and output per-token rates; it orders
// models by price.
func (m ModelSpec) BlendedRate() float64 { return m.InputRate() + m.OutputRate() }

// ProviderSpec is one API vendor and its market share weight.
type ProviderSpec struct {
	Name         string      `yaml:"name"`
	MarketWeight float64     `yaml:"market_weight"`
	Models       []ModelSpec `yaml:"models"`
}

// Catalog maps provider -> models. Build with NewCatalog, DefaultCatalog or LoadCatalog.
type Catalog struct {
	Providers []ProviderSpec                `yaml:"providers"`
	Classes   map[LatencyClass]LatencyShape `yaml:"latency_classes,omitempty"`

	models   map[string]ModelSpec
	provider map[string]string // model -> provider
}

// WeightedModel is a (provider, model) pair with a selection weight.
type WeightedModel struct {
	Provider string
	Model    string
	Weight   float64
}

// Key is the "provider/model" identifier used in weight maps.
func (w WeightedModel) Key() string { return w.Provider + "/" + w.Model }

// NewCatalog validates providers and builds the model index.
// A nil classes map uses LatencyClasses.
func NewCatalog(providers []ProviderSpec, classes map[LatencyClass]LatencyShape) (*Catalog, error) {
	if classes == nil {
		classes = LatencyClasses
	}
	c := &Catalog{Providers: providers, Classes: classes}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.index()
	return c, nil
}

func (c *Catalog) index() {
	c.models = make(map[string]ModelSpec)
	c.provider = make(map[string]string)
	for _, p := range c.Providers {
		for _, m := range p.Models {
			c.models[m.Name] = m
			c.provider[m.Name] = p.Name
		}
	}
}

// Validate checks rates, weights, classes and name uniqueness.
func (c *Catalog) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("catalog has no providers")
	}
	for class, shape := range c.Classes {
		if err := shape.validate(); err != nil {
			return fmt.Errorf("latency class %q: %w", class, err)
		}
	}
	seenProviders := map[string]bool{}
	seenModels := map[string]bool{}
	for i, p := range c.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			return fmt.Errorf("%s: name is required", prefix)
		}
		if seenProviders[p.Name] {
			return fmt.Errorf("%s: duplicate provider %q", prefix, p.Name)
		}
		seenProviders[p.Name] = true
		if err := validateFiniteNonNegative(prefix+".market_weight", p.MarketWeight); err != nil {
			return err
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("%s: provider %q has no models", prefix, p.Name)
		}
		for j, m := range p.Models {
			mp := fmt.Sprintf("%s.models[%d]", prefix, j)
			if m.Name == "" {
				return fmt.Errorf("%s: name is required", mp)
			}
			if seenModels[m.Name] {
				return fmt.Errorf("%s: duplicate model %q", mp, m.Name)
			}
			seenModels[m.Name] = true
			if err := validateFiniteNonNegative(mp+".input_per_mtok", m.InputPerMTok); err != nil {
				return err
			}
			if err := validateFiniteNonNegative(mp+".output_per_mtok", m.OutputPerMTok); err != nil {
				return err
			}
			if err := validateFiniteNonNegative(mp+".weight", m.Weight); err != nil {
				return err
			}
			if m.Quality < 0 || m.Quality > 1 {
				return fmt.Errorf("%s.quality must be in [0, 1], got %f", mp, m.Quality)
			}
			if _, ok := c.Classes[m.Class]; !ok {
				return fmt.Errorf("%s: unknown latency_class %q", mp, m.Class)
			}
		}
	}
	return nil
}

// Model returns the spec of a model by name.
func (c *Catalog) Model(name string) (ModelSpec, bool) {
	m, ok := c.models[name]
	return m, ok
}

// ProviderOf returns the provider offering model.
func (c *Catalog) ProviderOf(model string) (string, bool) {
	p, ok := c.provider[model]
	return p, ok
}

// Cost prices one call: input_tokens*rate_in + output_tokens*rate_out.
// Negative counts are rejected, never clamped.
func (c *Catalog) Cost(model string, inputTokens, outputTokens int64) (float64, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return 0, fmt.Errorf("%w: input=%d output=%d", ErrNegativeTokens, inputTokens, outputTokens)
	}
	m, ok := c.models[model]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUnknownModel, model)
	}
	return float64(inputTokens)*m.InputRate() + float64(outputTokens)*m.OutputRate(), nil
}

// MarketWeights returns every (provider, model) with weight
// market_weight * model_weight / sum(model weights of the provider),
// in catalog order.
func (c *Catalog) MarketWeights() []WeightedModel {
	var out []WeightedModel
	for _, p := range c.Providers {
		total := 0.0
		for _, m := range p.Models {
			total += m.Weight
		}
		for _, m := range p.Models {
			w := 0.0
			if total > 0 {
				w = p.MarketWeight * m.Weight / total
			}
			out = append(out, WeightedModel{Provider: p.Name, Model: m.Name, Weight: w})
		}
	}
	return out
}

// ModelsByCost returns every (provider, model) ordered from cheapest to
// most expensive blended rate; ties break on model name. Weights are the
// market weights.
func (c *Catalog) ModelsByCost() []WeightedModel {
	out := c.MarketWeights()
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := c.models[out[i].Model].BlendedRate(), c.models[out[j].Model].BlendedRate()
		if ri != rj {
			return ri < rj
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// LoadCatalog reads and validates a YAML catalog.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	var raw Catalog
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	cat, err := NewCatalog(raw.Providers, raw.Classes)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	return cat, nil
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	cat, err := NewCatalog(defaultProviders(), nil)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return cat
}

func defaultProviders() []ProviderSpec {
	return []ProviderSpec{
		{Name: "openai", MarketWeight: 0.40, Models: []ModelSpec{
			{Name: "gpt-4o", InputPerMTok: 2.50, OutputPerMTok: 10.00, Class: ClassStandard, Quality: 0.92, Weight: 0.45},
			{Name: "gpt-4o-mini", InputPerMTok: 0.15, OutputPerMTok: 0.60, Class: ClassFast, Quality: 0.78, Weight: 0.45},
			{Name: "o1", InputPerMTok: 15.00, OutputPerMTok: 60.00, Class: ClassSlow, Quality: 0.97, Weight: 0.10},
		}},
		{Name: "anthropic", MarketWeight: 0.30, Models: []ModelSpec{
			{Name: "claude-3-5-sonnet", InputPerMTok: 3.00, OutputPerMTok: 15.00, Class: ClassStandard, Quality: 0.93, Weight: 0.55},
			{Name: "claude-3-5-haiku", InputPerMTok: 0.80, OutputPerMTok: 4.00, Class: ClassFast, Quality: 0.80, Weight: 0.35},
			{Name: "claude-3-opus", InputPerMTok: 15.00, OutputPerMTok: 75.00, Class: ClassSlow, Quality: 0.95, Weight: 0.10},
		}},
		{Name: "google", MarketWeight: 0.20, Models: []ModelSpec{
			{Name: "gemini-1.5-pro", InputPerMTok: 1.25, OutputPerMTok: 5.00, Class: ClassStandard, Quality: 0.88, Weight: 0.5},
			{Name: "gemini-1.5-flash", InputPerMTok: 0.075, OutputPerMTok: 0.30, Class: ClassFast, Quality: 0.75, Weight: 0.5},
		}},
		{Name: "mistral", MarketWeight: 0.10, Models: []ModelSpec{
			{Name: "mistral-large", InputPerMTok: 2.00, OutputPerMTok: 6.00, Class: ClassStandard, Quality: 0.85, Weight: 0.5},
			{Name: "mistral-small", InputPerMTok: 0.20, OutputPerMTok: 0.60, Class: ClassFast, Quality: 0.70, Weight: 0.5},
		}},
	}
}

func validateFiniteNonNegative(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, val)
	}
	if val < 0 {
		return fmt.Errorf("%s must be non-negative, got %f", name, val)
	}
	return nil
}
