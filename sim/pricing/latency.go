package pricing

import (
	"fmt"
	"math"
	"math/rand"
)

// LatencyClass names a latency shape shared by models of similar speed.
type LatencyClass string

// Latency classes.
const (
	ClassFast     LatencyClass = "fast"
	ClassStandard LatencyClass = "standard"
	ClassSlow     LatencyClass = "slow"
)

// Jitter distributions.
const (
	JitterUniform  = "uniform"
	JitterGaussian = "gaussian"
)

// LatencyShape parameterizes latency for a class:
//
//	latency_ms = (BaseMs + PerTokenMs*total_tokens) * (1 + jitter)
//
// with jitter in [-JitterFraction, +JitterFraction].
type LatencyShape struct {
	BaseMs         float64 `yaml:"base_ms"`
	PerTokenMs     float64 `yaml:"per_token_ms"`
	JitterFraction float64 `yaml:"jitter_fraction"`
	Distribution   string  `yaml:"distribution"` // "uniform" or "gaussian"
}

// LatencyClasses is the built-in shape table.
var LatencyClasses = map[LatencyClass]LatencyShape{
	ClassFast:     {BaseMs: 180, PerTokenMs: 0.015, JitterFraction: 0.15, Distribution: JitterUniform},
	ClassStandard: {BaseMs: 400, PerTokenMs: 0.040, JitterFraction: 0.20, Distribution: JitterGaussian},
	ClassSlow:     {BaseMs: 1500, PerTokenMs: 0.120, JitterFraction: 0.25, Distribution: JitterGaussian},
}

func (s LatencyShape) validate() error {
	if err := validateFiniteNonNegative("base_ms", s.BaseMs); err != nil {
		return err
	}
	if err := validateFiniteNonNegative("per_token_ms", s.PerTokenMs); err != nil {
		return err
	}
	if s.JitterFraction < 0 || s.JitterFraction >= 1 {
		return fmt.Errorf("jitter_fraction must be in [0, 1), got %f", s.JitterFraction)
	}
	if s.Distribution != JitterUniform && s.Distribution != JitterGaussian {
		return fmt.Errorf("unknown jitter distribution %q; valid: uniform, gaussian", s.Distribution)
	}
	return nil
}

// Sample draws one latency in milliseconds for totalTokens. Always >= 1.
func (s LatencyShape) Sample(totalTokens int64, rng *rand.Rand) (int64, error) {
	if totalTokens < 0 {
		return 0, fmt.Errorf("%w: total=%d", ErrNegativeTokens, totalTokens)
	}
	var jitter float64
	switch s.Distribution {
	case JitterGaussian:
		// sigma = J/2 keeps ~95% of draws inside the bound before clamping
		jitter = rng.NormFloat64() * s.JitterFraction / 2
	default:
		jitter = (rng.Float64()*2 - 1) * s.JitterFraction
	}
	jitter = math.Max(-s.JitterFraction, math.Min(s.JitterFraction, jitter))
	ms := (s.BaseMs + s.PerTokenMs*float64(totalTokens)) * (1 + jitter)
	result := int64(math.Round(ms))
	if result < 1 {
		return 1, nil
	}
	return result, nil
}

// Bounds returns the smallest and largest latency Sample can return for
// totalTokens, before rounding.
func (s LatencyShape) Bounds(totalTokens int64) (lo, hi float64) {
	center := s.BaseMs + s.PerTokenMs*float64(totalTokens)
	return center * (1 - s.JitterFraction), center * (1 + s.JitterFraction)
}

// Latency draws a latency for a class of this catalog.
func (c *Catalog) Latency(class LatencyClass, totalTokens int64, rng *rand.Rand) (int64, error) {
	shape, ok := c.Classes[class]
	if !ok {
		return 0, fmt.Errorf("unknown latency class %q", class)
	}
	return shape.Sample(totalTokens, rng)
}

// ModelLatency draws a latency for a model using its declared class.
func (c *Catalog) ModelLatency(model string, totalTokens int64, rng *rand.Rand) (int64, error) {
	m, ok := c.models[model]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUnknownModel, model)
	}
	return c.Latency(m.Class, totalTokens, rng)
}
