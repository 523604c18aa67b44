package traffic

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
)

// MaxTokensPerCall caps any sampled token length.
const MaxTokensPerCall = 128_000

// DistSpec parameterizes a token length distribution.
type DistSpec struct {
	Type   string             `yaml:"type"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

// TokenSampler generates token count samples.
type TokenSampler interface {
	// Sample returns a token count in [1, MaxTokensPerCall].
	Sample(rng *rand.Rand) int64
}

// GaussianSampler produces clamped Gaussian token lengths.
type GaussianSampler struct {
	mean, stdDev float64
	min, max     int64
}

func (s *GaussianSampler) Sample(rng *rand.Rand) int64 {
	if s.min == s.max {
		return clampTokens(float64(s.min))
	}
	val := rng.NormFloat64()*s.stdDev + s.mean
	return clampTokens(math.Min(float64(s.max), math.Max(float64(s.min), val)))
}

// ExponentialSampler produces exponentially-distributed token lengths.
type ExponentialSampler struct {
	mean float64
}

func (s *ExponentialSampler) Sample(rng *rand.Rand) int64 {
	return clampTokens(rng.ExpFloat64() * s.mean)
}

// ParetoLogNormalSampler is a mixture of Pareto and LogNormal distributions.
// With probability mixWeight, draw from Pareto(alpha, xm); otherwise LogNormal(mu, sigma).
// Heavy users' long prompts live in the Pareto tail.
type ParetoLogNormalSampler struct {
	alpha     float64 // Pareto shape
	xm        float64 // Pareto scale (minimum)
	mu        float64 // LogNormal mean of ln(X)
	sigma     float64 // LogNormal std dev of ln(X)
	mixWeight float64 // Probability of drawing from Pareto
}

func (s *ParetoLogNormalSampler) Sample(rng *rand.Rand) int64 {
	var val float64
	if rng.Float64() < s.mixWeight {
		u := rng.Float64()
		if u == 0 {
			u = math.SmallestNonzeroFloat64 // prevent division by zero → +Inf
		}
		val = s.xm / math.Pow(u, 1.0/s.alpha)
	} else {
		val = math.Exp(s.mu + s.sigma*rng.NormFloat64())
	}
	return clampTokens(val)
}

// EmpiricalSampler draws token lengths from a histogram by inverse CDF.
type EmpiricalSampler struct {
	values []int64   // ascending token counts
	cdf    []float64 // cumulative probability per value, last entry 1
}

// NewEmpiricalSampler builds a sampler from token count -> weight bins.
// Weights are normalized; bins with zero weight are dropped.
func NewEmpiricalSampler(pdf map[int64]float64) (*EmpiricalSampler, error) {
	keys := make([]int64, 0, len(pdf))
	total := 0.0
	for k, w := range pdf {
		if k < 1 {
			return nil, fmt.Errorf("empirical bin %d must be a positive token count", k)
		}
		if w < 0 {
			return nil, fmt.Errorf("empirical bin %d has negative weight %f", k, w)
		}
		keys = append(keys, k)
		total += w
	}
	if total <= 0 {
		return nil, fmt.Errorf("empirical distribution has no weighted bins")
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	s := &EmpiricalSampler{}
	cumulative := 0.0
	for _, k := range keys {
		if pdf[k] == 0 {
			continue
		}
		cumulative += pdf[k] / total
		s.values = append(s.values, k)
		s.cdf = append(s.cdf, cumulative)
	}
	s.cdf[len(s.cdf)-1] = 1
	return s, nil
}

func (s *EmpiricalSampler) Sample(rng *rand.Rand) int64 {
	if len(s.values) == 1 {
		return clampTokens(float64(s.values[0]))
	}
	idx := sort.SearchFloat64s(s.cdf, rng.Float64())
	if idx >= len(s.values) {
		idx = len(s.values) - 1
	}
	return clampTokens(float64(s.values[idx]))
}

// ConstantSampler always returns the same fixed value.
type ConstantSampler struct {
	value int64
}

func (s *ConstantSampler) Sample(_ *rand.Rand) int64 {
	return clampTokens(float64(s.value))
}

func clampTokens(val float64) int64 {
	if math.IsInf(val, 0) || math.IsNaN(val) {
		return 1
	}
	result := int64(math.Round(val))
	if result < 1 {
		return 1
	}
	if result > MaxTokensPerCall {
		return MaxTokensPerCall
	}
	return result
}

// requireParam checks that all required keys exist in a params map.
func requireParam(params map[string]float64, keys ...string) error {
	for _, k := range keys {
		if _, ok := params[k]; !ok {
			return fmt.Errorf("distribution requires parameter %q", k)
		}
	}
	return nil
}

// NewTokenSampler creates a TokenSampler from a DistSpec.
func NewTokenSampler(spec DistSpec) (TokenSampler, error) {
	for name, val := range spec.Params {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, fmt.Errorf("distribution parameter %q must be finite, got %f", name, val)
		}
	}
	switch spec.Type {
	case "gaussian":
		if err := requireParam(spec.Params, "mean", "std_dev", "min", "max"); err != nil {
			return nil, err
		}
		if spec.Params["min"] > spec.Params["max"] {
			return nil, fmt.Errorf("gaussian min %f exceeds max %f", spec.Params["min"], spec.Params["max"])
		}
		return &GaussianSampler{
			mean:   spec.Params["mean"],
			stdDev: spec.Params["std_dev"],
			min:    int64(spec.Params["min"]),
			max:    int64(spec.Params["max"]),
		}, nil

	case "exponential":
		if err := requireParam(spec.Params, "mean"); err != nil {
			return nil, err
		}
		return &ExponentialSampler{mean: spec.Params["mean"]}, nil

	case "pareto_lognormal":
		if err := requireParam(spec.Params, "alpha", "xm", "mu", "sigma", "mix_weight"); err != nil {
			return nil, err
		}
		if spec.Params["alpha"] <= 0 {
			return nil, fmt.Errorf("pareto alpha must be positive, got %f", spec.Params["alpha"])
		}
		return &ParetoLogNormalSampler{
			alpha:     spec.Params["alpha"],
			xm:        spec.Params["xm"],
			mu:        spec.Params["mu"],
			sigma:     spec.Params["sigma"],
			mixWeight: spec.Params["mix_weight"],
		}, nil

	case "constant":
		if err := requireParam(spec.Params, "value"); err != nil {
			return nil, err
		}
		return &ConstantSampler{value: int64(spec.Params["value"])}, nil

	case "empirical":
		// params are token count -> weight bins
		pdf := make(map[int64]float64, len(spec.Params))
		for k, w := range spec.Params {
			n, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("empirical bin %q is not an integer token count", k)
			}
			pdf[n] = w
		}
		return NewEmpiricalSampler(pdf)

	default:
		return nil, fmt.Errorf("unknown distribution type %q", spec.Type)
	}
}
