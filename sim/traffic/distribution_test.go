package traffic

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaussianSampler_StaysInBounds(t *testing.T) {
	s, err := NewTokenSampler(DistSpec{Type: "gaussian", Params: map[string]float64{"mean": 100, "std_dev": 80, "min": 20, "max": 150}})
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		v := s.Sample(rng)
		assert.GreaterOrEqual(t, v, int64(20))
		assert.LessOrEqual(t, v, int64(150))
	}
}

func TestExponentialSampler_MeanConverges(t *testing.T) {
	s, err := NewTokenSampler(DistSpec{Type: "exponential", Params: map[string]float64{"mean": 500}})
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(7))
	const n = 50000
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += float64(s.Sample(rng))
	}
	assert.InEpsilon(t, 500.0, sum/n, 0.03)
}

func TestParetoLogNormalSampler_PositiveAndCapped(t *testing.T) {
	s, err := NewTokenSampler(DefaultProfiles["heavy"].Input)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 5000; i++ {
		v := s.Sample(rng)
		assert.GreaterOrEqual(t, v, int64(1))
		assert.LessOrEqual(t, v, int64(MaxTokensPerCall))
	}
}

func TestConstantSampler_ReturnsValue(t *testing.T) {
	s, err := NewTokenSampler(DistSpec{Type: "constant", Params: map[string]float64{"value": 64}})
	require.NoError(t, err)
	assert.Equal(t, int64(64), s.Sample(nil))
}

func TestNewTokenSampler_Rejects(t *testing.T) {
	tests := []struct {
		name string
		spec DistSpec
	}{
		{"unknown type", DistSpec{Type: "zipf"}},
		{"missing param", DistSpec{Type: "exponential"}},
		{"non-finite param", DistSpec{Type: "exponential", Params: map[string]float64{"mean": math.NaN()}}},
		{"gaussian min above max", DistSpec{Type: "gaussian", Params: map[string]float64{"mean": 1, "std_dev": 1, "min": 10, "max": 5}}},
		{"empirical without bins", DistSpec{Type: "empirical"}},
		{"empirical non-integer bin", DistSpec{Type: "empirical", Params: map[string]float64{"short": 1}}},
		{"empirical zero token bin", DistSpec{Type: "empirical", Params: map[string]float64{"0": 1}}},
		{"empirical negative weight", DistSpec{Type: "empirical", Params: map[string]float64{"10": -1, "20": 2}}},
		{"empirical all zero weights", DistSpec{Type: "empirical", Params: map[string]float64{"10": 0}}},
		{"pareto non-positive alpha", DistSpec{Type: "pareto_lognormal", Params: map[string]float64{
			"alpha": 0, "xm": 1, "mu": 1, "sigma": 1, "mix_weight": 0.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTokenSampler(tt.spec)
			assert.Error(t, err)
		})
	}
}

func TestEmpiricalSampler_FollowsBinWeights(t *testing.T) {
	// GIVEN bins weighted 1:3 with an ignored zero-weight bin (weights need not sum to 1)
	s, err := NewTokenSampler(DistSpec{Type: "empirical", Params: map[string]float64{"100": 1, "400": 3, "900": 0}})
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(11))

	// WHEN many lengths are drawn
	const n = 40000
	counts := map[int64]int{}
	for i := 0; i < n; i++ {
		counts[s.Sample(rng)]++
	}

	// THEN only weighted bins appear, in proportion
	assert.Len(t, counts, 2)
	assert.Zero(t, counts[900])
	assert.InDelta(t, 0.75, float64(counts[400])/n, 0.02)
}

func TestEmpiricalSampler_SingleBin(t *testing.T) {
	s, err := NewTokenSampler(DistSpec{Type: "empirical", Params: map[string]float64{"256": 0.2}})
	require.NoError(t, err)
	assert.Equal(t, int64(256), s.Sample(rand.New(rand.NewSource(1))))
}

func TestClampTokens(t *testing.T) {
	assert.Equal(t, int64(1), clampTokens(math.Inf(1)))
	assert.Equal(t, int64(1), clampTokens(math.NaN()))
	assert.Equal(t, int64(1), clampTokens(-40))
	assert.Equal(t, int64(MaxTokensPerCall), clampTokens(1e9))
	assert.Equal(t, int64(12), clampTokens(11.6))
}

func TestDefaultProfiles_AllArchetypesBuild(t *testing.T) {
	for arch, prof := range DefaultProfiles {
		_, err := NewTokenSampler(prof.Input)
		assert.NoError(t, err, "archetype %s input", arch)
		_, err = NewTokenSampler(prof.Output)
		assert.NoError(t, err, "archetype %s output", arch)
		assert.Greater(t, prof.CallsPerHour, 0.0)
	}
}
