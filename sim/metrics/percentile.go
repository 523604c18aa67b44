package metrics

import (
	"errors"
	"fmt"
	"sort"
)

// Sentinel errors returned by Percentile.
var (
	ErrEmpty           = errors.New("no values")
	ErrPercentileRange = errors.New("percentile out of range [0, 100]")
)

// Percentile returns the exact nearest-rank p-th percentile of values:
// values sorted ascending, index floor(p/100 * N) clamped to [0, N-1].
// The result depends only on the multiset of values. values is not modified.
func Percentile(values []float64, p float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmpty
	}
	if !(p >= 0 && p <= 100) {
		return 0, fmt.Errorf("%w: %v", ErrPercentileRange, p)
	}
	return nearestRank(sortedCopy(values), p), nil
}

// nearestRank expects sorted, non-empty input and p already range checked.
func nearestRank(sorted []float64, p float64) float64 {
	idx := int(p / 100 * float64(len(sorted)))
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

func sortedCopy(values []float64) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted
}

// Summary captures the statistical summary of one value set.
type Summary struct {
	Count int     `json:"count" yaml:"count"`
	Min   float64 `json:"min" yaml:"min"`
	Max   float64 `json:"max" yaml:"max"`
	Mean  float64 `json:"mean" yaml:"mean"`
	P50   float64 `json:"p50" yaml:"p50"`
	P90   float64 `json:"p90" yaml:"p90"`
	P95   float64 `json:"p95" yaml:"p95"`
	P99   float64 `json:"p99" yaml:"p99"`
}

// Summarize computes a Summary with nearest-rank percentiles.
// Returns ErrEmpty for empty input.
func Summarize(values []float64) (Summary, error) {
	if len(values) == 0 {
		return Summary{}, ErrEmpty
	}
	sorted := sortedCopy(values)
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return Summary{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / float64(len(sorted)),
		P50:   nearestRank(sorted, 50),
		P90:   nearestRank(sorted, 90),
		P95:   nearestRank(sorted, 95),
		P99:   nearestRank(sorted, 99),
	}, nil
}
