package testutil

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTB captures failures instead of failing the enclosing test.
type recordingTB struct {
	testing.TB
	errors []string
	fatal  bool
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func (r *recordingTB) Fatalf(format string, args ...interface{}) {
	r.fatal = true
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestGoldenDataset_BaseBaselineIsCheckedIn(t *testing.T) {
	dataset := LoadGoldenDataset(t)
	b, ok := dataset.Find("base_100c_30d_seed42")
	require.True(t, ok, "testdata/golden_baselines.json must carry the base baseline")
	assert.Equal(t, "base", b.Pattern)
	assert.Greater(t, b.Records, int64(0))
	assert.Greater(t, b.TotalCostUSD, 0.0)
}

func TestCompareBaseline_ReportsDrift(t *testing.T) {
	want := GoldenBaseline{Name: "x", Pattern: "base", Seed: 1, Customers: 2, Days: 3,
		Records: 10, TotalTokens: 100, TotalCostUSD: 1.5}

	same := &recordingTB{TB: t}
	CompareBaseline(same, want, want)
	assert.Empty(t, same.errors)

	drift := want
	drift.Records = 11
	drift.TotalCostUSD = 1.6
	rec := &recordingTB{TB: t}
	CompareBaseline(rec, want, drift)
	assert.Len(t, rec.errors, 2)
	assert.False(t, rec.fatal)

	other := want
	other.Seed = 2
	rec = &recordingTB{TB: t}
	CompareBaseline(rec, want, other)
	assert.True(t, rec.fatal)
}
