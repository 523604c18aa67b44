// Package testutil provides shared test infrastructure for the usage
// simulator: the regression baseline file and float assertion helpers used
// across sim/ sub-package tests.
package testutil

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
)

// UpdateGoldenEnv, when set to a non-empty value, captures baselines instead
// of asserting against them. Without it a missing baseline fails the test.
const UpdateGoldenEnv = "USAGESIM_UPDATE_GOLDEN"

// GoldenDataset represents the structure of testdata/golden_baselines.json.
type GoldenDataset struct {
	Baselines []GoldenBaseline `json:"baselines"`
}

// GoldenBaseline is the captured outcome of one fixed end-to-end run.
type GoldenBaseline struct {
	Name      string `json:"name"`
	Pattern   string `json:"pattern"`
	Seed      int64  `json:"seed"`
	Customers int    `json:"customers"`
	Days      int    `json:"days"`

	// Exact match
	Records     int64 `json:"records"`
	TotalTokens int64 `json:"total_tokens"`

	// Deterministic floating point (summation order is fixed by the merge)
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// goldenPath resolves testdata/golden_baselines.json at the repo root,
// relative to this source file: sim/internal/testutil/ → testdata/.
func goldenPath(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", "golden_baselines.json")
}

// LoadGoldenDataset loads the baseline file. A missing file is an empty
// dataset; CheckGoldenBaseline then fails unless UpdateGoldenEnv is set.
func LoadGoldenDataset(t *testing.T) *GoldenDataset {
	t.Helper()
	data, err := os.ReadFile(goldenPath(t))
	if os.IsNotExist(err) {
		return &GoldenDataset{}
	}
	if err != nil {
		t.Fatalf("Failed to read golden dataset: %v", err)
	}
	var dataset GoldenDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		t.Fatalf("Failed to parse golden dataset: %v", err)
	}
	return &dataset
}

// CheckGoldenBaseline asserts got against the stored baseline of the same
// name. With UpdateGoldenEnv set the baseline is captured from got instead.
func CheckGoldenBaseline(t *testing.T, got GoldenBaseline) {
	t.Helper()
	dataset := LoadGoldenDataset(t)
	if os.Getenv(UpdateGoldenEnv) != "" {
		writeBaseline(t, dataset, got)
		return
	}
	want, ok := dataset.Find(got.Name)
	if !ok {
		t.Fatalf("no baseline %q in %s; rerun with %s=1 to capture it", got.Name, goldenPath(t), UpdateGoldenEnv)
	}
	CompareBaseline(t, want, got)
}

// Find returns the baseline with the given name.
func (d *GoldenDataset) Find(name string) (GoldenBaseline, bool) {
	for _, b := range d.Baselines {
		if b.Name == name {
			return b, true
		}
	}
	return GoldenBaseline{}, false
}

// CompareBaseline reports every field of got that differs from want.
func CompareBaseline(t testing.TB, want, got GoldenBaseline) {
	t.Helper()
	if want.Pattern != got.Pattern || want.Seed != got.Seed || want.Customers != got.Customers || want.Days != got.Days {
		t.Fatalf("baseline %q was captured for a different configuration: %+v", got.Name, want)
	}
	if got.Records != want.Records {
		t.Errorf("%s records: got %d, want %d", got.Name, got.Records, want.Records)
	}
	if got.TotalTokens != want.TotalTokens {
		t.Errorf("%s total_tokens: got %d, want %d", got.Name, got.TotalTokens, want.TotalTokens)
	}
	AssertFloat64Equal(t, got.Name+" total_cost_usd", want.TotalCostUSD, got.TotalCostUSD, 1e-9)
}

func writeBaseline(t *testing.T, dataset *GoldenDataset, got GoldenBaseline) {
	t.Helper()
	kept := dataset.Baselines[:0]
	for _, b := range dataset.Baselines {
		if b.Name != got.Name {
			kept = append(kept, b)
		}
	}
	dataset.Baselines = append(kept, got)
	sort.Slice(dataset.Baselines, func(i, j int) bool { return dataset.Baselines[i].Name < dataset.Baselines[j].Name })

	data, err := json.MarshalIndent(dataset, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal golden dataset: %v", err)
	}
	path := goldenPath(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create testdata dir: %v", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		t.Fatalf("Failed to write golden dataset: %v", err)
	}
	t.Logf("captured baseline %q: %d records, %d tokens, $%.6f", got.Name, got.Records, got.TotalTokens, got.TotalCostUSD)
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t testing.TB, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
