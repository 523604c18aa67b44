package analysis

import (
	"fmt"
	"math"
)

// Default anomaly severity bands, as fractions of the baseline.
const (
	DefaultMinDeviation    = 0.05
	DefaultMediumThreshold = 0.10
	DefaultHighThreshold   = 0.20
)

// Severity grades a reported anomaly.
type Severity string

// Severities.
const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Direction says whether a bucket is above or below its baseline.
type Direction string

// Directions.
const (
	DirectionSpike Direction = "spike"
	DirectionDrop  Direction = "drop"
)

// AnomalyConfig holds the severity bands. |deviation| below MinDeviation is
// not reported, below MediumThreshold is LOW, up to HighThreshold is MEDIUM,
// above it HIGH.
type AnomalyConfig struct {
	MinDeviation    float64 `yaml:"min_deviation" json:"min_deviation"`
	MediumThreshold float64 `yaml:"medium_threshold" json:"medium_threshold"`
	HighThreshold   float64 `yaml:"high_threshold" json:"high_threshold"`
}

// DefaultAnomalyConfig returns the default bands.
func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		MinDeviation:    DefaultMinDeviation,
		MediumThreshold: DefaultMediumThreshold,
		HighThreshold:   DefaultHighThreshold,
	}
}

// Validate requires 0 <= MinDeviation <= MediumThreshold <= HighThreshold.
func (c AnomalyConfig) Validate() error {
	for name, v := range map[string]float64{
		"min_deviation": c.MinDeviation, "medium_threshold": c.MediumThreshold, "high_threshold": c.HighThreshold,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("anomaly %s must be a finite non-negative fraction, got %v", name, v)
		}
	}
	if c.MinDeviation > c.MediumThreshold || c.MediumThreshold > c.HighThreshold {
		return fmt.Errorf("anomaly bands must be ordered min <= medium <= high, got %v, %v, %v",
			c.MinDeviation, c.MediumThreshold, c.HighThreshold)
	}
	return nil
}

func (c AnomalyConfig) severity(absDev float64) (Severity, bool) {
	switch {
	case absDev < c.MinDeviation:
		return "", false
	case absDev < c.MediumThreshold:
		return SeverityLow, true
	case absDev <= c.HighThreshold:
		return SeverityMedium, true
	default:
		return SeverityHigh, true
	}
}

// Bucket is one time bucket's spend.
type Bucket struct {
	Key     string  `json:"key" yaml:"key"`
	CostUSD float64 `json:"cost_usd" yaml:"cost_usd"`
}

// Anomaly is a bucket deviating from the mean of all other buckets.
type Anomaly struct {
	Bucket      string    `json:"bucket" yaml:"bucket"`
	CostUSD     float64   `json:"cost_usd" yaml:"cost_usd"`
	BaselineUSD float64   `json:"baseline_usd" yaml:"baseline_usd"`
	Deviation   float64   `json:"deviation" yaml:"deviation"` // fraction of baseline, signed
	Severity    Severity  `json:"severity" yaml:"severity"`
	Direction   Direction `json:"direction" yaml:"direction"`
}

// AnomalyResult lists the anomalies in bucket order.
type AnomalyResult struct {
	Status    Status    `json:"status" yaml:"status"`
	Buckets   int       `json:"buckets" yaml:"buckets"`
	Anomalies []Anomaly `json:"anomalies" yaml:"anomalies"`
}

// DetectAnomalies compares every bucket with the mean cost of all other
// buckets. Buckets whose baseline is zero are skipped. Fewer than two
// buckets yields StatusInsufficientData.
func DetectAnomalies(buckets []Bucket, cfg AnomalyConfig) (AnomalyResult, error) {
	if err := cfg.Validate(); err != nil {
		return AnomalyResult{}, err
	}
	res := AnomalyResult{Buckets: len(buckets), Anomalies: []Anomaly{}}
	if len(buckets) < 2 {
		res.Status = StatusInsufficientData
		return res, nil
	}
	res.Status = StatusOK
	total := 0.0
	for _, b := range buckets {
		total += b.CostUSD
	}
	others := float64(len(buckets) - 1)
	for _, b := range buckets {
		baseline := (total - b.CostUSD) / others
		if baseline <= 0 {
			continue
		}
		dev := (b.CostUSD - baseline) / baseline
		sev, ok := cfg.severity(math.Abs(dev))
		if !ok {
			continue
		}
		dir := DirectionSpike
		if dev < 0 {
			dir = DirectionDrop
		}
		res.Anomalies = append(res.Anomalies, Anomaly{
			Bucket: b.Key, CostUSD: b.CostUSD, BaselineUSD: baseline,
			Deviation: dev, Severity: sev, Direction: dir,
		})
	}
	return res, nil
}
