package analysis

import (
	"fmt"
	"math"
)

// Forecast defaults.
const (
	DefaultHorizonDays      = 30
	DefaultGrowthWindowDays = 14
)

// ForecastConfig sets the projection horizon and the trailing growth window.
type ForecastConfig struct {
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
	WindowDays  int `yaml:"window_days" json:"window_days"`
}

// DefaultForecastConfig returns the default forecast configuration.
func DefaultForecastConfig() ForecastConfig {
	return ForecastConfig{HorizonDays: DefaultHorizonDays, WindowDays: DefaultGrowthWindowDays}
}

// Validate requires a positive horizon and a window of at least two days.
func (c ForecastConfig) Validate() error {
	if c.HorizonDays <= 0 {
		return fmt.Errorf("forecast horizon_days must be positive, got %d", c.HorizonDays)
	}
	if c.WindowDays < 2 {
		return fmt.Errorf("forecast window_days must be at least 2, got %d", c.WindowDays)
	}
	return nil
}

// ForecastPoint is the projection for one future day (1-based).
type ForecastPoint struct {
	Day               int     `json:"day" yaml:"day"`
	LinearUSD         float64 `json:"linear_usd" yaml:"linear_usd"`
	GrowthAdjustedUSD float64 `json:"growth_adjusted_usd" yaml:"growth_adjusted_usd"`
}

// Forecast projects spend over HorizonDays.
type Forecast struct {
	Status            Status          `json:"status" yaml:"status"`
	HistoryDays       int             `json:"history_days" yaml:"history_days"`
	HorizonDays       int             `json:"horizon_days" yaml:"horizon_days"`
	WindowDays        int             `json:"window_days" yaml:"window_days"` // days actually used
	DailyAverageUSD   float64         `json:"daily_average_usd" yaml:"daily_average_usd"`
	LinearUSD         float64         `json:"linear_usd" yaml:"linear_usd"`
	GrowthRatePerDay  float64         `json:"growth_rate_per_day" yaml:"growth_rate_per_day"` // fraction, >= -1
	GrowthAdjustedUSD float64         `json:"growth_adjusted_usd" yaml:"growth_adjusted_usd"`
	Daily             []ForecastPoint `json:"daily,omitempty" yaml:"daily,omitempty"`
}

// ForecastSpend projects daily totals (oldest first).
//
// The linear forecast is the mean daily spend times the horizon. The
// growth-adjusted forecast takes the least-squares slope of the trailing
// window divided by the window mean as a daily growth rate g, floored at
// -100%, and compounds it: window_mean * sum_{d=1..H} (1+g)^d.
// One point or none yields StatusInsufficientData.
func ForecastSpend(daily []float64, cfg ForecastConfig) (Forecast, error) {
	if err := cfg.Validate(); err != nil {
		return Forecast{}, err
	}
	f := Forecast{HistoryDays: len(daily), HorizonDays: cfg.HorizonDays}
	if len(daily) <= 1 {
		f.Status = StatusInsufficientData
		return f, nil
	}
	f.Status = StatusOK
	f.DailyAverageUSD = mean(daily)
	f.LinearUSD = f.DailyAverageUSD * float64(cfg.HorizonDays)

	window := daily
	if len(window) > cfg.WindowDays {
		window = window[len(window)-cfg.WindowDays:]
	}
	f.WindowDays = len(window)
	windowMean := mean(window)
	if windowMean > 0 {
		f.GrowthRatePerDay = math.Max(slope(window)/windowMean, -1)
	}

	f.Daily = make([]ForecastPoint, cfg.HorizonDays)
	factor := 1.0
	for d := 1; d <= cfg.HorizonDays; d++ {
		factor *= 1 + f.GrowthRatePerDay
		projected := windowMean * factor
		f.GrowthAdjustedUSD += projected
		f.Daily[d-1] = ForecastPoint{Day: d, LinearUSD: f.DailyAverageUSD, GrowthAdjustedUSD: projected}
	}
	return f, nil
}

// slope is the ordinary least-squares slope of ys over x = 0..n-1.
func slope(ys []float64) float64 {
	n := float64(len(ys))
	xMean := (n - 1) / 2
	yMean := mean(ys)
	var num, den float64
	for i, y := range ys {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)))
}
