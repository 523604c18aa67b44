package traffic

import (
	"math"
	"time"

	"github.com/inference-sim/usagesim/sim"
)

// DiurnalFactor is the intra-day activity shape for a UTC hour: a cosine
// with its peak at 14:00 and a 0.35 floor at 02:00.
func DiurnalFactor(hour int) float64 {
	return 0.35 + 0.65*(1+math.Cos(2*math.Pi*float64(hour-14)/24))/2
}

// weeklyFactors is the seasonal weight per weekday, Sunday first.
var weeklyFactors = [7]float64{0.45, 1.0, 1.05, 1.05, 1.0, 0.9, 0.5}

// WeeklyFactor is the seasonal weight of a weekday.
func WeeklyFactor(wd time.Weekday) float64 {
	return weeklyFactors[wd]
}

// dayFraction is the elapsed simulated time in days, fractional.
func dayFraction(clk sim.Clock) float64 {
	return float64(clk.Now().Sub(clk.Start)) / float64(24*time.Hour)
}

// baseShape is the diurnal curve damped on weekends.
func baseShape(clk sim.Clock, weekendFactor float64) float64 {
	m := DiurnalFactor(clk.Hour())
	if clk.IsWeekend() {
		m *= weekendFactor
	}
	return m
}
