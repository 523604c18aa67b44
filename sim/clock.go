package sim

import "time"

// DefaultTick is the simulated time step between generator calls.
const DefaultTick = time.Hour

// DefaultStart is the simulated wall-clock origin when a spec does not set one.
// It is fixed so that runs never depend on the real clock.
var DefaultStart = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// Clock is the shared virtual clock handed to every generator.
// It is a value type: generators receive a copy and cannot advance it.
type Clock struct {
	Start      time.Time     // simulated origin (UTC)
	TickLength time.Duration // length of one tick
	Tick       int64         // current tick index, 0-based
	Horizon    int64         // total number of ticks in the run
}

// NewClock creates a clock at tick 0 covering days simulated days.
func NewClock(start time.Time, tick time.Duration, days int) Clock {
	if tick <= 0 {
		tick = DefaultTick
	}
	horizon := int64(time.Duration(days) * 24 * time.Hour / tick)
	return Clock{Start: start.UTC(), TickLength: tick, Horizon: horizon}
}

// At returns a copy of the clock positioned at tick.
func (c Clock) At(tick int64) Clock {
	c.Tick = tick
	return c
}

// Now is the simulated time at the start of the current tick.
func (c Clock) Now() time.Time {
	return c.Start.Add(time.Duration(c.Tick) * c.TickLength)
}

// Hour is the UTC hour of day [0, 23].
func (c Clock) Hour() int {
	return c.Now().Hour()
}

// Weekday is the UTC weekday of the current tick.
func (c Clock) Weekday() time.Weekday {
	return c.Now().Weekday()
}

// IsWeekend reports whether the current tick falls on Saturday or Sunday.
func (c Clock) IsWeekend() bool {
	wd := c.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Day is the number of whole simulated days elapsed since Start.
func (c Clock) Day() int {
	return int(c.Now().Sub(c.Start) / (24 * time.Hour))
}

// DayOfMonth is the calendar day [1, 31].
func (c Clock) DayOfMonth() int {
	return c.Now().Day()
}

// DaysInMonth is the number of days in the current calendar month.
func (c Clock) DaysInMonth() int {
	now := c.Now()
	return time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// IsDayStart reports whether this tick is the first tick of a simulated day.
func (c Clock) IsDayStart() bool {
	return c.Tick == 0 || c.At(c.Tick-1).Day() != c.Day()
}

// Progress is the fraction of the horizon elapsed at the start of this tick, in [0, 1].
func (c Clock) Progress() float64 {
	if c.Horizon <= 1 {
		return 0
	}
	p := float64(c.Tick) / float64(c.Horizon-1)
	if p > 1 {
		return 1
	}
	return p
}

// Days is the horizon length in whole simulated days (at least 1).
func (c Clock) Days() int {
	d := int(time.Duration(c.Horizon) * c.TickLength / (24 * time.Hour))
	if d < 1 {
		return 1
	}
	return d
}

// Done reports whether the clock has passed the horizon.
func (c Clock) Done() bool {
	return c.Tick >= c.Horizon
}
