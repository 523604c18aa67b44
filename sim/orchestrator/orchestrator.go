// Package orchestrator drives every scenario generator of a simulation over
// one shared clock and writes the merged event stream to a sink.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/inference-sim/usagesim/sim"
	"github.com/inference-sim/usagesim/sim/traffic"
)

// Sink receives the canonical event stream. record.Writer implements it.
type Sink interface {
	Write(e sim.Event) error
	// Flush is called at every tick boundary.
	Flush() error
	// Bytes is the encoded size written so far.
	Bytes() int64
}

// Target bounds a run. Zero fields are unbounded.
type Target struct {
	Records int64
	Bytes   int64
}

// StopReason says why a run ended.
type StopReason string

// Stop reasons.
const (
	StopHorizon  StopReason = "horizon"
	StopRecords  StopReason = "target_records"
	StopBytes    StopReason = "target_bytes"
	StopCanceled StopReason = "canceled"
)

// Progress is reported after every tick.
type Progress struct {
	Tick     int64
	Horizon  int64
	Records  int64
	Bytes    int64
	Fraction float64 // of the target when one is set, of the horizon otherwise
}

// Options tunes a run.
type Options struct {
	// Parallel emits all scenarios of a tick concurrently. Output is
	// identical to a sequential run.
	Parallel bool
	// OnProgress, if set, is called after every tick.
	OnProgress func(Progress)
	// LogEveryTicks is the info-level progress log period; 0 logs once per simulated day.
	LogEveryTicks int64
}

// Result summarizes a run.
type Result struct {
	RecordsWritten int64
	BytesWritten   int64
	TicksRun       int64
	Progress       float64
	StopReason     StopReason
}

// Run drives s tick by tick until the horizon ends or target is reached.
// Per tick: every generator Advances sequentially in scenario order, all
// generators Emit, the batches are merged by (timestamp, scenario, sequence),
// written record by record, and the sink is flushed.
//
// Cancellation is checked at tick boundaries only; everything flushed
// before it stays valid. On cancellation the partial Result is returned
// with ctx.Err().
func Run(ctx context.Context, s *traffic.Simulation, sink Sink, target Target, opts Options) (Result, error) {
	var res Result
	if s == nil || sink == nil {
		return res, fmt.Errorf("simulation and sink are required")
	}
	logEvery := opts.LogEveryTicks
	if logEvery <= 0 {
		logEvery = ticksPerDay(s.Clock)
	}
	startBytes := sink.Bytes()
	batches := make([][]sim.Event, len(s.Generators))

	for tick := int64(0); tick < s.Clock.Horizon; tick++ {
		if err := ctx.Err(); err != nil {
			res.StopReason = StopCanceled
			logrus.Warnf("run canceled at tick %d: %d records written", tick, res.RecordsWritten)
			return res, err
		}
		clk := s.Clock.At(tick)

		for _, g := range s.Generators {
			g.Advance(clk, s.Pool)
		}
		if err := emitAll(clk, s, batches, opts.Parallel); err != nil {
			return res, err
		}

		stop := StopReason("")
		for _, e := range Merge(batches) {
			if err := sink.Write(e); err != nil {
				return res, fmt.Errorf("tick %d: %w", tick, err)
			}
			res.RecordsWritten++
			res.BytesWritten = sink.Bytes() - startBytes
			if target.Records > 0 && res.RecordsWritten >= target.Records {
				stop = StopRecords
				break
			}
			if target.Bytes > 0 && res.BytesWritten >= target.Bytes {
				stop = StopBytes
				break
			}
		}
		if err := sink.Flush(); err != nil {
			return res, fmt.Errorf("tick %d: %w", tick, err)
		}
		res.BytesWritten = sink.Bytes() - startBytes
		res.TicksRun = tick + 1

		p := progressOf(res, tick, s.Clock.Horizon, target)
		res.Progress = p.Fraction
		if opts.OnProgress != nil {
			opts.OnProgress(p)
		}
		if res.TicksRun%logEvery == 0 {
			logrus.Infof("[tick %07d] day %d: %d records, %d bytes (%.1f%%)",
				tick, clk.Day(), res.RecordsWritten, res.BytesWritten, 100*p.Fraction)
		}
		if stop != "" {
			res.StopReason = stop
			logrus.Infof("target reached after %d ticks: %d records, %d bytes", res.TicksRun, res.RecordsWritten, res.BytesWritten)
			return res, nil
		}
	}

	res.StopReason = StopHorizon
	if target.Records > 0 || target.Bytes > 0 {
		logrus.Warnf("horizon ended before target: %d/%d records, %d/%d bytes; increase days or customers",
			res.RecordsWritten, target.Records, res.BytesWritten, target.Bytes)
	}
	return res, nil
}

// emitAll fills batches[i] with generator i's events for clk.
func emitAll(clk sim.Clock, s *traffic.Simulation, batches [][]sim.Event, parallel bool) error {
	if !parallel {
		for i, g := range s.Generators {
			events, err := g.Emit(clk, s.Pool)
			if err != nil {
				return err
			}
			batches[i] = events
		}
		return nil
	}
	var eg errgroup.Group
	for i, g := range s.Generators {
		i, g := i, g // per-iteration copies; go.mod targets 1.21 (pre-1.22 loop semantics)
		eg.Go(func() error {
			events, err := g.Emit(clk, s.Pool)
			if err != nil {
				return err
			}
			batches[i] = events
			return nil
		})
	}
	return eg.Wait()
}

func progressOf(res Result, tick, horizon int64, target Target) Progress {
	p := Progress{Tick: tick, Horizon: horizon, Records: res.RecordsWritten, Bytes: res.BytesWritten}
	switch {
	case target.Records > 0 || target.Bytes > 0:
		if target.Records > 0 {
			p.Fraction = float64(res.RecordsWritten) / float64(target.Records)
		}
		if target.Bytes > 0 {
			p.Fraction = math.Max(p.Fraction, float64(res.BytesWritten)/float64(target.Bytes))
		}
	case horizon > 0:
		p.Fraction = float64(tick+1) / float64(horizon)
	}
	p.Fraction = math.Min(p.Fraction, 1)
	return p
}

func ticksPerDay(clk sim.Clock) int64 {
	n := int64(24 * time.Hour / clk.TickLength)
	if n < 1 {
		return 1
	}
	return n
}
