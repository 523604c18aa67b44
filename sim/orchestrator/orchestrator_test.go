package orchestrator

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/usagesim/sim"
	"github.com/inference-sim/usagesim/sim/internal/testutil"
	"github.com/inference-sim/usagesim/sim/pricing"
	"github.com/inference-sim/usagesim/sim/record"
	"github.com/inference-sim/usagesim/sim/traffic"
)

// collectSink keeps every event and counts a fixed 100 bytes per record.
type collectSink struct {
	events  []sim.Event
	flushes int
}

func (s *collectSink) Write(e sim.Event) error { s.events = append(s.events, e); return nil }
func (s *collectSink) Flush() error            { s.flushes++; return nil }
func (s *collectSink) Bytes() int64            { return int64(len(s.events)) * 100 }

func build(t *testing.T, spec *traffic.SimulationSpec) *traffic.Simulation {
	t.Helper()
	s, err := spec.Build(pricing.DefaultCatalog())
	require.NoError(t, err)
	return s
}

func preset(t *testing.T, name string, seed int64, customers, days int) *traffic.SimulationSpec {
	t.Helper()
	spec, err := traffic.Preset(name, seed)
	require.NoError(t, err)
	spec.Population.Customers = customers
	spec.Days = days
	return spec
}

func at(sec int) time.Time { return sim.DefaultStart.Add(time.Duration(sec) * time.Second) }

func TestMerge_OrdersByTimestampScenarioSequence(t *testing.T) {
	batches := [][]sim.Event{
		{{CallID: "a0", Timestamp: at(1)}, {CallID: "a1", Timestamp: at(5)}, {CallID: "a2", Timestamp: at(5)}},
		{{CallID: "b0", Timestamp: at(0)}, {CallID: "b1", Timestamp: at(5)}},
		nil,
		{{CallID: "c0", Timestamp: at(1)}},
	}
	var ids []string
	for _, e := range Merge(batches) {
		ids = append(ids, e.CallID)
	}
	assert.Equal(t, []string{"b0", "a0", "c0", "a1", "a2", "b1"}, ids)
	assert.Empty(t, Merge(nil))
}

func TestRun_HorizonWritesOrderedStream(t *testing.T) {
	// GIVEN a three-day base simulation
	s := build(t, preset(t, traffic.PatternBase, 42, 20, 3))
	sink := &collectSink{}

	// WHEN it runs without targets
	res, err := Run(context.Background(), s, sink, Target{}, Options{})

	// THEN every tick ran and flushed, and the stream is time ordered
	require.NoError(t, err)
	assert.Equal(t, StopHorizon, res.StopReason)
	assert.Equal(t, int64(72), res.TicksRun)
	assert.Equal(t, 72, sink.flushes)
	assert.Equal(t, int64(len(sink.events)), res.RecordsWritten)
	assert.Equal(t, 1.0, res.Progress)
	require.NotEmpty(t, sink.events)
	for i, e := range sink.events {
		assert.Equal(t, e.InputTokens+e.OutputTokens, e.TotalTokens)
		if i > 0 {
			assert.False(t, e.Timestamp.Before(sink.events[i-1].Timestamp))
		}
	}
}

func TestRun_StopsAtRecordTarget(t *testing.T) {
	s := build(t, preset(t, traffic.PatternBase, 42, 50, 30))
	sink := &collectSink{}

	res, err := Run(context.Background(), s, sink, Target{Records: 50}, Options{})

	require.NoError(t, err)
	assert.Equal(t, StopRecords, res.StopReason)
	assert.Equal(t, int64(50), res.RecordsWritten)
	assert.Len(t, sink.events, 50)
	assert.Equal(t, 1.0, res.Progress)
	assert.Less(t, res.TicksRun, s.Clock.Horizon)
}

func TestRun_StopsAtByteTarget(t *testing.T) {
	s := build(t, preset(t, traffic.PatternBase, 42, 50, 30))
	var buf bytes.Buffer
	w, err := record.NewWriter(&buf)
	require.NoError(t, err)
	headerBytes := w.Bytes()

	res, err := Run(context.Background(), s, w, Target{Bytes: 20_000}, Options{})

	require.NoError(t, err)
	assert.Equal(t, StopBytes, res.StopReason)
	assert.GreaterOrEqual(t, res.BytesWritten, int64(20_000))
	assert.Less(t, res.BytesWritten, int64(20_000+1_000), "overshoot is at most one row")
	assert.Equal(t, int64(buf.Len())-headerBytes, res.BytesWritten, "everything written was flushed")
}

func TestRun_WarnsWhenHorizonEndsFirst(t *testing.T) {
	s := build(t, preset(t, traffic.PatternBase, 42, 5, 1))
	res, err := Run(context.Background(), s, &collectSink{}, Target{Records: 1_000_000}, Options{})
	require.NoError(t, err)
	assert.Equal(t, StopHorizon, res.StopReason)
	assert.Less(t, res.Progress, 1.0)
}

func TestRun_CancelHonouredAtTickBoundary(t *testing.T) {
	// GIVEN a run canceled from the progress callback after tick 5
	s := build(t, preset(t, traffic.PatternBase, 42, 20, 3))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &collectSink{}
	var flushedAtCancel int
	opts := Options{OnProgress: func(p Progress) {
		if p.Tick == 5 {
			flushedAtCancel = len(sink.events)
			cancel()
		}
	}}

	// WHEN it runs
	res, err := Run(ctx, s, sink, Target{}, opts)

	// THEN it stops before tick 6 with everything flushed so far kept
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StopCanceled, res.StopReason)
	assert.Equal(t, int64(6), res.TicksRun)
	assert.Len(t, sink.events, flushedAtCancel)
	assert.Equal(t, 6, sink.flushes)
}

func TestRun_ParallelMatchesSequentialBytes(t *testing.T) {
	run := func(parallel bool) []byte {
		s := build(t, preset(t, traffic.PresetMixed, 42, 40, 3))
		var buf bytes.Buffer
		w, err := record.NewWriter(&buf)
		require.NoError(t, err)
		_, err = Run(context.Background(), s, w, Target{}, Options{Parallel: parallel})
		require.NoError(t, err)
		return buf.Bytes()
	}
	seq := run(false)
	par := run(true)
	assert.Greater(t, len(seq), 1000)
	assert.True(t, bytes.Equal(seq, par), "parallel output differs from sequential")
}

func TestRun_SameSeedByteIdentical(t *testing.T) {
	run := func(seed int64) []byte {
		s := build(t, preset(t, traffic.PatternBurst, seed, 30, 2))
		var buf bytes.Buffer
		w, err := record.NewWriter(&buf)
		require.NoError(t, err)
		_, err = Run(context.Background(), s, w, Target{}, Options{})
		require.NoError(t, err)
		return buf.Bytes()
	}
	assert.True(t, bytes.Equal(run(7), run(7)))
	assert.False(t, bytes.Equal(run(7), run(8)))
}

func TestRun_GradualDeclineActiveSetNonIncreasing(t *testing.T) {
	s := build(t, preset(t, traffic.PatternGradualDecline, 42, 100, 30))
	prev := s.Pool.Len()
	opts := Options{OnProgress: func(p Progress) {
		active := s.Pool.ActiveCount(p.Tick)
		assert.LessOrEqual(t, active, prev, "tick %d", p.Tick)
		prev = active
	}}
	_, err := Run(context.Background(), s, &collectSink{}, Target{}, opts)
	require.NoError(t, err)
	assert.Less(t, prev, 100)
	assert.Equal(t, 100, s.Pool.Len())
}

func TestRun_BaseScenarioRegressionBaseline(t *testing.T) {
	// GIVEN the base generator with 100 customers over 30 days at seed 42
	s := build(t, preset(t, traffic.PatternBase, 42, 100, 30))
	sink := &collectSink{}

	// WHEN the full horizon runs
	res, err := Run(context.Background(), s, sink, Target{}, Options{})
	require.NoError(t, err)

	// THEN call count, tokens and cost match the captured baseline
	got := testutil.GoldenBaseline{
		Name: "base_100c_30d_seed42", Pattern: traffic.PatternBase, Seed: 42, Customers: 100, Days: 30,
		Records: res.RecordsWritten,
	}
	for _, e := range sink.events {
		got.TotalTokens += e.TotalTokens
		got.TotalCostUSD += e.CostUSD
	}
	require.Greater(t, got.Records, int64(0))
	testutil.CheckGoldenBaseline(t, got)
}

func TestRun_RejectsMissingParts(t *testing.T) {
	_, err := Run(context.Background(), nil, &collectSink{}, Target{}, Options{})
	assert.Error(t, err)
}
