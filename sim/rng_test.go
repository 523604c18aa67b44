package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimulationKey_Creation(t *testing.T) {
	tests := []struct {
		name string
		seed int64
	}{
		{"positive seed", 42},
		{"zero seed", 0},
		{"negative seed", -1},
		{"max int64", math.MaxInt64},
		{"min int64", math.MinInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := NewSimulationKey(tt.seed)
			assert.Equal(t, tt.seed, int64(key))
		})
	}
}

func TestPartitionedRNG_DeterministicDerivation(t *testing.T) {
	// GIVEN two partitioned RNGs with the same key
	rng1 := NewPartitionedRNG(NewSimulationKey(42))
	rng2 := NewPartitionedRNG(NewSimulationKey(42))
	name := SubsystemScenario(0, "base")

	// WHEN three values are drawn from the same scenario subsystem
	// THEN both sequences are identical
	for i := 0; i < 3; i++ {
		assert.Equal(t, rng1.ForSubsystem(name).Float64(), rng2.ForSubsystem(name).Float64(), "draw %d", i)
	}
}

func TestPartitionedRNG_SubsystemIsolation(t *testing.T) {
	// GIVEN generator A draws heavily from the population stream first
	rngA := NewPartitionedRNG(NewSimulationKey(42))
	for i := 0; i < 10; i++ {
		rngA.ForSubsystem(SubsystemPopulation).Float64()
	}
	scenario := SubsystemScenario(1, "burst")

	// WHEN A draws from a scenario stream
	got := rngA.ForSubsystem(scenario).Float64()

	// THEN it sees the first value of that stream, untouched by population draws
	fresh := NewPartitionedRNG(NewSimulationKey(42))
	assert.Equal(t, fresh.ForSubsystem(scenario).Float64(), got)
}

func TestPartitionedRNG_PopulationUsesMasterSeed(t *testing.T) {
	rng := NewPartitionedRNG(NewSimulationKey(7))
	direct := NewRandFromSeed(7)
	pop := rng.ForSubsystem(SubsystemPopulation)
	for i := 0; i < 10; i++ {
		assert.Equal(t, direct.Float64(), pop.Float64())
	}
}

func TestPartitionedRNG_CachesInstance(t *testing.T) {
	rng := NewPartitionedRNG(NewSimulationKey(42))
	assert.Same(t, rng.ForSubsystem(SubsystemLatency), rng.ForSubsystem(SubsystemLatency))
	assert.Len(t, rng.subsystems, 1)
	assert.Equal(t, SimulationKey(42), rng.Key())
}

func TestSubsystemScenario_DistinctStreams(t *testing.T) {
	// Same pattern name at two positions must not share a stream.
	names := []string{
		SubsystemPopulation,
		SubsystemLatency,
		SubsystemScenario(0, "base"),
		SubsystemScenario(1, "base"),
		SubsystemScenario(0, "burst"),
	}
	hashes := make(map[int64]string)
	for _, name := range names {
		h := fnv1a64(name)
		if existing, ok := hashes[h]; ok {
			t.Errorf("hash collision: %q and %q both hash to %d", name, existing, h)
		}
		hashes[h] = name
	}
	assert.Equal(t, "scenario_3_viral-spike", SubsystemScenario(3, "viral-spike"))
}

func BenchmarkPartitionedRNG_ForSubsystem_CacheHit(b *testing.B) {
	rng := NewPartitionedRNG(NewSimulationKey(42))
	rng.ForSubsystem(SubsystemPopulation)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rng.ForSubsystem(SubsystemPopulation)
	}
}
