// Package sim provides the core data model of the usage simulator.
//
// # Reading Guide
//
// Start with these files:
//   - event.go: the immutable Event record and its constructor-time validation
//   - customer.go: customers, archetypes, organizations and the CustomerPool registry
//   - clock.go: the shared virtual Clock passed to every generator
//   - rng.go: PartitionedRNG, the source of all randomness
//
// # Architecture
//
// The sim package holds shared types; behavior lives in sub-packages:
//   - sim/pricing/: provider/model catalog, cost and latency functions
//   - sim/traffic/: traffic pattern strategies and the per-tick generator
//   - sim/orchestrator/: shared-clock driver and deterministic merge
//   - sim/record/: append-only CSV persistence of events
//   - sim/metrics/: streaming group-by aggregation and exact percentiles
//   - sim/analysis/: anomalies, forecasts and cost-optimization advice
//
// Data flows generate → persist → aggregate → analyze. Every random draw
// comes from a PartitionedRNG stream, so a seed and a spec fully determine
// the output bytes.
package sim
