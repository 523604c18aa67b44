package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/usagesim/sim"
	"github.com/inference-sim/usagesim/sim/orchestrator"
	"github.com/inference-sim/usagesim/sim/pricing"
	"github.com/inference-sim/usagesim/sim/record"
	"github.com/inference-sim/usagesim/sim/traffic"
)

// generateOptions are the generate flags. Zero numeric values keep the
// spec's setting.
type generateOptions struct {
	specPath      string
	preset        string
	catalogPath   string
	outPath       string
	customers     int
	days          int
	seed          int64
	seedSet       bool
	targetRecords int64
	targetBytes   int64
	parallel      bool
}

var genOpts generateOptions

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a synthetic usage event file",
	Long: `Generate runs every scenario of a simulation spec (--spec) or a built-in
preset (--preset) over a shared clock and writes the merged event stream as
CSV, plus a YAML run header next to it.`,
	Run: func(cmd *cobra.Command, args []string) {
		genOpts.seedSet = cmd.Flags().Changed("seed")
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, err := runGenerate(ctx, genOpts)
		if err != nil {
			logrus.Fatalf("generate failed: %v", err)
		}
		fmt.Printf("wrote %d records (%d bytes) to %s in %d ticks, stop reason: %s\n",
			res.RecordsWritten, res.BytesWritten, genOpts.outPath, res.TicksRun, res.StopReason)
	},
}

// resolveSpec loads the spec file or preset, then applies flag overrides.
func resolveSpec(opts generateOptions) (*traffic.SimulationSpec, error) {
	var spec *traffic.SimulationSpec
	var err error
	if opts.specPath != "" {
		spec, err = traffic.LoadSimulationSpec(opts.specPath)
	} else {
		spec, err = traffic.Preset(opts.preset, opts.seed)
	}
	if err != nil {
		return nil, err
	}
	if opts.seedSet {
		spec.Seed = opts.seed
	}
	if opts.customers > 0 {
		spec.Population.Customers = opts.customers
	}
	if opts.days > 0 {
		spec.Days = opts.days
	}
	if opts.targetRecords > 0 {
		spec.TargetRecords = opts.targetRecords
	}
	if opts.targetBytes > 0 {
		spec.TargetBytes = opts.targetBytes
	}
	if opts.parallel {
		spec.Parallel = true
	}
	return spec, nil
}

func loadCatalog(path string) (*pricing.Catalog, error) {
	if path == "" {
		return pricing.DefaultCatalog(), nil
	}
	return pricing.LoadCatalog(path)
}

// runGenerate builds the simulation, runs it into opts.outPath and writes
// the run header. On cancellation the flushed records and the header are
// kept and the context error is returned.
func runGenerate(ctx context.Context, opts generateOptions) (orchestrator.Result, error) {
	spec, err := resolveSpec(opts)
	if err != nil {
		return orchestrator.Result{}, err
	}
	cat, err := loadCatalog(opts.catalogPath)
	if err != nil {
		return orchestrator.Result{}, err
	}
	s, err := spec.Build(cat)
	if err != nil {
		return orchestrator.Result{}, err
	}

	if dir := filepath.Dir(opts.outPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return orchestrator.Result{}, fmt.Errorf("creating output dir: %w", err)
		}
	}
	w, err := record.Create(opts.outPath)
	if err != nil {
		return orchestrator.Result{}, err
	}

	started := time.Now()
	res, runErr := orchestrator.Run(ctx, s, w,
		orchestrator.Target{Records: spec.TargetRecords, Bytes: spec.TargetBytes},
		orchestrator.Options{Parallel: spec.Parallel})
	if err := w.Close(); err != nil && runErr == nil {
		runErr = err
	}
	logrus.Infof("generation took %s", time.Since(started).Round(time.Millisecond))

	if err := record.WriteHeader(record.HeaderPath(opts.outPath), runHeader(s, res)); err != nil {
		return res, err
	}
	return res, runErr
}

func runHeader(s *traffic.Simulation, res orchestrator.Result) *record.RunHeader {
	h := &record.RunHeader{
		Version:       record.FormatVersion,
		Seed:          s.Spec.Seed,
		Start:         s.Clock.Start.Format(time.RFC3339),
		Days:          s.Spec.Days,
		Tick:          s.Clock.TickLength.String(),
		Customers:     s.Pool.Len(),
		Organizations: len(s.Pool.Organizations()),
		Columns:       sim.EventColumns,
		Records:       res.RecordsWritten,
		Bytes:         res.BytesWritten,
		TicksRun:      res.TicksRun,
		StopReason:    string(res.StopReason),
	}
	for _, g := range s.Generators {
		h.Scenarios = append(h.Scenarios, record.ScenarioHeader{Name: g.Scenario, Pattern: g.Pattern().Name()})
	}
	return h
}

func init() {
	defaultOut := filepath.Join(getEnvString(envOutDir, "."), "events.csv")

	generateCmd.Flags().StringVar(&genOpts.specPath, "spec", "", "Path to a YAML simulation spec (overrides --preset)")
	generateCmd.Flags().StringVar(&genOpts.preset, "preset", traffic.PatternBase, "Built-in scenario preset (see `usagesim scenarios`)")
	generateCmd.Flags().StringVar(&genOpts.catalogPath, "catalog", "", "Path to a YAML provider/model catalog (default: built-in)")
	generateCmd.Flags().StringVarP(&genOpts.outPath, "out", "o", defaultOut, "Output CSV path; the run header is written next to it")
	generateCmd.Flags().IntVar(&genOpts.customers, "customers", 0, "Number of simulated customers (0 = spec value)")
	generateCmd.Flags().IntVar(&genOpts.days, "days", 0, "Simulated days (0 = spec value)")
	generateCmd.Flags().Int64Var(&genOpts.seed, "seed", 42, "Seed for the simulation")
	generateCmd.Flags().Int64Var(&genOpts.targetRecords, "target-records", 0, "Stop after this many records (0 = run to horizon)")
	generateCmd.Flags().Int64Var(&genOpts.targetBytes, "target-bytes", 0, "Stop after this many bytes (0 = no size target)")
	generateCmd.Flags().BoolVar(&genOpts.parallel, "parallel", false, "Emit scenarios concurrently within a tick")
}
