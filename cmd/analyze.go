package cmd

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/usagesim/sim"
	"github.com/inference-sim/usagesim/sim/analysis"
	"github.com/inference-sim/usagesim/sim/metrics"
	"github.com/inference-sim/usagesim/sim/record"
)

type analyzeOptions struct {
	format      string
	configPath  string
	catalogPath string
	outPath     string // empty = stdout
	groupings   []string
}

var anOpts analyzeOptions

var analyzeCmd = &cobra.Command{
	Use:   "analyze <events.csv>",
	Short: "Aggregate an event file and print the analysis report",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		out := io.Writer(os.Stdout)
		if anOpts.outPath != "" {
			f, err := os.Create(anOpts.outPath)
			if err != nil {
				logrus.Fatalf("creating report file: %v", err)
			}
			defer func() {
				if err := f.Close(); err != nil {
					logrus.Errorf("closing report file: %v", err)
				}
			}()
			out = f
		}
		if err := runAnalyze(args[0], anOpts, out); err != nil {
			logrus.Fatalf("analyze failed: %v", err)
		}
	},
}

// runAnalyze streams path through the aggregator and encodes the report to w.
func runAnalyze(path string, opts analyzeOptions, w io.Writer) error {
	cfg := analysis.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = analysis.LoadConfig(opts.configPath); err != nil {
			return err
		}
	}
	cat, err := loadCatalog(opts.catalogPath)
	if err != nil {
		return err
	}

	groupings := metrics.DefaultGroupings()
	for _, name := range opts.groupings {
		g, err := metrics.ParseGrouping(name)
		if err != nil {
			return err
		}
		groupings = append(groupings, g)
	}
	agg, err := metrics.NewAggregator(groupings...)
	if err != nil {
		return err
	}

	r, err := record.Open(path, cat)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	if err := r.Each(func(e sim.Event) error {
		agg.Add(e)
		return nil
	}); err != nil {
		return err
	}
	if r.Rejected() > 0 {
		agg.Reject(r.Rejected(), r.Reasons()...)
		logrus.Warnf("%d malformed record(s) skipped in %s", r.Rejected(), path)
	}
	logrus.Infof("aggregated %d records from %s", agg.Total().Count, path)

	report, err := analysis.Analyze(agg, cat, cfg)
	if err != nil {
		return err
	}
	return report.Encode(w, opts.format)
}

func init() {
	analyzeCmd.Flags().StringVarP(&anOpts.format, "format", "f", analysis.FormatJSON, "Report format (json, yaml)")
	analyzeCmd.Flags().StringVar(&anOpts.configPath, "config", "", "Path to a YAML analysis config (bands, forecast, advisor)")
	analyzeCmd.Flags().StringVar(&anOpts.catalogPath, "catalog", "", "Path to a YAML provider/model catalog (default: built-in)")
	analyzeCmd.Flags().StringVarP(&anOpts.outPath, "out", "o", "", "Report file (default: stdout)")
	analyzeCmd.Flags().StringSliceVar(&anOpts.groupings, "group", nil, "Extra groupings, e.g. region+model (repeatable)")
}
