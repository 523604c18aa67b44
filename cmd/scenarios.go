package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/inference-sim/usagesim/sim/traffic"
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List built-in presets and their pattern parameters",
	Run: func(cmd *cobra.Command, args []string) {
		if err := writeScenarios(os.Stdout); err != nil {
			os.Exit(1)
		}
	},
}

// writeScenarios prints one row per preset: the scenarios it runs and the
// tunable parameters of each pattern with their defaults.
func writeScenarios(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRESET\tSCENARIOS\tDESCRIPTION")
	for _, name := range traffic.PresetNames() {
		spec, err := traffic.Preset(name, 0)
		if err != nil {
			return err
		}
		desc := traffic.PatternDescription(name)
		if desc == "" {
			desc = "combined scenarios over one customer pool"
		}
		var scenarios string
		for i, sc := range spec.Scenarios {
			if i > 0 {
				scenarios += ","
			}
			scenarios += sc.Name + "(" + sc.Pattern + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, scenarios, desc)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "PATTERN\tPARAM\tDEFAULT\tRANGE")
	for _, pattern := range traffic.PatternNames() {
		params := traffic.PatternParams(pattern)
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			p := params[k]
			fmt.Fprintf(tw, "%s\t%s\t%g\t[%g, %g]\n", pattern, k, p.Default, p.Min, p.Max)
		}
	}
	return tw.Flush()
}
