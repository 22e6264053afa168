package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/nmrmix/internal/config"
)

var statsYAML bool

var statsCmd = &cobra.Command{
	Use:   "stats [library]",
	Short: "Print peak statistics of a compound library",
	Long: `Print per group peak statistics of a library: peak counts, aromatic and
aliphatic compounds, and the peaks removed by ignore regions.

The aromatic and intense peak cutoffs come from NMRMIX_AROMATIC_CUTOFF
and NMRMIX_INTENSE_PEAK_CUTOFF.`,
	Args: cobra.ExactArgs(1),
	RunE: runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsYAML, "yaml", false, "Print YAML instead of a table")
}

func runStats(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	params, err := config.LoadOptimizer()
	if err != nil {
		return err
	}
	lib, err := loadLibrary(args[0], logger)
	if err != nil {
		return err
	}

	stats := lib.Stats(params.AromaticCutoff, params.IntensePeakCutoff)
	if statsYAML {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer enc.Close()
		return enc.Encode(stats)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tCOMPOUNDS\tPEAKS\tMEAN\tSTDDEV\tMEDIAN\tMIN\tMAX\tAROMATIC\tALIPHATIC\tIGNORED\tIGNORED INTENSE\tALL IGNORED")
	for _, g := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%.2f\t%.1f\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			g.Group, g.Compounds, g.Peaks, g.PeaksMean, g.PeaksStdDev, g.PeaksMedian, g.PeaksMin, g.PeaksMax,
			g.AromaticCompounds, g.AliphaticCompounds, g.IgnoredPeaks, g.IgnoredIntensePeaks, g.AllIgnored)
	}
	return tw.Flush()
}
