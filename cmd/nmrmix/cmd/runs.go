package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/nmrmix/internal/optimization"
	"github.com/copyleftdev/nmrmix/internal/store"
)

var (
	// Flags for runs commands
	listLimit      int
	traceBucket    string
	traceIteration int
	tracePhase     string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect runs archived in the run store",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if dbPath == "" {
			return errors.New("--db is required")
		}
		return nil
	},
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived runs, newest first",
	RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
		runs, err := st.List(cmd.Context(), listLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tCREATED\tINITIAL\tFINAL\tOVERLAPS")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f\t%.1f\t%d\n",
				r.ID, r.Status, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Initial.Value, r.Final.Value, r.Final.Overlaps)
		}
		return tw.Flush()
	}),
}

var runsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print an archived run as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
		run, err := st.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer enc.Close()
		return enc.Encode(run)
	}),
}

var runsTraceCmd = &cobra.Command{
	Use:   "trace [id]",
	Short: "Print the annealing trace of one bucket iteration",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
		points, err := st.Trace(cmd.Context(), args[0], traceBucket, traceIteration-1, optimization.Phase(tracePhase))
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STEP\tTEMPERATURE\tSCORE\tSTATUS")
		for i, p := range points {
			status := optimization.Step{Accepted: p.Accepted}.Status()
			fmt.Fprintf(tw, "%d\t%.3f\t%.1f\t%s\n", i+1, p.Temperature, p.Score, status)
		}
		return tw.Flush()
	}),
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete an archived run",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
		return st.Delete(cmd.Context(), args[0])
	}),
}

func init() {
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsTraceCmd, runsDeleteCmd)

	runsListCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum runs to list")
	runsTraceCmd.Flags().StringVar(&traceBucket, "bucket", "", "Bucket name (empty when the run was not grouped)")
	runsTraceCmd.Flags().IntVar(&traceIteration, "iteration", 1, "Iteration number, starting at 1")
	runsTraceCmd.Flags().StringVar(&tracePhase, "phase", string(optimization.PhaseAnneal), "Phase: anneal or refine")
}

func withStore(fn func(cmd *cobra.Command, st *store.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open run store: %w", err)
		}
		defer st.Close()
		return fn(cmd, st, args)
	}
}
