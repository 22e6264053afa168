package cmd

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/nmrmix/internal/config"
	"github.com/copyleftdev/nmrmix/internal/logging"
	"github.com/copyleftdev/nmrmix/internal/optimization"
	"github.com/copyleftdev/nmrmix/internal/optimization/annealing"
	"github.com/copyleftdev/nmrmix/internal/optimization/partition"
	"github.com/copyleftdev/nmrmix/internal/optimization/results"
	"github.com/copyleftdev/nmrmix/internal/optimization/scoring"
	"github.com/copyleftdev/nmrmix/internal/store"
)

var (
	// Flags for optimize command
	libraryFile string
	outputDir   string
	paramsFile  string
	lockedFile  string
	workers     int

	mixSize       int
	extraMixtures int
	startNum      int
	peakRange     float64
	useGroup      bool
	iterations    int
	useRefine     bool
	seed          int64
	maxSteps      int
	startTemp     float64
	finalTemp     float64
	cooling       string
	mixRate       int
	useIntensity  bool
	deltaMode     string
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Optimize the mixtures of a compound library",
	Long: `Partition the active compounds of a library into mixtures and minimize
their peak overlaps by simulated annealing.

Parameter defaults come from NMRMIX_* environment variables, then from
--params, then from individual flags.

Examples:
  # Optimize with default settings and print the summary
  nmrmix optimize --library compounds.yaml

  # Group by solvent, refine, run 5 iterations and write reports
  nmrmix optimize -l compounds.yaml --group --refine --iterations 5 -o out/

  # Keep mixtures 1001 and 1002 as they are and archive the run
  nmrmix optimize -l compounds.yaml --locked locked.yaml --db runs.db`,
	RunE: runOptimize,
}

func init() {
	f := optimizeCmd.Flags()
	f.StringVarP(&libraryFile, "library", "l", "", "Library document, YAML or JSON (required)")
	f.StringVarP(&outputDir, "out", "o", "", "Directory for mixtures.txt, summary.txt and results.yaml")
	f.StringVar(&paramsFile, "params", "", "YAML file with parameter overrides")
	f.StringVar(&lockedFile, "locked", "", "YAML file mapping mixture numbers to compounds that must stay together")
	f.IntVar(&workers, "workers", 0, "Buckets optimized at once (0 = GOMAXPROCS)")

	f.IntVar(&mixSize, "mix-size", 0, "Maximum compounds per mixture")
	f.IntVar(&extraMixtures, "extra", 0, "Extra mixtures beyond the minimum")
	f.IntVar(&startNum, "start-num", 0, "First mixture number")
	f.Float64Var(&peakRange, "peak-range", 0, "Default overlap window width (ppm)")
	f.BoolVar(&useGroup, "group", false, "Only mix compounds of the same group")
	f.IntVar(&iterations, "iterations", 0, "Independent annealing restarts per bucket")
	f.BoolVar(&useRefine, "refine", false, "Run the refinement pass after annealing")
	f.Int64Var(&seed, "seed", 0, "Random seed (0 = clock)")
	f.IntVar(&maxSteps, "max-steps", 0, "Annealing steps per iteration")
	f.Float64Var(&startTemp, "start-temp", 0, "Annealing start temperature")
	f.Float64Var(&finalTemp, "final-temp", 0, "Annealing final temperature")
	f.StringVar(&cooling, "cooling", "", "Cooling schedule: linear or exponential")
	f.IntVar(&mixRate, "mix-rate", 0, "Mixtures changed per annealing step")
	f.BoolVar(&useIntensity, "intensity", false, "Weight overlaps by peak intensity")
	f.StringVar(&deltaMode, "delta", "", "Acceptance delta: median or fixed")

	optimizeCmd.MarkFlagRequired("library")
}

// resolveParameters layers the environment defaults, the params file and
// the changed flags.
func resolveParameters(cmd *cobra.Command) (optimization.Parameters, error) {
	params, err := config.LoadOptimizer()
	if err != nil {
		return params, fmt.Errorf("invalid NMRMIX_ environment: %w", err)
	}

	if paramsFile != "" {
		data, err := os.ReadFile(paramsFile)
		if err != nil {
			return params, fmt.Errorf("failed to read params: %w", err)
		}
		next := params
		if err := yaml.Unmarshal(data, &next); err != nil {
			return params, fmt.Errorf("failed to parse params %s: %w", paramsFile, err)
		}
		if params, err = next.Update(func(*optimization.Parameters) {}); err != nil {
			return params, err
		}
	}

	changed := cmd.Flags().Changed
	return params.Update(func(p *optimization.Parameters) {
		if changed("mix-size") {
			p.MixSize = mixSize
		}
		if changed("extra") {
			p.ExtraMixtures = extraMixtures
		}
		if changed("start-num") {
			p.StartNum = startNum
		}
		if changed("peak-range") {
			p.PeakRange = peakRange
		}
		if changed("group") {
			p.UseGroup = useGroup
		}
		if changed("iterations") {
			p.Iterations = iterations
		}
		if changed("refine") {
			p.UseRefine = useRefine
		}
		if changed("seed") {
			p.Seed = seed
		}
		if changed("max-steps") {
			p.Anneal.MaxSteps = maxSteps
		}
		if changed("start-temp") {
			p.Anneal.StartTemp = startTemp
		}
		if changed("final-temp") {
			p.Anneal.FinalTemp = finalTemp
		}
		if changed("cooling") {
			p.Anneal.Cooling = optimization.Cooling(cooling)
		}
		if changed("mix-rate") {
			p.Anneal.MixRate = mixRate
		}
		if changed("intensity") {
			p.UseIntensity = useIntensity
		}
		if changed("delta") {
			p.DeltaMode = optimization.DeltaMode(deltaMode)
		}
	})
}

func loadLocked(path string) (optimization.Assignment, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read locked mixtures: %w", err)
	}
	var locked optimization.Assignment
	if err := yaml.Unmarshal(data, &locked); err != nil {
		return nil, fmt.Errorf("failed to parse locked mixtures %s: %w", path, err)
	}
	return locked, nil
}

func runOptimize(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	params, err := resolveParameters(cmd)
	if err != nil {
		return err
	}
	lib, err := loadLibrary(libraryFile, logger)
	if err != nil {
		return err
	}
	locked, err := loadLocked(lockedFile)
	if err != nil {
		return err
	}

	if params.Seed == 0 {
		params.Seed = time.Now().UnixNano()
	}
	plan, err := partition.Generate(lib, params, locked, rand.New(rand.NewSource(params.Seed)))
	if err != nil {
		return err
	}

	zlog := logging.NewZapLogger(logger)
	scorer := scoring.NewScorer(lib, params, zlog)
	runner, err := annealing.NewRunner(params, scorer,
		annealing.WithRunnerLogger(zlog),
		annealing.WithWorkers(workers))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	started := time.Now()
	job := runner.Start(ctx, plan)
	for ev := range job.Events() {
		logger.Debug("progress", map[string]interface{}{
			"bucket":      ev.Bucket,
			"iteration":   ev.Iteration + 1,
			"phase":       string(ev.Phase),
			"step":        ev.Step,
			"max_steps":   ev.MaxSteps,
			"temperature": ev.Temperature,
			"score":       ev.Score,
		})
	}
	out, err := job.Wait()
	if err != nil {
		return err
	}

	report, err := results.BuildReport(lib, scorer.Fork(), out.Assignment, params)
	if err != nil {
		return err
	}
	summaries := results.SummarizeOutcome(out)

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Status: %s (seed %d, %s)\n", out.Status, params.Seed, time.Since(started).Round(time.Millisecond))
	fmt.Fprintf(w, "Score: %.1f -> %.1f, overlaps: %d -> %d\n\n",
		out.Initial.Value, out.Final.Value, out.Initial.Overlaps, out.Final.Overlaps)
	if err := results.WriteBucketSummaries(w, summaries); err != nil {
		return err
	}
	fmt.Fprintln(w)
	if err := results.WriteSummary(w, report); err != nil {
		return err
	}

	if outputDir != "" {
		if err := writeReports(outputDir, report, summaries); err != nil {
			return err
		}
		logger.Info("reports written", map[string]interface{}{"dir": outputDir})
	}

	if dbPath != "" {
		id, err := archiveRun(context.Background(), dbPath, params, started, out, report)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\nRun archived as %s\n", id)
	}

	if out.Status == optimization.StatusCancelled {
		return optimization.ErrCancelled
	}
	return nil
}

// writeReports writes the text summary, the bucket statistics and the full
// YAML report into dir.
func writeReports(dir string, report *results.Report, summaries []results.BucketSummary) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{"mixtures.txt", func(w io.Writer) error { return results.WriteSummary(w, report) }},
		{"summary.txt", func(w io.Writer) error { return results.WriteBucketSummaries(w, summaries) }},
		{"results.yaml", func(w io.Writer) error {
			enc := yaml.NewEncoder(w)
			defer enc.Close()
			return enc.Encode(struct {
				Report  *results.Report         `yaml:"report"`
				Buckets []results.BucketSummary `yaml:"buckets"`
			}{report, summaries})
		}},
	}
	for _, file := range files {
		f, err := os.Create(filepath.Join(dir, file.name))
		if err != nil {
			return err
		}
		if err := file.write(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to write %s: %w", file.name, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

func archiveRun(ctx context.Context, path string, params optimization.Parameters, started time.Time, out *optimization.Outcome, report *results.Report) (string, error) {
	st, err := store.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open run store: %w", err)
	}
	defer st.Close()

	run := store.Run{
		ID:         uuid.NewString(),
		Status:     out.Status,
		Parameters: params,
		Initial:    out.Initial,
		Final:      out.Final,
		CreatedAt:  started,
		FinishedAt: time.Now(),
		Mixtures:   report.Mixtures,
	}
	if err := st.Save(ctx, run, out); err != nil {
		return "", err
	}
	return run.ID, nil
}
