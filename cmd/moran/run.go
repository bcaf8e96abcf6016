package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spatialops/moran/internal/config"
	"github.com/spatialops/moran/internal/dataset"
	"github.com/spatialops/moran/internal/fieldmap"
	"github.com/spatialops/moran/internal/invoke"
	"github.com/spatialops/moran/internal/model"
	"github.com/spatialops/moran/internal/pipeline"
	"github.com/spatialops/moran/internal/runner"
	"github.com/spatialops/moran/internal/workdir"
)

var runFlags struct {
	kind         string
	datasetPath  string
	dependent    string
	independents []string
	secondary    string

	kernel    string
	selection string
	adaptive  bool
	bandwidth float64
	neighbors int

	criterion     string
	maxIterations int
	tolerance     float64

	contiguity         string
	order              int
	standardizeWeights bool
	significance       float64

	standardize bool
	robust      bool

	engine string
	out    string
}

// runCmd executes a single analysis synchronously.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one analysis and write the result shapefile",
	Long: `Run one analysis synchronously: the dataset is loaded, exported with
interchange-safe field names, handed to the statistical engine, and the
engine's output shapefile is written to --out.

Engine stdout is streamed to the terminal as it is produced.`,
	RunE: runAnalysis,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.kind, "kind", "", "analysis kind: gwr, mgwr or lisa")
	f.StringVar(&runFlags.datasetPath, "dataset", "", "path to the source shapefile")
	f.StringVar(&runFlags.dependent, "dependent", "", "dependent (or primary) variable")
	f.StringSliceVar(&runFlags.independents, "independents", nil, "independent variables (gwr, mgwr)")
	f.StringVar(&runFlags.secondary, "secondary", "", "secondary variable for bivariate lisa")

	f.StringVar(&runFlags.kernel, "kernel", model.KernelGaussian, "kernel function")
	f.StringVar(&runFlags.selection, "selection", model.SelectionCV, "gwr bandwidth selection: cv, aic or manual")
	f.BoolVar(&runFlags.adaptive, "adaptive", false, "adaptive (neighbor-count) bandwidth")
	f.Float64Var(&runFlags.bandwidth, "bandwidth", 0, "manual bandwidth distance")
	f.IntVar(&runFlags.neighbors, "neighbors", 0, "manual adaptive neighbor count")

	f.StringVar(&runFlags.criterion, "criterion", model.CriterionAICc, "mgwr convergence criterion")
	f.IntVar(&runFlags.maxIterations, "max-iterations", 200, "mgwr iteration ceiling")
	f.Float64Var(&runFlags.tolerance, "tolerance", 1e-5, "mgwr convergence tolerance")

	f.StringVar(&runFlags.contiguity, "contiguity", model.ContiguityQueen, "lisa contiguity: queen or rook")
	f.IntVar(&runFlags.order, "order", 1, "lisa contiguity order")
	f.BoolVar(&runFlags.standardizeWeights, "standardize-weights", true, "row-standardize lisa weights")
	f.Float64Var(&runFlags.significance, "significance", 0.05, "lisa significance threshold")

	f.BoolVar(&runFlags.standardize, "standardize", false, "z-standardize analysis variables")
	f.BoolVar(&runFlags.robust, "robust", false, "robust gwr fitting")

	f.StringVar(&runFlags.engine, "engine", "", "statistical engine executable (overrides the persisted setting)")
	f.StringVar(&runFlags.out, "out", "", "result shapefile path (default <dataset>_<kind>_results.shp)")

	_ = runCmd.MarkFlagRequired("kind")
	_ = runCmd.MarkFlagRequired("dataset")
	_ = runCmd.MarkFlagRequired("dependent")

	rootCmd.AddCommand(runCmd)
}

func runAnalysis(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	enginePath := runFlags.engine
	if enginePath == "" {
		settings, err := config.LoadSettings(cfg.SettingsPath)
		if err != nil {
			return err
		}
		enginePath = settings.EnginePath()
	}
	if enginePath == "" {
		return fmt.Errorf("no engine configured: pass --engine or run `moran engine-path <path>`")
	}

	name := strings.TrimSuffix(filepath.Base(runFlags.datasetPath), filepath.Ext(runFlags.datasetPath))
	ds, err := dataset.Load(runFlags.datasetPath, name)
	if err != nil {
		return err
	}

	req := &model.AnalysisRequest{
		Kind:               runFlags.kind,
		Dataset:            ds,
		Dependent:          runFlags.dependent,
		Independents:       runFlags.independents,
		Secondary:          runFlags.secondary,
		Kernel:             runFlags.kernel,
		BandwidthSelection: runFlags.selection,
		Adaptive:           runFlags.adaptive,
		Bandwidth:          runFlags.bandwidth,
		Neighbors:          runFlags.neighbors,
		Criterion:          runFlags.criterion,
		MaxIterations:      runFlags.maxIterations,
		Tolerance:          runFlags.tolerance,
		Contiguity:         runFlags.contiguity,
		ContiguityOrder:    runFlags.order,
		StandardizeWeights: runFlags.standardizeWeights,
		Significance:       runFlags.significance,
		Standardize:        runFlags.standardize,
		Robust:             runFlags.robust,
		EnginePath:         enginePath,
	}

	p := pipeline.New(
		invoke.NewDefaultRegistry(cfg.ScriptsDir),
		runner.New(logger),
		workdir.New(logger, cfg.WorkdirRoot),
		cfg.Timeouts,
		logger,
	)

	outcome := p.Run(cmd.Context(), model.NewID(), req, func(line string) {
		fmt.Println(line)
	})
	if outcome.State != model.OutcomeSucceeded {
		if outcome.Diagnostics != "" {
			fmt.Fprintln(os.Stderr, outcome.Diagnostics)
		}
		return fmt.Errorf("analysis %s after %s: %w", outcome.State, outcome.Duration.Round(time.Millisecond), outcome.Err)
	}

	out := runFlags.out
	if out == "" {
		out = strings.TrimSuffix(runFlags.datasetPath, filepath.Ext(runFlags.datasetPath)) +
			"_" + runFlags.kind + "_results.shp"
	}
	if err := exportResult(outcome.Result.Dataset, out); err != nil {
		return err
	}

	fmt.Printf("%s completed in %s: %d features, %d fields -> %s\n",
		runFlags.kind, outcome.Duration.Round(time.Millisecond),
		outcome.Result.ResultFeatures, outcome.Result.ResultFields, out)
	return nil
}

// exportResult writes the detached result dataset. Result field names already
// fit the interchange limits, so the mapping is a pass-through.
func exportResult(ds *dataset.Dataset, path string) error {
	mapping, err := fieldmap.Build(ds.FieldNames(), nil)
	if err != nil {
		return err
	}
	return dataset.Export(ds, mapping, path)
}
