package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/radau/internal/config"
	"github.com/san-kum/radau/internal/dae"
	"github.com/san-kum/radau/internal/problems"
	"github.com/san-kum/radau/internal/store"
	"github.com/san-kum/radau/internal/viz"
)

var (
	dataDir    string
	stages     int
	rtol       float64
	atol       float64
	maxStep    float64
	firstStep  float64
	weight     float64
	unknowns   string
	tBound     float64
	configFile string
	presetName string
	save       bool
	plotSteps  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "radau",
		Short: "implicit Radau IIA stepper for differential-algebraic systems",
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".radau", "data directory")

	runCmd := &cobra.Command{
		Use:   "run [model]",
		Short: "integrate a model",
		Args:  cobra.ExactArgs(1),
		RunE:  runModel,
	}
	runCmd.Flags().IntVar(&stages, "stages", 4, "stage count")
	runCmd.Flags().Float64Var(&rtol, "rtol", 1e-3, "relative tolerance")
	runCmd.Flags().Float64Var(&atol, "atol", 1e-6, "absolute tolerance")
	runCmd.Flags().Float64Var(&maxStep, "max-step", 0, "step size bound (0 = unbounded)")
	runCmd.Flags().Float64Var(&firstStep, "first-step", 0, "initial step size (0 = automatic)")
	runCmd.Flags().Float64Var(&weight, "error-weight", 0, "continuous error weight in [0,1]")
	runCmd.Flags().StringVar(&unknowns, "unknowns", "derivatives", "primary unknowns: derivatives or increments")
	runCmd.Flags().Float64Var(&tBound, "t-bound", 0, "integration end (0 = model default)")
	runCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	runCmd.Flags().StringVar(&presetName, "preset", "", "named solver profile for the model")
	runCmd.Flags().BoolVar(&save, "save", false, "persist the run")
	runCmd.Flags().BoolVar(&plotSteps, "plot-steps", false, "plot the step-size history")

	problemsCmd := &cobra.Command{
		Use:   "problems",
		Short: "list available models",
		RunE:  listProblems,
	}

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "list saved runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a saved run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	rootCmd.AddCommand(runCmd, problemsCmd, runsCmd, plotCmd, exportCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runModel(cmd *cobra.Command, args []string) error {
	model, err := problems.Get(args[0])
	if err != nil {
		return err
	}

	t0, tEnd := model.Span()

	var opts dae.Options
	switch {
	case configFile != "":
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		opts = cfg.Options()
		if cfg.Span.T0 != cfg.Span.TBound {
			t0, tEnd = cfg.Span.T0, cfg.Span.TBound
		}
	case presetName != "":
		cfg := config.GetPreset(args[0], presetName)
		if cfg == nil {
			return fmt.Errorf("unknown preset %q for model %s (have: %s)",
				presetName, args[0], strings.Join(config.ListPresets(args[0]), ", "))
		}
		opts = cfg.Options()
		if cfg.Span.T0 != cfg.Span.TBound {
			t0, tEnd = cfg.Span.T0, cfg.Span.TBound
		}
	default:
		opts = dae.DefaultOptions()
		opts.Stages = stages
		opts.Rtol = rtol
		opts.Atol = atol
		opts.MaxStep = maxStep
		opts.FirstStep = firstStep
		opts.ContinuousErrorWeight = weight
		if unknowns == "increments" {
			opts.Unknowns = dae.UnknownIncrements
		}
	}

	if cmd.Flags().Changed("t-bound") {
		tEnd = tBound
	}
	y0, yp0 := model.Initial()

	result, err := dae.Solve(cmd.Context(), problems.ResidualFunc(model), problems.JacobianFunc(model), t0, y0, yp0, tEnd, opts)
	if err != nil {
		// Step-size underflow and step-budget exhaustion still deliver
		// the trajectory up to the failure point; show it with a warning
		// instead of discarding the work.
		partial := errors.Is(err, dae.ErrTooSmallStep) || errors.Is(err, dae.ErrMaxSteps)
		if !partial || result.Len() < 2 {
			return err
		}
		fmt.Println(viz.Warning.Render(fmt.Sprintf(
			"integration stopped at t = %g: %v", result.T[result.Len()-1], err)))
	}

	fmt.Println(viz.Summary(model.Name(), result.Stats))
	fmt.Println(viz.PlotComponents(result, 6))
	if plotSteps {
		fmt.Println(viz.PlotStepSizes(result))
	}

	last := result.Len() - 1
	fmt.Printf("t = %g\n", result.T[last])
	for i, v := range result.Y[last] {
		fmt.Printf("y%d = %.10g\n", i, v)
	}
	if ref, ok := model.(problems.Reference); ok {
		exact := ref.Exact(result.T[last])
		for i, v := range exact {
			fmt.Printf("exact y%d = %.10g (error %.3g)\n", i, v, result.Y[last][i]-v)
		}
	}

	if save {
		st := store.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
		runID, err := st.Save(model.Name(), opts, result)
		if err != nil {
			return err
		}
		fmt.Printf("saved run %s\n", runID)
	}
	return nil
}

func listProblems(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDIM\tDESCRIPTION")
	for _, name := range problems.Names() {
		m, err := problems.Get(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", m.Name(), m.Dim(), m.Describe())
	}
	return w.Flush()
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := store.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tSTAGES\tRTOL\tSTEPS\tREJECTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%g\t%d\t%d\n",
			r.ID, r.Model, r.Stages, r.Rtol, r.Stats.Steps, r.Stats.Rejected)
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := store.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	times, ys, yps, err := st.LoadStates(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("model: %s\n", meta.Model)
	fmt.Printf("samples: %d\n\n", len(times))

	result := &dae.Result{T: times, Y: ys, Yp: yps, Stats: meta.Stats}
	fmt.Println(viz.PlotComponents(result, 6))
	fmt.Println(viz.PlotStepSizes(result))
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := store.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}
