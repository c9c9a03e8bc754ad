package main

import (
	"cmp"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/born-ml/kerneltune/engine"
	"github.com/born-ml/kerneltune/internal/envconfig"
	"github.com/born-ml/kerneltune/internal/logutil"
	"github.com/born-ml/kerneltune/internal/tensor"
)

func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-26s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI builds the root command.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "kerneltune",
		Short:         "Kernel registry and autotuning engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
		},
	}

	listCmd := &cobra.Command{
		Use:     "list [FILTER]",
		Aliases: []string{"ls"},
		Short:   "List registered kernels",
		Args:    cobra.MaximumNArgs(1),
		RunE:    ListHandler,
	}
	listCmd.Flags().String("device", "", "Only list kernels of this device")

	describeCmd := &cobra.Command{
		Use:   "describe NAME",
		Short: "Show a kernel and its default record",
		Args:  cobra.ExactArgs(1),
		RunE:  DescribeHandler,
	}

	tuneCmd := &cobra.Command{
		Use:   "tune",
		Short: "Tune a reference operator and show every candidate",
		Args:  cobra.NoArgs,
		RunE:  TuneHandler,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a reference operator and print its output",
		Args:  cobra.NoArgs,
		RunE:  RunHandler,
	}
	runCmd.Flags().Bool("tune", false, "Tune the operator before running it")
	runCmd.Flags().Bool("profile", false, "Print the time spent per operator type")

	for _, cmd := range []*cobra.Command{tuneCmd, runCmd} {
		cmd.Flags().String("device", "cpu", "Device to run on (cpu, cuda, bang, webgpu)")
		cmd.Flags().String("op", "Conv", "Operator to build (Conv, Transpose, Sin, ..., Relu, Sigmoid)")
		cmd.Flags().String("dtype", "Float32", "Element type of the operator")
		cmd.Flags().Int("rounds", 0, "Timed rounds per candidate (default from KERNELTUNE_TUNE_ROUNDS)")
		cmd.Flags().Int("warmup", 0, "Warm-up rounds per candidate (default from KERNELTUNE_WARMUP_ROUNDS)")
		cmd.Flags().String("cache", "", "SQLite file persisting tuned records (default from KERNELTUNE_CACHE)")
	}

	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Show configuration variables and their current values",
		Args:  cobra.NoArgs,
		RunE:  EnvHandler,
	}

	envVars := envconfig.AsMap()
	for _, cmd := range []*cobra.Command{tuneCmd, runCmd} {
		appendEnvDocs(cmd, []envconfig.EnvVar{
			envVars["KERNELTUNE_DEBUG"],
			envVars["KERNELTUNE_TUNE_ROUNDS"],
			envVars["KERNELTUNE_WARMUP_ROUNDS"],
			envVars["KERNELTUNE_DEVICE_MEMORY"],
			envVars["KERNELTUNE_NUM_THREADS"],
			envVars["KERNELTUNE_CACHE"],
		})
	}

	rootCmd.AddCommand(listCmd, describeCmd, tuneCmd, runCmd, envCmd)
	return rootCmd
}

// ListHandler prints the registry, optionally filtered by device and by a
// case-insensitive substring of the kernel name.
func ListHandler(cmd *cobra.Command, args []string) error {
	entries, err := engine.Kernels()
	if err != nil {
		return err
	}

	var dev *engine.Device
	if s, _ := cmd.Flags().GetString("device"); s != "" {
		d, ok := engine.ParseDevice(s)
		if !ok {
			return fmt.Errorf("unknown device %q", s)
		}
		dev = &d
	}

	var data [][]string
	for _, e := range entries {
		if dev != nil && e.Key.Device != *dev {
			continue
		}
		if len(args) > 0 && !strings.Contains(strings.ToLower(e.Name), strings.ToLower(args[0])) {
			continue
		}
		data = append(data, []string{e.Key.Device.String(), e.Key.Op.String(), e.Key.DType.String(), e.Name})
	}

	renderTable(cmd.OutOrStdout(), []string{"DEVICE", "OP", "DTYPE", "NAME"}, data)
	return nil
}

// DescribeHandler prints one kernel by display name.
func DescribeHandler(cmd *cobra.Command, args []string) error {
	e, err := engine.LookupKernel(args[0])
	if err != nil {
		return err
	}
	rec := e.Kernel.DefaultRecord()
	renderTable(cmd.OutOrStdout(), []string{"FIELD", "VALUE"}, [][]string{
		{"name", e.Name},
		{"device", e.Key.Device.String()},
		{"op", e.Key.Op.String()},
		{"dtype", e.Key.DType.String()},
		{"record kind", rec.Kind()},
		{"default record", describeRecord(rec)},
	})
	return nil
}

func describeRecord(rec engine.PerfRecord) string {
	if s, ok := rec.(fmt.Stringer); ok {
		return s.String()
	}
	return "-"
}

func formatTime(ms float64) string {
	if ms >= engine.Unmeasured {
		return "unmeasured"
	}
	return strconv.FormatFloat(ms, 'f', 4, 64)
}

// openEngine opens the engine selected by the shared run and tune flags.
func openEngine(cmd *cobra.Command) (*engine.Engine, error) {
	s, _ := cmd.Flags().GetString("device")
	d, ok := engine.ParseDevice(s)
	if !ok {
		return nil, fmt.Errorf("unknown device %q", s)
	}

	var opts []engine.Option
	if cmd.Flags().Changed("cache") {
		path, _ := cmd.Flags().GetString("cache")
		opts = append(opts, engine.WithCache(path))
	}
	if cmd.Flags().Changed("rounds") || cmd.Flags().Changed("warmup") {
		rounds, _ := cmd.Flags().GetInt("rounds")
		warmup, _ := cmd.Flags().GetInt("warmup")
		if !cmd.Flags().Changed("rounds") {
			rounds = int(envconfig.TuneRounds())
		}
		if !cmd.Flags().Changed("warmup") {
			warmup = int(envconfig.WarmupRounds())
		}
		opts = append(opts, engine.WithTuning(warmup, rounds))
	}
	return engine.Open(d, opts...)
}

func scenarioFlags(cmd *cobra.Command) (string, engine.DataType, error) {
	opName, _ := cmd.Flags().GetString("op")
	s, _ := cmd.Flags().GetString("dtype")
	dt, ok := tensor.ParseDataType(s)
	if !ok {
		return "", 0, fmt.Errorf("unknown data type %q", s)
	}
	return opName, dt, nil
}

// TuneHandler tunes the reference operator and prints every candidate as
// the search reported it, then the selected record.
func TuneHandler(cmd *cobra.Command, args []string) error {
	opName, dt, err := scenarioFlags(cmd)
	if err != nil {
		return err
	}
	eng, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	g, _, err := buildScenario(eng, opName, dt)
	if err != nil {
		return err
	}

	var data [][]string
	eng.Subscribe(func(e engine.Event) {
		if e.Done {
			return
		}
		status := ""
		switch {
		case e.Skipped():
			status = "skipped: " + e.Err.Error()
		case e.Best:
			status = "best so far"
		}
		data = append(data, []string{
			e.Kernel,
			e.Candidate.String(),
			formatTime(e.TimeMs),
			strconv.Itoa(e.WorkspaceBytes),
			status,
		})
	})

	if err := eng.Run(cmd.Context(), g, engine.RunOptions{Tune: true}); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	renderTable(out, []string{"KERNEL", "CANDIDATE", "TIME (ms)", "WORKSPACE", "STATUS"}, data)
	fmt.Fprintln(out)
	for _, r := range eng.Records() {
		fmt.Fprintf(out, "selected %s: %s (%s ms)\n", r.Kernel, describeRecord(r.Record), formatTime(r.Record.Time()))
	}
	return nil
}

// RunHandler runs the reference operator and prints the output tensor.
func RunHandler(cmd *cobra.Command, args []string) error {
	opName, dt, err := scenarioFlags(cmd)
	if err != nil {
		return err
	}
	eng, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	g, result, err := buildScenario(eng, opName, dt)
	if err != nil {
		return err
	}

	useTuning, _ := cmd.Flags().GetBool("tune")
	profile, _ := cmd.Flags().GetBool("profile")
	opts := engine.RunOptions{Tune: useTuning, Cached: useTuning, Profiling: profile}
	if err := eng.Run(cmd.Context(), g, opts); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%v %v\n", result.Shape(), result.Float64s())
	if profile {
		var data [][]string
		for _, p := range eng.Profile() {
			data = append(data, []string{p.Op.String(), strconv.Itoa(p.Count), formatTime(p.TotalMs)})
		}
		fmt.Fprintln(out)
		renderTable(out, []string{"OP", "COUNT", "TOTAL (ms)"}, data)
	}
	return nil
}

// EnvHandler prints every configuration variable.
func EnvHandler(cmd *cobra.Command, args []string) error {
	vars := make([]envconfig.EnvVar, 0)
	for _, v := range envconfig.AsMap() {
		vars = append(vars, v)
	}
	slices.SortFunc(vars, func(a, b envconfig.EnvVar) int { return cmp.Compare(a.Name, b.Name) })

	var data [][]string
	for _, v := range vars {
		data = append(data, []string{v.Name, fmt.Sprintf("%v", v.Value), v.Description})
	}
	renderTable(cmd.OutOrStdout(), []string{"NAME", "VALUE", "DESCRIPTION"}, data)
	return nil
}
