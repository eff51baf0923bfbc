// Package main implements the CLI driver for the capdeps analyzer.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/xyproto/env/v2"

	"github.com/715d/capdeps/pkg/analyzer"
	"github.com/715d/capdeps/pkg/capdeps"
	"github.com/715d/capdeps/pkg/interp"
	"github.com/715d/capdeps/pkg/ir"
	"github.com/715d/capdeps/pkg/ref"
	"github.com/715d/capdeps/pkg/usage"
)

// Config holds all command-line configuration options.
type Config struct {
	Paths                []string // source files or directories
	Units                []string // units to analyze; empty means all non-capability units
	Manifest             string   // capdeps.yaml or capdeps.toml
	Verbose              bool     // enables debug logging
	JSON                 bool     // enables JSON output format
	Propagation          string   // once or per-path
	ImplementedByDefault bool     // non-capability members count as implemented
	Trace                bool     // log every analysis event
	Profile              bool     // enables CPU and memory profiling

	Format    string // dump format: casm or cbor
	Output    string // dump destination, stdout when empty
	Rewritten bool   // dump the rewritten program

	Entry string   // run: method to call
	Args  []string // run: arguments
}

const (
	exitMissingFound = 1
	exitError        = 2
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var cfg Config

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		_ = teardown(nil, nil)
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		var cErr codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(exitError)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "capdeps [paths...]",
		Short: "Find the capabilities a program depends on",
		Long: `capdeps analyzes programs built from capability interfaces.

For every analyzed unit it reports:
- Capability members it requires, and whether a provider implements them
- Capability members it only uses optionally
- requireOneOf sites with no implemented alternative

The analyzed units are rewritten so missing required capabilities fail
fast and missing optional ones are skipped.`,
		Example: `  capdeps ./src                         # Analyze every unit under src
  capdeps --unit app/Main ./src         # Analyze one unit
  capdeps --json ./src > report.json    # JSON output to file
  capdeps dump --rewritten ./src        # Print the rewritten program
  capdeps run --entry "app/Main.main ()void static" ./src`,
		Args:               cobra.ArbitraryArgs,
		RunE:               runAnalyze,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
		SilenceUsage:       true,
		SilenceErrors:      true,
		Version:            version,
	}

	// Set custom version template to include build info.
	rootCmd.SetVersionTemplate(fmt.Sprintf("capdeps version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", env.Bool("CAPDEPS_VERBOSE"), "Enable verbose output")
	flags.BoolVar(&cfg.JSON, "json", false, "Output in JSON format")
	flags.StringSliceVarP(&cfg.Units, "unit", "u", nil, "Units to analyze (default: every unit that is not a capability)")
	flags.StringVarP(&cfg.Manifest, "manifest", "m", "", "Project manifest (default: capdeps.yaml or capdeps.toml in the current directory)")
	flags.StringVar(&cfg.Propagation, "propagation", env.Str("CAPDEPS_PROPAGATION", "once"), "Counter propagation mode: once or per-path")
	flags.BoolVar(&cfg.ImplementedByDefault, "implemented-by-default", false, "Treat members of non-capability units as implemented")
	flags.BoolVar(&cfg.Trace, "trace", false, "Log every analysis event (requires --verbose)")
	flags.BoolVar(&cfg.Profile, "profile", false, "Enable CPU and memory profiling (writes cpu.prof and mem.prof to current directory)")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [paths...]",
		Short: "Report capability dependencies (the default command)",
		Args:  cobra.ArbitraryArgs,
		RunE:  runAnalyze,
	}

	dumpCmd := &cobra.Command{
		Use:   "dump [paths...]",
		Short: "Print the loaded program as assembly or CBOR",
		Args:  cobra.ArbitraryArgs,
		RunE:  runDump,
	}
	dumpCmd.Flags().StringVarP(&cfg.Format, "format", "f", env.Str("CAPDEPS_FORMAT", "casm"), "Output format: casm or cbor")
	dumpCmd.Flags().StringVarP(&cfg.Output, "output", "o", "", "Write to file instead of stdout")
	dumpCmd.Flags().BoolVar(&cfg.Rewritten, "rewritten", false, "Dump the program after analysis and rewriting")

	runCmd := &cobra.Command{
		Use:   "run [paths...]",
		Short: "Rewrite the program and execute one method",
		Long: `run analyzes and rewrites the program, then calls --entry.

Arguments are typed: obj:<unit>, int:<n>, str:<s>, bool:<b> or null.
A missing capability exits with status 1.`,
		Args: cobra.ArbitraryArgs,
		RunE: runExec,
	}
	runCmd.Flags().StringVarP(&cfg.Entry, "entry", "e", "", `Method to call, as "owner.name desc [static]"`)
	runCmd.Flags().StringArrayVarP(&cfg.Args, "arg", "a", nil, "Argument for the entry method (repeatable)")
	_ = runCmd.MarkFlagRequired("entry")

	rootCmd.AddCommand(analyzeCmd, dumpCmd, runCmd)
	return rootCmd
}

// inputs resolves sources and analyzer options from the flags and, when
// present, the project manifest. Explicit flags win over the manifest.
func inputs(ctx context.Context, cmd *cobra.Command, args []string) (*ir.Program, capdeps.AnalyzerOptions, error) {
	opts := capdeps.AnalyzerOptions{Trace: cfg.Trace}

	manifestPath := cfg.Manifest
	if manifestPath == "" && len(args) == 0 {
		manifestPath = capdeps.FindManifest(".")
	}

	paths := args
	if manifestPath != "" {
		m, err := capdeps.LoadManifest(manifestPath)
		if err != nil {
			return nil, opts, err
		}
		opts, err = capdeps.OptionsFromManifest(m)
		if err != nil {
			return nil, opts, err
		}
		opts.Trace = cfg.Trace
		if len(paths) == 0 {
			paths = m.SourcePaths()
		}
		if len(cfg.Units) == 0 {
			cfg.Units = m.Analyze
		}
		slog.Info("loaded manifest", "path", manifestPath)
	}
	if len(paths) == 0 {
		paths = []string{"."}
	}

	if manifestPath == "" || cmd.Flags().Changed("propagation") {
		p, err := analyzer.ParsePropagation(cfg.Propagation)
		if err != nil {
			return nil, opts, err
		}
		opts.Propagation = p
	}
	if cmd.Flags().Changed("implemented-by-default") {
		opts.ImplementedByDefault = cfg.ImplementedByDefault
	}

	cfg.Paths = paths
	slog.Info("loading sources", "paths", paths)
	p, err := capdeps.LoadProgram(ctx, capdeps.LoaderOptions{Paths: paths})
	if err != nil {
		return nil, opts, fmt.Errorf("loading sources: %w", err)
	}
	slog.Info("loaded program", "units", len(p.Units))
	return p, opts, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	start := time.Now()
	p, opts, err := inputs(cmd.Context(), cmd, args)
	if err != nil {
		return errWithCode(err, exitError)
	}

	report, err := capdeps.NewAnalyzer(opts).Analyze(cmd.Context(), p, cfg.Units...)
	if err != nil {
		return errWithCode(err, exitError)
	}
	result := newResult(report, time.Since(start))
	slog.Info("analysis completed", "dur", result.Stats.AnalysisDuration)

	if err := writeResults(os.Stdout, result); err != nil {
		return errWithCode(fmt.Errorf("format results: %w", err), exitError)
	}

	if result.Stats.Missing > 0 || result.Stats.Unsatisfied > 0 {
		return errWithCode(nil, exitMissingFound)
	}
	return nil
}

func runDump(cmd *cobra.Command, args []string) error {
	p, opts, err := inputs(cmd.Context(), cmd, args)
	if err != nil {
		return errWithCode(err, exitError)
	}
	if cfg.Rewritten {
		report, err := capdeps.NewAnalyzer(opts).Analyze(cmd.Context(), p, cfg.Units...)
		if err != nil {
			return errWithCode(err, exitError)
		}
		p = report.Program
	}

	var w io.Writer = os.Stdout
	if cfg.Output != "" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			return errWithCode(fmt.Errorf("creating %s: %w", cfg.Output, err), exitError)
		}
		defer f.Close()
		w = f
	}

	if err := dump(w, p, cfg.Format); err != nil {
		return errWithCode(err, exitError)
	}
	return nil
}

func dump(w io.Writer, p *ir.Program, format string) error {
	switch format {
	case "casm":
		for i, u := range p.Units {
			if i > 0 {
				if _, err := io.WriteString(w, "\n"); err != nil {
					return err
				}
			}
			if err := ir.Fprint(w, u); err != nil {
				return fmt.Errorf("print %s: %w", u.Name, err)
			}
		}
		return nil
	case "cbor":
		data, err := ir.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode program: %w", err)
		}
		_, err = w.Write(data)
		return err
	}
	return fmt.Errorf("unknown format %q: want casm or cbor", format)
}

func runExec(cmd *cobra.Command, args []string) error {
	entry, err := ref.Parse(cfg.Entry)
	if err != nil {
		return errWithCode(fmt.Errorf("entry: %w", err), exitError)
	}
	callArgs := make([]any, 0, len(cfg.Args))
	for _, a := range cfg.Args {
		v, err := interp.ParseValue(a)
		if err != nil {
			return errWithCode(err, exitError)
		}
		callArgs = append(callArgs, v)
	}

	p, opts, err := inputs(cmd.Context(), cmd, args)
	if err != nil {
		return errWithCode(err, exitError)
	}
	units := cfg.Units
	if len(units) == 0 {
		units = []string{entry.Owner}
	}
	report, err := capdeps.NewAnalyzer(opts).Analyze(cmd.Context(), p, units...)
	if err != nil {
		return errWithCode(err, exitError)
	}

	m := interp.New(report.Program, interp.Options{
		OnInvoke: func(r ref.Reference) { slog.Debug("invoke", "method", r.String()) },
	})
	v, err := m.Call(cmd.Context(), entry, callArgs...)
	if err != nil {
		var missing *usage.MissingCapabilityError
		var none *usage.NoneImplementedError
		if errors.As(err, &missing) || errors.As(err, &none) {
			return errWithCode(err, exitMissingFound)
		}
		return errWithCode(fmt.Errorf("run %s: %w", entry, err), exitError)
	}

	if cfg.JSON {
		data, err := json.Marshal(map[string]any{"entry": entry.String(), "result": v})
		if err != nil {
			return errWithCode(err, exitError)
		}
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(formatValue(v))
	return nil
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(v)
}

// Result is the analysis output for one program with execution statistics.
type Result struct {
	RunID   string                `json:"run_id"`
	Classes []capdeps.ClassReport `json:"classes"`
	Stats   struct {
		Classes          int           `json:"classes"`
		Dependencies     int           `json:"dependencies"`
		Missing          int           `json:"missing"`
		Unsatisfied      int           `json:"unsatisfied"`
		Suppressed       int           `json:"suppressed"`
		AnalysisDuration time.Duration `json:"analysis_duration"`
	} `json:"stats"`
}

func newResult(report *capdeps.Report, dur time.Duration) *Result {
	r := &Result{RunID: report.RunID, Classes: report.Classes}
	r.Stats.Classes = len(report.Classes)
	r.Stats.Missing = len(report.Missing())
	r.Stats.Unsatisfied = len(report.Unsatisfied())
	r.Stats.AnalysisDuration = dur
	for _, c := range report.Classes {
		r.Stats.Dependencies += len(c.Findings)
		for _, f := range c.Findings {
			if f.Suppressed {
				r.Stats.Suppressed++
			}
		}
	}
	return r
}

func writeResults(w io.Writer, result *Result) error {
	if cfg.JSON {
		output, err := formatJSONOutput(result)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, output)
		return err
	}
	_, err := io.WriteString(w, formatTextOutput(result, useColor(w)))
	return err
}

type jOutput struct {
	*Result
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

func formatJSONOutput(result *Result) (string, error) {
	data, err := json.MarshalIndent(jOutput{
		Result:    result,
		Version:   version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling json output: %w", err)
	}
	return string(data), nil
}

const (
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
	colorReset  = "\x1b[0m"
)

func useColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func formatTextOutput(result *Result, color bool) string {
	paint := func(code, s string) string {
		if !color {
			return s
		}
		return code + s + colorReset
	}

	if cfg.Verbose {
		slog.Info("",
			"classes", result.Stats.Classes,
			"dependencies", result.Stats.Dependencies,
			"missing", result.Stats.Missing,
			"unsatisfied", result.Stats.Unsatisfied,
			"suppressed", result.Stats.Suppressed,
			"analysis_duration", result.Stats.AnalysisDuration.String())
	}

	var output strings.Builder
	for _, c := range result.Classes {
		status := "ok"
		if !c.AllImplemented {
			status = paint(colorRed, "incomplete")
		}
		fmt.Fprintf(&output, "%s: %s\n", c.Class, status)

		for _, f := range c.Findings {
			kind := "required"
			if f.Optional {
				kind = "optional"
			}
			state := "implemented"
			switch {
			case f.Implemented:
			case f.Suppressed:
				state = "suppressed"
				if f.Reason != "" {
					state += " (" + f.Reason + ")"
				}
			case f.Optional:
				state = paint(colorYellow, "absent")
			default:
				state = paint(colorRed, "missing")
			}
			fmt.Fprintf(&output, "  %-8s %s %s", kind, f.Target, state)
			if cfg.Verbose {
				fmt.Fprintf(&output, " [%s]", f.Owner)
			}
			output.WriteString("\n")
		}

		for _, g := range c.Groups {
			if g.Satisfied {
				continue
			}
			fmt.Fprintf(&output, "  %s requireOneOf in %s has no implemented alternative\n",
				paint(colorRed, "unsatisfied"), g.Owner)
		}
	}
	return output.String()
}

var cpuProfile *os.File

func setup(_ *cobra.Command, _ []string) error {
	// Disable logger unless verbose flag is set.
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if cfg.Verbose {
		opts := &slog.HandlerOptions{Level: slog.LevelDebug}
		var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if cfg.JSON {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
		slog.SetDefault(slog.New(handler))
	}

	if !cfg.Profile {
		return nil
	}

	var err error
	cpuProfile, err = os.Create("cpu.prof")
	if err != nil {
		return fmt.Errorf("creating cpu.prof: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		_ = cpuProfile.Close()
		return fmt.Errorf("starting CPU profile: %w", err)
	}
	slog.Info("cpu profiling started", "file", "cpu.prof")
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if !cfg.Profile || cpuProfile == nil {
		return nil
	}

	pprof.StopCPUProfile()
	defer cpuProfile.Close()
	cpuProfile = nil
	slog.Info("cpu profiling stopped", "file", "cpu.prof")

	memFile, err := os.Create("mem.prof")
	if err != nil {
		return fmt.Errorf("creating mem.prof: %w", err)
	}
	defer memFile.Close()
	runtime.GC() // Get up-to-date statistics
	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("writing memory profile: %w", err)
	}
	slog.Info("memory profiling completed", "file", "mem.prof")
	return nil
}

func errWithCode(err error, code int) error {
	return codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e codedError) Unwrap() error { return e.err }
