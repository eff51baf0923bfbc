package harness

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/715d/capdeps/pkg/analyzer"
	"github.com/715d/capdeps/pkg/capdeps"
	"github.com/715d/capdeps/pkg/interp"
	"github.com/715d/capdeps/pkg/ref"
	"github.com/715d/capdeps/pkg/usage"
)

// TestHarness manages test execution.
type TestHarness struct {
	// root is the root directory for test data
	root string
}

// NewHarness creates a new test harness.
func NewHarness(root string) *TestHarness {
	return &TestHarness{root: root}
}

// Run executes a test case with all its configurations.
func (h *TestHarness) Run(t *testing.T, tc *TestCase) *TestResult {
	t.Helper()
	require.NotEmpty(t, tc.Configurations, "test case has no configurations")

	var results []ConfigurationResult
	allSuccess := true

	for _, cfg := range tc.Configurations {
		cfgResult := h.runConfiguration(t, tc, cfg)
		results = append(results, *cfgResult)
		if !cfgResult.Success {
			allSuccess = false
		}
	}

	var resultMsg string
	if allSuccess {
		resultMsg = fmt.Sprintf("All %d configurations passed", len(tc.Configurations))
	} else {
		failedCount := 0
		var msgs []string
		for _, cr := range results {
			if !cr.Success {
				failedCount++
				msgs = append(msgs, fmt.Sprintf("[%s] %s:\n  %s",
					cr.Configuration.Name, cr.Message, strings.Join(cr.Details, "\n  ")))
			}
		}
		resultMsg = fmt.Sprintf("%d/%d configurations failed:\n%s",
			failedCount, len(tc.Configurations), strings.Join(msgs, "\n"))
	}

	return &TestResult{
		TestCase:             tc,
		ConfigurationResults: results,
		Success:              allSuccess,
		Message:              resultMsg,
	}
}

// runConfiguration executes analysis for a single configuration.
func (h *TestHarness) runConfiguration(t *testing.T, tc *TestCase, cfg Configuration) *ConfigurationResult {
	t.Helper()

	p, manifest, err := LoadProgram(t.Context(), tc)
	require.NoError(t, err, "load %s", tc.Dir)

	opts := capdeps.AnalyzerOptions{}
	units := cfg.Analyze
	if manifest != nil {
		opts, err = capdeps.OptionsFromManifest(manifest)
		require.NoError(t, err)
		if len(units) == 0 {
			units = manifest.Analyze
		}
	}
	if cfg.Propagation != "" {
		opts.Propagation, err = analyzer.ParsePropagation(cfg.Propagation)
		require.NoError(t, err)
	}
	if cfg.ImplementedByDefault != nil {
		opts.ImplementedByDefault = *cfg.ImplementedByDefault
	}

	report, err := capdeps.NewAnalyzer(opts).Analyze(t.Context(), p, units...)
	if err != nil {
		// Check if this error was expected.
		for _, expectedErr := range cfg.ExpectedErrors {
			if strings.Contains(err.Error(), expectedErr) {
				return &ConfigurationResult{
					Configuration: cfg,
					Success:       true,
					Message:       fmt.Sprintf("Got expected error: %v", err),
				}
			}
		}
		require.NoError(t, err)
	}
	if len(cfg.ExpectedErrors) > 0 {
		return &ConfigurationResult{
			Configuration: cfg,
			Report:        report,
			Message:       "Expected an analysis error",
			Details:       cfg.ExpectedErrors,
		}
	}
	return h.validateConfigurationResults(t, cfg, report)
}

// validateConfigurationResults compares actual results with expected for a
// specific configuration.
func (h *TestHarness) validateConfigurationResults(t *testing.T, cfg Configuration, report *capdeps.Report) *ConfigurationResult {
	t.Helper()
	cfgResult := ConfigurationResult{
		Configuration: cfg,
		Report:        report,
		Success:       true,
	}

	var required, optional, missing, unsatisfied []string
	for _, c := range report.Classes {
		for _, f := range c.Findings {
			if f.Optional {
				optional = append(optional, f.Target)
			} else {
				required = append(required, f.Target)
			}
		}
	}
	for _, f := range report.Missing() {
		missing = append(missing, f.Target)
	}
	for _, g := range report.Unsatisfied() {
		unsatisfied = append(unsatisfied, g.Owner.String())
	}

	validateResults(&cfgResult, "required", cfg.ExpectedRequired, required)
	validateResults(&cfgResult, "optional", cfg.ExpectedOptional, optional)
	validateResults(&cfgResult, "missing", cfg.ExpectedMissing, missing)
	validateResults(&cfgResult, "unsatisfied", cfg.ExpectedUnsatisfied, unsatisfied)

	for _, run := range cfg.Runs {
		if detail := h.execute(t, report, run); detail != "" {
			cfgResult.Success = false
			cfgResult.Details = append(cfgResult.Details, detail)
		}
	}

	if cfgResult.Success {
		cfgResult.Message = fmt.Sprintf("All expectations met (%d runs)", len(cfg.Runs))
	} else {
		cfgResult.Message = fmt.Sprintf("Test failed: %d problems", len(cfgResult.Details))
	}
	return &cfgResult
}

// execute performs one run against the rewritten program and returns a
// failure description, or "" when the run behaved as expected.
func (h *TestHarness) execute(t *testing.T, report *capdeps.Report, run Run) string {
	t.Helper()

	entry, err := ref.Parse(run.Entry)
	require.NoError(t, err, "run entry")
	args := make([]any, 0, len(run.Args))
	for _, a := range run.Args {
		v, err := interp.ParseValue(a)
		require.NoError(t, err, "run %s", run.Entry)
		args = append(args, v)
	}

	invoked := make(map[string]bool)
	m := interp.New(report.Program, interp.Options{
		OnInvoke: func(r ref.Reference) { invoked[r.Member()] = true },
	})
	got, err := m.Call(t.Context(), entry, args...)

	var details []string
	for _, name := range run.NeverInvoked {
		if invoked[name] {
			details = append(details, name+" was invoked")
		}
	}

	switch run.Error {
	case "":
		if err != nil {
			details = append(details, fmt.Sprintf("unexpected error: %v", err))
			break
		}
		if run.Result == "" {
			break
		}
		want, perr := interp.ParseValue(run.Result)
		require.NoError(t, perr, "run %s result", run.Entry)
		if diff := cmp.Diff(want, got); diff != "" {
			details = append(details, fmt.Sprintf("result mismatch (-want +got):\n%s", diff))
		}
	case "missing":
		var missing *usage.MissingCapabilityError
		switch {
		case !errors.As(err, &missing):
			details = append(details, fmt.Sprintf("want missing capability error, got %v", err))
		case run.MissingRef != "" && missing.Ref.Member() != run.MissingRef:
			details = append(details, fmt.Sprintf("missing %s, want %s", missing.Ref.Member(), run.MissingRef))
		}
	case "none-implemented":
		var none *usage.NoneImplementedError
		if !errors.As(err, &none) {
			details = append(details, fmt.Sprintf("want none-implemented error, got %v", err))
		}
	default:
		if err == nil || !strings.Contains(err.Error(), run.Error) {
			details = append(details, fmt.Sprintf("want error containing %q, got %v", run.Error, err))
		}
	}

	if len(details) == 0 {
		return ""
	}
	return fmt.Sprintf("run %s: %s", run.Entry, strings.Join(details, "; "))
}

// ConfigurationResult represents the result of running a single configuration.
type ConfigurationResult struct {
	// Configuration is the configuration that was run.
	Configuration Configuration

	// Report is the raw result from the analyzer.
	Report *capdeps.Report

	// Success indicates if this configuration passed.
	Success bool

	// Message provides a summary of the result for this configuration.
	Message string

	// Details provides detailed information about failures for this configuration.
	Details []string
}

// TestResult represents the result of running a test case.
type TestResult struct {
	// TestCase is the test case that was run.
	TestCase *TestCase

	// ConfigurationResults contains results for each configuration.
	ConfigurationResults []ConfigurationResult

	// Success indicates if the test passed (all configurations passed)
	Success bool

	// Message provides a summary of the result.
	Message string
}

func validateResults(cfgResult *ConfigurationResult, kind string, expected, actual []string) {
	expectedSet := make(map[string]bool)
	for _, e := range expected {
		expectedSet[e] = true
	}
	actualSet := make(map[string]bool)
	for _, a := range actual {
		actualSet[a] = true
	}

	var missing, unexpected []string
	for key := range expectedSet {
		if !actualSet[key] {
			missing = append(missing, key)
		}
	}
	for key := range actualSet {
		if !expectedSet[key] {
			unexpected = append(unexpected, key)
		}
	}

	// Sort for consistent output.
	sort.Strings(missing)
	sort.Strings(unexpected)

	for _, m := range missing {
		cfgResult.Details = append(cfgResult.Details, fmt.Sprintf("Should have been %s: %s", kind, m))
	}
	for _, u := range unexpected {
		cfgResult.Details = append(cfgResult.Details, fmt.Sprintf("Should not have been %s: %s", kind, u))
	}
	if len(missing) > 0 || len(unexpected) > 0 {
		cfgResult.Success = false
	}
}
