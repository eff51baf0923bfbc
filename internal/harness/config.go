// Package harness provides test harness infrastructure for validating the
// analyzer against scenario programs under testdata.
package harness

// Configuration is one analysis of a test case with its expectations.
type Configuration struct {
	// Name is a descriptive name for this configuration.
	Name string `yaml:"name"`

	// Analyze lists the units to analyze. Empty means every unit that is
	// not a capability.
	Analyze []string `yaml:"analyze"`

	// Propagation overrides the manifest or default propagation mode.
	Propagation string `yaml:"propagation,omitempty"`

	// ImplementedByDefault overrides the manifest setting when set.
	ImplementedByDefault *bool `yaml:"implemented_by_default,omitempty"`

	// ExpectedRequired lists required dependency targets as "owner.name".
	ExpectedRequired []string `yaml:"expected_required"`

	// ExpectedOptional lists optional dependency targets as "owner.name".
	ExpectedOptional []string `yaml:"expected_optional"`

	// ExpectedMissing lists the required targets no provider implements.
	ExpectedMissing []string `yaml:"expected_missing"`

	// ExpectedUnsatisfied lists the methods holding a requireOneOf with no
	// implemented alternative, as "owner.name".
	ExpectedUnsatisfied []string `yaml:"expected_unsatisfied"`

	// ExpectedErrors lists substrings of an expected analysis error.
	ExpectedErrors []string `yaml:"expected_errors"`

	// Runs execute the rewritten program.
	Runs []Run `yaml:"runs"`
}

// Run is one call into the rewritten program.
type Run struct {
	// Entry is the method to call, "owner.name desc [static]".
	Entry string `yaml:"entry"`

	// Args are typed values: obj:<unit>, int:<n>, str:<s>, bool:<b>, null.
	Args []string `yaml:"args"`

	// Result is the expected return value in the same typed form.
	Result string `yaml:"result,omitempty"`

	// Error is "missing", "none-implemented" or a message substring.
	Error string `yaml:"error,omitempty"`

	// MissingRef is the expected reference of a missing-capability error,
	// "owner.name", when Error is "missing".
	MissingRef string `yaml:"missing_ref,omitempty"`

	// NeverInvoked lists methods, "owner.name", that must not run.
	NeverInvoked []string `yaml:"never_invoked"`
}

// TestCase represents a single test scenario.
type TestCase struct {
	// Dir is the case name relative to the testdata root.
	Dir string `yaml:"-"`

	// Sources are the files or directories holding the case program.
	Sources []string `yaml:"-"`

	// Manifest is the case's capdeps.yaml or capdeps.toml, if any.
	Manifest string `yaml:"-"`

	// Bundle holds the raw archive when the case is a .txtar file.
	Bundle []byte `yaml:"-"`

	// Configurations defines the analyses to run.
	Configurations []Configuration `yaml:"configurations"`
}
