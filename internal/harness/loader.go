package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/tools/txtar"
	yaml "gopkg.in/yaml.v3"

	"github.com/stretchr/testify/require"

	"github.com/715d/capdeps/pkg/capdeps"
	"github.com/715d/capdeps/pkg/ir"
)

const expectedFile = "expected.yaml"

// LoadTestCase loads a test case from a directory with a specified testdata root.
func LoadTestCase(t *testing.T, dir, root string) *TestCase {
	t.Helper()

	tc := &TestCase{}
	data, err := os.ReadFile(filepath.Join(dir, expectedFile))
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, tc))

	tc.Dir = caseName(dir, root)
	tc.Sources = []string{dir}
	tc.Manifest = capdeps.FindManifest(dir)
	return tc
}

// LoadBundleCase loads a test case packed into one txtar archive holding an
// expected.yaml and the program's .casm members.
func LoadBundleCase(t *testing.T, path, root string) *TestCase {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	archive := txtar.Parse(data)
	tc := &TestCase{}
	found := false
	for _, f := range archive.Files {
		if f.Name == expectedFile {
			require.NoError(t, yaml.Unmarshal(f.Data, tc))
			found = true
		}
	}
	require.True(t, found, "%s: bundle has no %s", path, expectedFile)

	tc.Dir = caseName(path, root)
	tc.Sources = []string{path}
	tc.Bundle = data
	return tc
}

// LoadProgram loads the program of a test case. The case manifest, when
// present, decides where sources live.
func LoadProgram(ctx context.Context, tc *TestCase) (*ir.Program, *capdeps.Manifest, error) {
	var manifest *capdeps.Manifest
	sources := tc.Sources
	if tc.Manifest != "" {
		m, err := capdeps.LoadManifest(tc.Manifest)
		if err != nil {
			return nil, nil, err
		}
		manifest = m
		sources = m.SourcePaths()
	}

	if tc.Bundle != nil {
		units, err := capdeps.ParseBundle(tc.Sources[0], tc.Bundle)
		if err != nil {
			return nil, nil, err
		}
		p, err := ir.NewProgram(units...)
		if err != nil {
			return nil, nil, fmt.Errorf("bundle %s: %w", tc.Dir, err)
		}
		return p, manifest, p.Validate()
	}

	p, err := capdeps.LoadProgram(ctx, capdeps.LoaderOptions{Paths: sources})
	return p, manifest, err
}

func caseName(path, root string) string {
	if root == "" {
		return filepath.Base(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.Base(path)
	}
	return rel
}
