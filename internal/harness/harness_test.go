package harness

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAll runs all scenario tests.
func TestAll(t *testing.T) {
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "get current file path")

	harnessDir := filepath.Dir(filename)
	testdataDir := filepath.Join(harnessDir, "..", "..", "testdata")

	testCases := discoverTestCases(t, testdataDir)
	require.NotEmpty(t, testCases, "no test cases found")

	if testing.Verbose() {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	for _, tc := range testCases {
		t.Run(tc.Dir, func(t *testing.T) {
			t.Parallel()

			if tc.Manifest != "" {
				t.Logf("Manifest: %s", filepath.Base(tc.Manifest))
			}

			result := NewHarness(testdataDir).Run(t, tc)
			if !result.Success {
				t.Errorf("Test failed: %s", result.Message)
			}
		})
	}
}

func discoverTestCases(t *testing.T, root string) []*TestCase {
	t.Helper()

	entries, err := os.ReadDir(root)
	require.NoError(t, err)

	var testCases []*TestCase
	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())

		if !entry.IsDir() {
			if strings.HasSuffix(entry.Name(), ".txtar") {
				testCases = append(testCases, LoadBundleCase(t, path, root))
			}
			continue
		}

		// Check if this directory has an expected.yaml.
		if _, err := os.Stat(filepath.Join(path, expectedFile)); err == nil {
			testCases = append(testCases, LoadTestCase(t, path, root))
		}
	}

	return testCases
}

func TestValidateResults(t *testing.T) {
	tests := []struct {
		name        string
		expected    []string
		actual      []string
		wantSuccess bool
		wantDetails []string
	}{
		{
			name:        "match ignores order and duplicates",
			expected:    []string{"b", "a"},
			actual:      []string{"a", "b", "a"},
			wantSuccess: true,
		},
		{
			name:        "missing and unexpected",
			expected:    []string{"a", "c"},
			actual:      []string{"a", "b"},
			wantSuccess: false,
			wantDetails: []string{
				"Should have been required: c",
				"Should not have been required: b",
			},
		},
		{
			name:        "both empty",
			wantSuccess: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &ConfigurationResult{Success: true}
			validateResults(r, "required", tt.expected, tt.actual)
			assert.Equal(t, tt.wantSuccess, r.Success)
			assert.Equal(t, tt.wantDetails, r.Details)
		})
	}
}
