package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacquerai/silhouette/internal/config"
)

func Test_Valid(t *testing.T) {
	newSingleDirectoryValidateTest(t, false, "--show-all")
}

func Test_MissingCell(t *testing.T) {
	newSingleDirectoryValidateTest(t, true)
}

func Test_UnknownColumn(t *testing.T) {
	newSingleDirectoryValidateTest(t, true, "--exclude", "nope", "--label", "missing")
}

func newSingleDirectoryValidateTest(t *testing.T, wantErr bool, args ...string) {
	t.Helper()

	directory := testDirectory(t, "validate")
	args = append([]string{"validate", filepath.Join(directory, "data.csv")}, args...)

	stdout, stderr, err := executeCommand(t, args...)
	if wantErr {
		require.Error(t, err)
	} else {
		require.NoError(t, err, "STDOUT: %s\nSTDERR: %s", stdout, stderr)
	}
	assertGoldenFile(t, directory, stdout, stderr)
}

func TestValidate_RecursiveJSON(t *testing.T) {
	stdout, _, err := executeCommand(t, "validate", "--recursive", filepath.Join("testdata", "validate", "recursive"), "--output", "json")
	require.NoError(t, err)

	var summary ValidationSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary), stdout)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Valid)
	assert.Equal(t, 0, summary.Invalid)

	byFile := map[string]ValidationResult{}
	for _, r := range summary.Results {
		byFile[filepath.Base(r.File)] = r
	}

	require.Contains(t, byFile, "a.csv")
	assert.Equal(t, 6, byFile["a.csv"].Rows)
	assert.Equal(t, 2, byFile["a.csv"].Clusters)
	assert.Equal(t, "label", byFile["a.csv"].Label)
	assert.Equal(t, 1, byFile["a.csv"].Features)

	// the last column of b.csv is numeric, so it becomes the label
	require.Contains(t, byFile, "b.csv")
	assert.Equal(t, "y", byFile["b.csv"].Label)
	assert.Equal(t, 2, byFile["b.csv"].Features)
}

func TestValidate_DirectoryNeedsRecursive(t *testing.T) {
	_, _, err := executeCommand(t, "validate", filepath.Join("testdata", "validate", "recursive"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use --recursive")
}

func TestValidate_NotADataset(t *testing.T) {
	_, _, err := executeCommand(t, "validate", filepath.Join("testdata", "validate", "recursive", "nested", "notes.md"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a dataset file")
}

func TestValidateSingleFile(t *testing.T) {
	settings := config.Default()

	result := validateSingleFile(settings, filepath.Join("testdata", "validate", "missing_cell", "data.csv"))
	assert.False(t, result.Valid)
	assert.Len(t, result.Errors, 2, "one error per missing cell")
	assert.Equal(t, 6, result.Rows)
	assert.Positive(t, result.Duration)

	settings.Label = "x"
	result = validateSingleFile(settings, filepath.Join("testdata", "validate", "valid", "data.csv"))
	assert.True(t, result.Valid, "integer labels are allowed: %v", result.Errors)
	assert.Equal(t, 6, result.Clusters)
}
