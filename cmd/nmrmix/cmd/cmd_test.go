package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLibrary = `compounds:
  - id: GLC
    name: glucose
    group: D2O
    peaks: [[3.40, 1.0], [3.72, 0.8]]
  - id: ALA
    name: alanine
    group: D2O
    peaks: [[1.47, 1.0], [3.77, 0.3]]
  - id: PHE
    name: phenylalanine
    group: DMSO
    peaks: [[7.32, 1.0], [7.37, 0.9], [3.98, 0.4]]
  - id: GLY
    name: glycine
    group: D2O
    peaks: [[3.55, 1.0]]
  - id: OFF
    name: disabled
    active: false
    peaks: [[3.55, 1.0]]
ignore_regions:
  - {name: water, lower: 4.6, upper: 4.9, scope: ALL}
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	err := rootCmd.Execute()
	return out.String(), err
}

func writeLibrary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "library.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testLibrary), 0o644))
	return path
}

func TestOptimizeCommand(t *testing.T) {
	lib := writeLibrary(t)
	dir := t.TempDir()
	db := filepath.Join(dir, "runs.db")

	out, err := execute(t, "optimize", "-l", lib, "-o", dir, "--db", db,
		"--seed", "5", "--mix-size", "2", "--max-steps", "50", "--start-temp", "100", "--final-temp", "1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Total # of Compounds: 4")
	assert.Contains(t, out, "Total # of Mixtures: 2")
	assert.Contains(t, out, "Run archived as")

	for _, name := range []string{"mixtures.txt", "summary.txt", "results.yaml"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.NotZero(t, info.Size(), name)
	}

	out, err = execute(t, "runs", "list", "--db", db)
	require.NoError(t, err, out)
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "completed")
}

func TestOptimizeRejectsInvalidFlags(t *testing.T) {
	lib := writeLibrary(t)
	_, err := execute(t, "optimize", "-l", lib, "--cooling", "cubic")
	assert.Error(t, err)

	_, err = execute(t, "optimize", "-l", filepath.Join(t.TempDir(), "missing.yaml"), "--cooling", "linear")
	assert.Error(t, err)
}

func TestStatsCommand(t *testing.T) {
	out, err := execute(t, "stats", writeLibrary(t))
	require.NoError(t, err, out)
	assert.Contains(t, out, "GROUP")
	assert.Contains(t, out, "DMSO")
	assert.Contains(t, out, "D2O")
}

func TestRunsRequiresDatabase(t *testing.T) {
	_, err := execute(t, "runs", "list", "--db", "")
	assert.Error(t, err)
}
