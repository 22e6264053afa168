package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/nmrmix/internal/optimization"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"DB_TYPE": DatabaseNone})
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Empty(t, cfg.Database.DSN)
	assert.Equal(t, 256, cfg.Optimization.EventBuffer)

	params, err := cfg.Optimizer.Parameters()
	require.NoError(t, err)
	assert.Equal(t, optimization.DefaultParameters(), params)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"ENV":                     "production",
		"DB_DSN":                  "file::memory:",
		"OPT_WORKER_COUNT":        "3",
		"NMRMIX_MIX_SIZE":         "4",
		"NMRMIX_PEAK_RANGE":       "0.05",
		"NMRMIX_COOLING":          "Linear",
		"NMRMIX_REFINE_MAX_STEPS": "250",
		"NMRMIX_USE_GROUP":        "true",
		"NMRMIX_SEED":             "7",
	})
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "file::memory:", cfg.Database.DSN)
	assert.Equal(t, 3, cfg.Optimization.WorkerCount)

	params, err := cfg.Optimizer.Parameters()
	require.NoError(t, err)
	assert.Equal(t, 4, params.MixSize)
	assert.Equal(t, 0.05, params.PeakRange)
	assert.Equal(t, optimization.LinearCooling, params.Anneal.Cooling)
	assert.Equal(t, 250, params.Refine.MaxSteps)
	assert.True(t, params.UseGroup)
	assert.Equal(t, int64(7), params.Seed)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		environ map[string]string
	}{
		{"not a number", map[string]string{"DB_TYPE": DatabaseNone, "NMRMIX_MIX_SIZE": "five"}},
		{"out of range", map[string]string{"DB_TYPE": DatabaseNone, "NMRMIX_MIX_SIZE": "0"}},
		{"unknown cooling", map[string]string{"DB_TYPE": DatabaseNone, "NMRMIX_COOLING": "cubic"}},
		{"unknown database", map[string]string{"DB_TYPE": "postgres"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.environ)
			assert.Error(t, err)
		})
	}
}

func TestLoadOptimizer(t *testing.T) {
	t.Setenv("NMRMIX_ITERATIONS", "4")
	t.Setenv("NMRMIX_DELTA_MODE", "FIXED")

	params, err := LoadOptimizer()
	require.NoError(t, err)
	assert.Equal(t, 4, params.Iterations)
	assert.Equal(t, optimization.DeltaFixed, params.DeltaMode)
	assert.Equal(t, 5, params.MixSize)
}
