// Package cmd provides CLI command implementations
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/nmrmix/internal/library"
	"github.com/copyleftdev/nmrmix/internal/logging"
)

var (
	// Global flags
	logLevel  string
	logFormat string
	dbPath    string
)

var rootCmd = &cobra.Command{
	Use:   "nmrmix",
	Short: "nmrmix - NMR compound mixture optimizer",
	Long: `nmrmix partitions a library of compounds into mixtures whose NMR peaks
overlap as little as possible.

Mixtures are optimized by simulated annealing with an optional low
temperature refinement pass, per group when requested. Results can be
written as text and YAML reports and archived in a SQLite run store.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite run store (disabled if empty)")

	rootCmd.AddCommand(optimizeCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(runsCmd)
}

// newLogger creates the stderr logger shared by every command.
func newLogger() (*logging.Logger, error) {
	cfg := logging.DefaultConfig()
	cfg.Level = logLevel
	cfg.Format = logFormat
	return logging.NewLogger(cfg)
}

// loadLibrary reads a YAML or JSON library document.
func loadLibrary(path string, logger *logging.Logger) (*library.Library, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open library: %w", err)
	}
	defer f.Close()

	lib, adjustments, err := library.Load(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load library %s: %w", path, err)
	}
	for _, line := range adjustments {
		logger.Warn("ignore region adjusted", map[string]interface{}{"detail": line})
	}
	logger.Info("library loaded", map[string]interface{}{
		"path":      path,
		"compounds": lib.Len(),
		"inactive":  len(lib.InactiveIDs()),
		"ignored":   len(lib.IgnoredIDs()),
	})
	return lib, nil
}
