// Package cmd provides the CLI commands for regcopilot.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ovokpus/regcopilot/internal/config"
	"github.com/ovokpus/regcopilot/internal/profiling"
	"github.com/ovokpus/regcopilot/pkg/version"
)

// Profiling flags
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

// Global configuration flags
var (
	configPath string
	debugMode  bool
)

// NewRootCmd creates the root command for the regcopilot CLI.
func NewRootCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "regcopilot",
		Short: "Retrieval-augmented copilot for regulatory reporting",
		Long: `Regcopilot answers questions about banking regulation (Basel III, COREP,
FINREP) from a preprocessed document corpus plus per-session uploads,
streaming citation-grounded responses over HTTP.

Running 'regcopilot' with no arguments starts the HTTP server.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.SetVersionTemplate("regcopilot version {{.Version}}\n")

	cmd.Flags().IntVar(&opts.port, "port", 0, "Listen port (overrides config and PORT)")
	cmd.Flags().StringVar(&opts.snapshot, "snapshot", "", "Corpus snapshot path (overrides config)")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: discover .regcopilot.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	// Profiling flags
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfiling
	cmd.PersistentPostRunE = stopProfiling

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newPreprocessCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfiling starts CPU/trace profiling if the flags are set.
func startProfiling(_ *cobra.Command, _ []string) error {
	var err error

	if profileCPU != "" {
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
	}

	if profileTrace != "" {
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return fmt.Errorf("failed to start trace: %w", err)
		}
	}

	return nil
}

// stopProfiling stops profiling and writes the memory profile if requested.
func stopProfiling(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}

	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}

	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}

	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig resolves configuration for a command run. An explicit --config
// path (or REGCOPILOT_CONFIG) wins over discovery in the working directory;
// --debug forces debug-level logging on top of whatever was loaded.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("REGCOPILOT_CONFIG")
	}

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load(".")
	}
	if err != nil {
		return nil, err
	}

	if debugMode {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}
