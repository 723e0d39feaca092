package cmd

import (
	"fmt"
	"os"

	"github.com/justakazh/ewe/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Global flags
	verbose    bool
	configFile string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "ewe",
	Short: "EWE - Execution Workflow Engine",
	Long: `EWE runs a tree of shell commands against a target.

A workflow is a JSON or YAML file of named tasks. Root tasks start together,
children start when their parent finishes, and a task marked wait_all waits
for every task one level above it. Commands may use {target}, {output_path},
{result} and {parent_result} placeholders.

Progress is written to <output>/logs/logs.json while the run is going.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExitError ends the process with Code without printing an error message.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ~/.ewe/config.toml and ./.ewe/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("ewe {{.Version}}\n")
}

// loadConfig loads defaults, global, project and --config files in order,
// then applies global flags.
func loadConfig() (*config.Config, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	cfg, err := config.LoadFromDir(dir, configFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = config.LogLevelDebug
	}
	if noColor || os.Getenv("NO_COLOR") != "" {
		cfg.Display.NoColor = true
	}
	return cfg, nil
}
