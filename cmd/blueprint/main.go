// Command blueprint tracks how notebooks in Git repositories read and write
// datasets. It serves the push webhook and lineage API, and imports or
// parses commits from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/statisticsnorway/blueprint/config"
)

// Version is the build version; the configured version overrides it in
// health responses.
var Version = "0.1.0"

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "blueprint",
		Short:         "Blueprint - dataset lineage for notebooks in Git",
		Long:          `Blueprint follows the notebooks of Git repositories commit by commit and records which datasets each notebook reads and writes.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("BLUEPRINT_CONFIG"), "YAML config file; environment variables override it")

	root.AddCommand(
		newServeCmd(opts),
		newImportCmd(opts),
		newParseCmd(opts),
		newPurgeCmd(opts),
		newVersionCmd(),
	)
	return root
}

func (o *options) load() (*config.Config, error) {
	return config.Load(o.configPath)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "blueprint %s\n", Version)
		},
	}
}
