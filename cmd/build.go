package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/devloop/internal/services"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Clean build of every asset group without serving",
	Long: `Wipe the destination directory and compile every asset group in parallel,
then print each produced file with its content digest.

Examples:
  devloop build                   # Build into dist
  devloop build --config ci.yml   # Build with another configuration`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}

	tracing, flush := newTracerProvider(cfg, logger)
	defer flush()

	svc, err := services.NewBuildService(cfg, services.Options{Logger: logger, TracerProvider: tracing})
	if err != nil {
		return err
	}

	result, err := svc.Build(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, file := range result.Files() {
		fmt.Fprintf(out, "%016x  %s\n", result.Outputs[file], file)
	}
	fmt.Fprintf(out, "built %d files into %s in %s\n", len(result.Outputs), cfg.Dist, result.Duration.Round(1e6))
	return nil
}
