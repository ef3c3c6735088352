package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/devloop/internal/services"
)

var (
	initMinimal bool
	initForce   bool
)

var initCmd = &cobra.Command{
	Use:     "init [directory]",
	Aliases: []string{"i"},
	Short:   "Write a starter project",
	Long: `Write a .devloop.yml and starter sources for the default script, style
and markup groups. Existing files are left alone unless --force is given.

The script group compiles with elm; run "elm init" in the project before
the first build.

Examples:
  devloop init                    # Initialize the current directory
  devloop init my-app             # Initialize ./my-app
  devloop init --minimal          # Only write .devloop.yml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initMinimal, "minimal", false, "Only write the configuration file")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	result, err := services.NewInitService().InitProject(services.InitOptions{
		ProjectDir: dir,
		Minimal:    initMinimal,
		Force:      initForce,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, name := range result.Created {
		fmt.Fprintf(out, "created  %s\n", name)
	}
	for _, name := range result.Skipped {
		fmt.Fprintf(out, "skipped  %s (exists)\n", name)
	}
	return nil
}
