// cmd/comfyx/main.go
//
// This is the entry point for the comfyx CLI.
// Running `comfyx` with no arguments opens the interactive menu; the
// subcommands run the same intents headless for scripts and CI.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	projectDir string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "comfyx",
	Short: "comfyx - archive, export and package a macOS app",
	Long: `comfyx drives xcodebuild and create-dmg for one project.

All generated files live under ComfyXData/ in the project directory:
Archive, Export, Logs and Updates. Build settings are read from
config/comfyx.ini and application settings from config/comfyx.yaml.

Run without arguments to start the interactive menu.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runInteractive,
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Archive the project and export the app",
	Args:  cobra.NoArgs,
	RunE:  runBuild,
}

var packageCmd = &cobra.Command{
	Use:   "package",
	Short: "Copy the exported app and create the disk image",
	Args:  cobra.NoArgs,
	RunE:  runPackage,
}

var cleanCmd = &cobra.Command{
	Use:       "clean [archive|package|all]",
	Short:     "Delete generated folders inside ComfyXData",
	Long:      "Deletes Archive and Export (archive), Updates (package) or all three. Folders holding source or project files are never deleted.",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"archive", "package", "all"},
	RunE:      runClean,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the build configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report which operations the configuration is ready for",
	Args:  cobra.NoArgs,
	RunE:  runConfigCheck,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create ComfyXData/ and default config files",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", "", "project directory (default: current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug-level diagnostics in ComfyXData/Logs/comfyx.log")

	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(buildCmd, packageCmd, cleanCmd, configCmd, initCmd)
}

// exitCodeError carries a nonzero operation exit code out of a command.
type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("operation failed with exit code %d", e.code)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit exitCodeError
		if errors.As(err, &exit) {
			if exit.code < 0 {
				os.Exit(1)
			}
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
