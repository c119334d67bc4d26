package cli

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/labforge/labctl/internal/logging"
)

var (
	projectDir string
	configFile string
	logLevel   string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "labctl",
	Short: "Provision and configure a three-host security lab",
	Long: `labctl drives terraform, ansible-playbook and the aws CLI to build a lab of
three hosts: a pivot host reachable from the operator, a logging host and a
target host that are only reachable through the pivot.

It provisions the infrastructure, configures each host in order, tunnels
configuration of the private hosts through the pivot, and captures machine
images so the next lab starts from a configured state.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}
		logging.Init(logLevel, noColor)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	level := os.Getenv("LABCTL_LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	rootCmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "Lab project directory")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Lab definition file (default <dir>/lab.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", level, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(configureCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(updateIPCmd)
	rootCmd.AddCommand(targetOSCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}
