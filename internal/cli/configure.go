package cli

import (
	"github.com/spf13/cobra"

	"github.com/labforge/labctl/internal/lab"
)

var configureCmd = &cobra.Command{
	Use:     "configure <pivot|logging|target|all>",
	Aliases: []string{"stage"},
	Short:   "Run the configuration playbooks against provisioned hosts",
	Long: `Configures the selected hosts. The pivot host is configured directly after
its inventory entry is pointed at the current address; the logging and target
hosts are configured through an SSH jump via the pivot.

The pivot address comes from live provisioning outputs when available and
from persisted state otherwise.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigure,
}

func runConfigure(cmd *cobra.Command, args []string) error {
	sel, err := lab.ParseSelector(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	env, err := loadLab(ctx)
	if err != nil {
		return err
	}
	if err := requireTools(stageTools(sel)...); err != nil {
		return err
	}
	return env.configure(ctx, cmd.OutOrStdout(), sel)
}
