package cli

import (
	"github.com/spf13/cobra"

	"github.com/labforge/labctl/internal/config"
	"github.com/labforge/labctl/internal/lab"
	"github.com/labforge/labctl/internal/prereq"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <pivot|logging|target|all>",
	Short: "Capture machine images of running hosts",
	Long: `Creates a machine image of each selected host's running instance without
rebooting it and records the image id. The next apply or reset provisions the
host from that image. Snapshotting a host again replaces its record.`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshot,
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	sel, err := lab.ParseSelector(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	env, err := loadLab(ctx)
	if err != nil {
		return err
	}

	tools := []prereq.Tool{prereq.Terraform}
	if env.cfg.ImageBackend == config.ImageBackendCLI {
		tools = append(tools, prereq.AWSCLI)
	}
	if err := requireTools(tools...); err != nil {
		return err
	}

	mgr, err := env.snapshots(ctx)
	if err != nil {
		return err
	}
	results, err := mgr.SnapshotAll(ctx, sel)
	printSnapshotSummary(cmd.OutOrStdout(), results)
	return err
}
