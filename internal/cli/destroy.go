package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labforge/labctl/internal/lab"
	"github.com/labforge/labctl/internal/prereq"
)

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Tear down the lab infrastructure",
	Args:  cobra.NoArgs,
	RunE:  runDestroy,
}

var resetNoConfigure bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Destroy the lab and provision it again",
	Long: `Destroys the lab, then provisions and configures it as apply does.
Persisted snapshot images are substituted in, so a reset lab starts from the
last captured state of each host.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetNoConfigure, "no-configure", false, "Provision only, skip host configuration")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := loadLab(ctx)
	if err != nil {
		return err
	}
	if err := requireTools(prereq.Terraform); err != nil {
		return err
	}

	if err := env.terraform.Init(ctx); err != nil {
		return fmt.Errorf("terraform init failed: %w", err)
	}
	if err := env.terraform.Destroy(ctx, env.substitutions(ctx)); err != nil {
		return fmt.Errorf("terraform destroy failed: %w", err)
	}
	successStyle.Fprintln(cmd.OutOrStdout(), "\nLab destroyed.")
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	env, err := loadLab(ctx)
	if err != nil {
		return err
	}

	tools := []prereq.Tool{prereq.Terraform}
	if !resetNoConfigure {
		tools = append(tools, stageTools(lab.SelectAll)...)
	}
	if err := requireTools(tools...); err != nil {
		return err
	}

	if err := env.terraform.Init(ctx); err != nil {
		return fmt.Errorf("terraform init failed: %w", err)
	}
	if err := env.terraform.Destroy(ctx, env.substitutions(ctx)); err != nil {
		return fmt.Errorf("terraform destroy failed: %w", err)
	}
	if err := env.provision(ctx, out); err != nil {
		return err
	}
	if resetNoConfigure {
		return nil
	}
	return env.configure(ctx, out, lab.SelectAll)
}
