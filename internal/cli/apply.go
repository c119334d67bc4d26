package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/labforge/labctl/internal/lab"
	"github.com/labforge/labctl/internal/prereq"
)

var applyNoConfigure bool

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Provision the lab and configure every host",
	Long: `Initializes terraform if needed, provisions the lab with any persisted
snapshot images substituted in, prints the provisioning outputs and then
configures the pivot, logging and target hosts in that order.`,
	Args: cobra.NoArgs,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyNoConfigure, "no-configure", false, "Provision only, skip host configuration")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	env, err := loadLab(ctx)
	if err != nil {
		return err
	}

	tools := []prereq.Tool{prereq.Terraform}
	if !applyNoConfigure {
		tools = append(tools, stageTools(lab.SelectAll)...)
	}
	if err := requireTools(tools...); err != nil {
		return err
	}

	if err := env.provision(ctx, out); err != nil {
		return err
	}

	if applyNoConfigure {
		fmt.Fprintln(out, "\nSkipping host configuration.")
		return nil
	}
	return env.configure(ctx, out, lab.SelectAll)
}

// provision runs init and apply, then prints the outputs.
func (e *labEnv) provision(ctx context.Context, out io.Writer) error {
	if err := e.terraform.Init(ctx); err != nil {
		return fmt.Errorf("terraform init failed: %w", err)
	}

	vars := e.substitutions(ctx)
	if err := e.terraform.Apply(ctx, vars); err != nil {
		return fmt.Errorf("terraform apply failed: %w", err)
	}

	raw, err := e.terraform.RawOutputs(ctx)
	if err != nil {
		return fmt.Errorf("failed to read terraform outputs: %w", err)
	}
	headerStyle.Fprintln(out, "\nOutputs:")
	fmt.Fprintln(out, string(raw))
	return nil
}
