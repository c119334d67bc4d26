package cli

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/labforge/labctl/internal/logging"
	"github.com/labforge/labctl/internal/prereq"
	"github.com/labforge/labctl/internal/state"
)

var updateIPApply bool

var updateIPCmd = &cobra.Command{
	Use:   "update-ip [address]",
	Short: "Record the operator's public address for the lab firewall",
	Long: `Detects the operator's public address and stores it as ssh_client_ip.
An explicit address takes precedence over the detected one; a mismatch is
reported as a warning. With --apply, only the client firewall resource is
re-provisioned so the new address takes effect.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUpdateIP,
}

func init() {
	updateIPCmd.Flags().BoolVar(&updateIPApply, "apply", false, "Re-provision the client firewall resource afterwards")
}

func runUpdateIP(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var manual string
	if len(args) == 1 {
		manual = args[0]
		if net.ParseIP(manual) == nil {
			return fmt.Errorf("invalid ip address %q", manual)
		}
	}

	env, err := loadLab(ctx)
	if err != nil {
		return err
	}
	if updateIPApply {
		if err := requireTools(prereq.Terraform); err != nil {
			return err
		}
	}

	address, err := chooseClientIP(manual, func() (string, error) {
		return newDetector().Detect(ctx)
	})
	if err != nil {
		return err
	}
	if address == "" {
		fmt.Fprintln(out, "Could not determine the public ip address; nothing changed.")
		return nil
	}

	if err := state.Update(ctx, env.store, map[string]string{state.KeyClientIP: address}); err != nil {
		return fmt.Errorf("failed to persist client address: %w", err)
	}
	successStyle.Fprintf(out, "%s %s = %s\n", checkmark, state.KeyClientIP, address)

	if !updateIPApply {
		return nil
	}
	if err := env.terraform.Init(ctx); err != nil {
		return fmt.Errorf("terraform init failed: %w", err)
	}
	vars := env.substitutions(ctx)
	vars["TF_VAR_"+state.KeyClientIP] = address
	if err := env.terraform.Apply(ctx, vars, env.cfg.ClientIPResource); err != nil {
		return fmt.Errorf("terraform apply failed: %w", err)
	}
	return nil
}

// chooseClientIP reconciles a manual address with the detected one. The
// manual value wins. An empty result with a nil error means neither exists.
func chooseClientIP(manual string, detect func() (string, error)) (string, error) {
	detected, err := detect()
	if err != nil {
		if manual != "" {
			logging.Warn("public ip detection failed, using the given address", "address", manual, "error", err)
			return manual, nil
		}
		logging.Error("public ip detection failed", "error", err)
		return "", nil
	}

	if manual == "" {
		logging.Info("detected public ip", "address", detected)
		return detected, nil
	}
	if manual != detected {
		logging.Warn("given address differs from the detected public ip", "given", manual, "detected", detected)
	}
	return manual, nil
}
