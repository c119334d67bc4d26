package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labforge/labctl/internal/config"
	"github.com/labforge/labctl/internal/keygen"
	"github.com/labforge/labctl/internal/state"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create the lab SSH key pairs",
	Long: `Creates the operator-to-pivot and internal lab key pairs in the configured
keys directory. A pair is left untouched when either of its files exists.
The key locations are recorded in state.`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

func runKeygen(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	env, err := loadLab(ctx)
	if err != nil {
		return err
	}

	updates := make(map[string]string)
	for _, spec := range []config.KeySpec{env.cfg.SSH.UserToAttacker, env.cfg.SSH.InternalLab} {
		path := env.cfg.KeyPath(spec)
		created, err := keygen.Ensure(path, keygen.Spec{
			Type:       spec.Type,
			Passphrase: spec.Passphrase,
			Comment:    spec.Comment,
		})
		if err != nil {
			return fmt.Errorf("failed to create key %s: %w", spec.Name, err)
		}
		if created {
			successStyle.Fprintf(out, "%s created %s\n", checkmark, path)
		} else {
			mutedStyle.Fprintf(out, "  %s already exists, skipping\n", path)
		}
		updates[spec.Name+"_private_key"] = path
		updates[spec.Name+"_public_key"] = keygen.PublicPath(path)
	}

	if err := state.Update(ctx, env.store, updates); err != nil {
		return fmt.Errorf("failed to record key paths: %w", err)
	}
	return nil
}
