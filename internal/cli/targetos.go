package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/labforge/labctl/internal/lab"
	"github.com/labforge/labctl/internal/state"
)

var targetOSCmd = &cobra.Command{
	Use:   "target-os [linux|macos|windows]",
	Short: "Select the operating system of the target host",
	Long: `Stores the target operating system. It selects the playbook and inventory
used for the target stage and is passed to provisioning as TF_VAR_target_os.
Without an argument an interactive picker is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTargetOS,
}

// pickTargetOS is swapped in tests.
var pickTargetOS = func(ctx context.Context, current lab.TargetOS) (lab.TargetOS, error) {
	selected := current
	options := make([]huh.Option[lab.TargetOS], 0, len(lab.TargetOSes()))
	for _, t := range lab.TargetOSes() {
		options = append(options, huh.NewOption(string(t), t))
	}

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[lab.TargetOS]().
				Title("Target operating system").
				Description("Playbook and image flavour of the target host").
				Options(options...).
				Value(&selected),
		),
	).RunWithContext(ctx)
	return selected, err
}

func runTargetOS(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := loadLab(ctx)
	if err != nil {
		return err
	}

	current := lab.TargetLinux
	if v, ok, err := state.Get(ctx, env.store, state.KeyTargetOS); err == nil && ok {
		if parsed, err := lab.ParseTargetOS(v); err == nil {
			current = parsed
		}
	}

	var selected lab.TargetOS
	if len(args) == 1 {
		selected, err = lab.ParseTargetOS(args[0])
	} else {
		selected, err = pickTargetOS(ctx, current)
	}
	if err != nil {
		return err
	}

	if err := state.Update(ctx, env.store, map[string]string{state.KeyTargetOS: string(selected)}); err != nil {
		return fmt.Errorf("failed to persist target os: %w", err)
	}

	def := env.cfg.RunDef(lab.RoleTarget, selected)
	out := cmd.OutOrStdout()
	successStyle.Fprintf(out, "%s target os set to %s\n", checkmark, strings.ToLower(string(selected)))
	mutedStyle.Fprintf(out, "  playbook  %s\n  inventory %s\n", def.Playbook, def.Inventory)
	return nil
}
