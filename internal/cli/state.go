package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/labforge/labctl/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and edit persisted lab state",
	Long: `Commands for inspecting and modifying the persisted state: resolved
addresses, the selected target OS, the operator address and key locations.`,
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted keys and values",
	Args:  cobra.NoArgs,
	RunE:  runStateList,
}

var stateGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a single value",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateGet,
}

var stateSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a single value, keeping every other key",
	Args:  cobra.ExactArgs(2),
	RunE:  runStateSet,
}

var statePushCmd = &cobra.Command{
	Use:   "push",
	Short: "Copy the local state file to the S3 bucket",
	Args:  cobra.NoArgs,
	RunE:  runStatePush,
}

var statePullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Copy the state object from the S3 bucket to the local file",
	Args:  cobra.NoArgs,
	RunE:  runStatePull,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateGetCmd)
	stateCmd.AddCommand(stateSetCmd)
	stateCmd.AddCommand(statePushCmd)
	stateCmd.AddCommand(statePullCmd)
}

// newRemoteBackend is swapped in tests.
var newRemoteBackend = func(ctx context.Context, cfg state.BackendConfig) (state.Backend, error) {
	b, err := state.NewS3Backend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func runStateList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := loadLab(ctx)
	if err != nil {
		return err
	}

	s, err := env.store.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(s) == 0 {
		fmt.Fprintln(out, "State is empty.")
		return nil
	}
	for _, k := range s.Keys() {
		fmt.Fprintf(out, "%s = %s\n", k, formatValue(s[k]))
	}
	return nil
}

func runStateGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := loadLab(ctx)
	if err != nil {
		return err
	}

	s, err := env.store.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	v, ok := s[args[0]]
	if !ok {
		return fmt.Errorf("key %q not found in state", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatValue(v))
	return nil
}

func runStateSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := loadLab(ctx)
	if err != nil {
		return err
	}

	if err := state.Update(ctx, env.store, map[string]string{args[0]: args[1]}); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Set %s\n", args[0])
	return nil
}

func runStatePush(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	local, remote, location, err := mirrorBackends(ctx)
	if err != nil {
		return err
	}
	if err := copyState(ctx, local, remote); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pushed state to %s\n", location)
	return nil
}

func runStatePull(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	local, remote, location, err := mirrorBackends(ctx)
	if err != nil {
		return err
	}
	if err := copyState(ctx, remote, local); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pulled state from %s\n", location)
	return nil
}

// mirrorBackends returns the local state file and the S3 object configured
// under state.bucket, whichever of the two is the primary backend.
func mirrorBackends(ctx context.Context) (state.Backend, state.Backend, string, error) {
	env, err := loadLab(ctx)
	if err != nil {
		return nil, nil, "", err
	}

	cfg := env.cfg.StateBackend()
	if cfg.Bucket == "" {
		return nil, nil, "", fmt.Errorf("state.bucket must be set in the lab definition to push or pull state")
	}

	localPath := env.cfg.State.Path
	if localPath == "" {
		localPath = filepath.Join(".labctl", "state.json")
	}
	local := state.NewManager(env.cfg.Path(localPath))

	cfg.Type = "s3"
	remote, err := newRemoteBackend(ctx, cfg)
	if err != nil {
		return nil, nil, "", err
	}

	location := "s3://" + cfg.Bucket
	if l, ok := remote.(interface{ Location() string }); ok {
		location = l.Location()
	}
	return local, remote, location, nil
}

// copyState merges src over dst so keys only present in dst survive.
func copyState(ctx context.Context, src, dst state.Backend) error {
	s, err := src.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	current, err := dst.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	for k, v := range s {
		current[k] = v
	}
	if err := dst.Write(ctx, current); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
