package cli

import (
	"fmt"
	"os"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"github.com/labforge/labctl/internal/lab"
	"github.com/labforge/labctl/internal/remote"
)

var shellPort int

var shellCmd = &cobra.Command{
	Use:   "shell [-- command...]",
	Short: "Open a shell on the pivot host",
	Long: `Connects to the pivot host with the operator key. Without a command an
interactive session is opened; otherwise the command runs remotely and its
output is printed.`,
	RunE: runShell,
}

func init() {
	shellCmd.Flags().IntVar(&shellPort, "port", 22, "SSH port of the pivot host")
}

func runShell(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := loadLab(ctx)
	if err != nil {
		return err
	}

	pivot, err := env.resolver().Resolve(ctx, lab.RolePivot)
	if err != nil {
		return err
	}

	keyPath := env.cfg.KeyPath(env.cfg.SSH.UserToAttacker)
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("failed to read private key %s: %w", keyPath, err)
	}

	client, err := remote.NewClient(remote.Config{
		Host:       pivot.Address,
		Port:       shellPort,
		User:       env.cfg.Pivot.User,
		PrivateKey: key,
		Passphrase: env.cfg.SSH.UserToAttacker.Passphrase,
	})
	if err != nil {
		return err
	}

	if len(args) == 0 {
		mutedStyle.Fprintf(cmd.ErrOrStderr(), "Connecting to %s@%s\n", env.cfg.Pivot.User, client.Address())
		return client.Shell(ctx, os.Stdin, cmd.OutOrStdout(), cmd.ErrOrStderr())
	}

	command := shellquote.Join(args...)
	if len(args) == 1 {
		command = args[0]
	}
	output, err := client.Execute(ctx, command)
	fmt.Fprint(cmd.OutOrStdout(), output)
	return err
}
