package cli

import (
	"github.com/spf13/cobra"

	"github.com/labforge/labctl/internal/prereq"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the external tools are installed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return requireTools(prereq.Terraform, prereq.Ansible, prereq.AWSCLI, prereq.SSH)
	},
}
