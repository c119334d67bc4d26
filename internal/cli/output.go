package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labforge/labctl/internal/prereq"
)

var outputJSON bool

var outputCmd = &cobra.Command{
	Use:   "output [name]",
	Short: "Show provisioning output values",
	Long: `Reads the live provisioning outputs.

If no name is given, all outputs are displayed. If a name is given,
only that output's value is printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOutput,
}

func init() {
	outputCmd.Flags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
}

func runOutput(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	env, err := loadLab(ctx)
	if err != nil {
		return err
	}
	if err := requireTools(prereq.Terraform); err != nil {
		return err
	}

	outputs, err := env.terraform.Outputs(ctx)
	if err != nil {
		return fmt.Errorf("failed to read terraform outputs: %w", err)
	}

	if len(args) > 0 {
		name := args[0]
		o, ok := outputs[name]
		if !ok {
			return fmt.Errorf("output %q not found", name)
		}
		if outputJSON {
			data, err := json.Marshal(o.Value)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
		} else {
			fmt.Fprintln(out, o.Value)
		}
		return nil
	}

	if len(outputs) == 0 {
		fmt.Fprintln(out, "No outputs defined.")
		return nil
	}

	if outputJSON {
		data, err := json.MarshalIndent(outputs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	for _, k := range outputs.Keys() {
		o := outputs[k]
		if o.Sensitive {
			fmt.Fprintf(out, "%s = <sensitive>\n", k)
			continue
		}
		fmt.Fprintf(out, "%s = %v\n", k, o.Value)
	}
	return nil
}
