// Package prereq checks that the external tools the orchestrator shells out to are installed.
package prereq

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/labforge/labctl/internal/runner"
)

// Tool is a binary that may be required on PATH.
type Tool struct {
	Name        string
	Required    bool
	Description string
	InstallURL  string
}

var (
	Terraform = Tool{
		Name:        "terraform",
		Required:    true,
		Description: "Provisions the lab infrastructure",
		InstallURL:  "https://developer.hashicorp.com/terraform/install",
	}
	Ansible = Tool{
		Name:        "ansible-playbook",
		Required:    true,
		Description: "Configures the lab hosts",
		InstallURL:  "https://docs.ansible.com/ansible/latest/installation_guide/",
	}
	AWSCLI = Tool{
		Name:        "aws",
		Required:    true,
		Description: "Creates machine images from running instances",
		InstallURL:  "https://docs.aws.amazon.com/cli/latest/userguide/getting-started-install.html",
	}
	SSH = Tool{
		Name:        "ssh",
		Required:    true,
		Description: "Tunnels configuration runs through the pivot host",
		InstallURL:  "https://www.openssh.com/",
	}
)

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// CheckResult is the outcome for a single tool.
type CheckResult struct {
	Tool  Tool
	Found bool
	Path  string
}

// CheckResults aggregates the outcome of a Check call.
type CheckResults struct {
	Results []CheckResult
	Missing []Tool
}

// Err returns an error wrapping runner.ErrToolMissing when any required tool is absent.
func (r *CheckResults) Err() error {
	var missing []string
	for _, tool := range r.Missing {
		if tool.Required {
			missing = append(missing, fmt.Sprintf("%s (%s)", tool.Name, tool.InstallURL))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", runner.ErrToolMissing, strings.Join(missing, ", "))
}

// Check looks up each tool on PATH.
func Check(tools ...Tool) *CheckResults {
	results := &CheckResults{}
	for _, tool := range tools {
		result := CheckResult{Tool: tool}
		if path, err := lookPath(tool.Name); err == nil {
			result.Found = true
			result.Path = path
		} else {
			results.Missing = append(results.Missing, tool)
		}
		results.Results = append(results.Results, result)
	}
	return results
}

// Require checks the tools, prints a line per tool and returns the aggregate error.
func Require(tools ...Tool) error {
	results := Check(tools...)
	for _, r := range results.Results {
		if r.Found {
			fmt.Printf("%s is installed (%s)\n", r.Tool.Name, r.Path)
		} else {
			fmt.Printf("%s is not installed: %s. See %s\n", r.Tool.Name, r.Tool.Description, r.Tool.InstallURL)
		}
	}
	return results.Err()
}
