// Package proxy builds the SSH jump-host parameters that let a configuration
// run reach hosts with no direct route by tunnelling through the pivot host.
package proxy

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

// ExtraVar is the configuration-runner variable that carries the proxy.
const ExtraVar = "ansible_ssh_common_args"

// The lab is ephemeral and its host keys are self-signed.
var hostKeyOpts = []string{
	"-o", "StrictHostKeyChecking=no",
	"-o", "UserKnownHostsFile=/dev/null",
}

// Spec describes one jump through the pivot host.
type Spec struct {
	JumpAddress string
	JumpUser    string
	JumpKeyPath string

	// Template is the ProxyCommand; %h and %p are filled in by ssh.
	Template string
}

// Build returns the proxy for reaching hosts behind pivotUser@pivotAddress.
func Build(pivotAddress, pivotUser, privateKeyPath string) (Spec, error) {
	switch {
	case pivotAddress == "":
		return Spec{}, fmt.Errorf("proxy requires a pivot address")
	case pivotUser == "":
		return Spec{}, fmt.Errorf("proxy requires a pivot user")
	case privateKeyPath == "":
		return Spec{}, fmt.Errorf("proxy requires a private key path")
	}

	args := []string{"ssh"}
	args = append(args, hostKeyOpts...)
	args = append(args, "-i", privateKeyPath, "-W", "%h:%p", "-q", pivotUser+"@"+pivotAddress)

	return Spec{
		JumpAddress: pivotAddress,
		JumpUser:    pivotUser,
		JumpKeyPath: privateKeyPath,
		Template:    shellquote.Join(args...),
	}, nil
}

// CommonArgs renders the ssh arguments the configuration runner appends to
// every connection it opens.
func (s Spec) CommonArgs() string {
	parts := []string{fmt.Sprintf("-o ProxyCommand=%q", s.Template)}
	for i := 0; i < len(hostKeyOpts); i += 2 {
		parts = append(parts, hostKeyOpts[i]+" "+hostKeyOpts[i+1])
	}
	return strings.Join(parts, " ")
}

// ExtraVars returns the runner variables that apply the proxy.
func (s Spec) ExtraVars() map[string]string {
	return map[string]string{ExtraVar: s.CommonArgs()}
}
