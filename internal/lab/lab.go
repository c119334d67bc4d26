// Package lab holds the plain data types shared by the orchestrator packages.
package lab

import (
	"fmt"
	"strings"
)

// Role identifies one of the three lab hosts.
type Role string

const (
	RolePivot   Role = "pivot"
	RoleLogging Role = "logging"
	RoleTarget  Role = "target"
)

// Roles returns every role in configuration order.
func Roles() []Role {
	return []Role{RolePivot, RoleLogging, RoleTarget}
}

// ParseRole accepts a role name. "attacker" is an alias for the pivot host.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pivot", "attacker":
		return RolePivot, nil
	case "logging", "logging_machine":
		return RoleLogging, nil
	case "target":
		return RoleTarget, nil
	}
	return "", fmt.Errorf("unknown role %q (expected pivot, logging or target)", s)
}

// TargetOS is the operating-system flavour of the target host.
type TargetOS string

const (
	TargetLinux   TargetOS = "linux"
	TargetMacOS   TargetOS = "macos"
	TargetWindows TargetOS = "windows"
)

// TargetOSes lists the supported target flavours.
func TargetOSes() []TargetOS {
	return []TargetOS{TargetLinux, TargetMacOS, TargetWindows}
}

// ParseTargetOS validates an operating-system name.
func ParseTargetOS(s string) (TargetOS, error) {
	switch TargetOS(strings.ToLower(strings.TrimSpace(s))) {
	case TargetLinux:
		return TargetLinux, nil
	case TargetMacOS:
		return TargetMacOS, nil
	case TargetWindows:
		return TargetWindows, nil
	}
	return "", fmt.Errorf("unknown target os %q (expected linux, macos or windows)", s)
}

// Selector picks which roles a run covers.
type Selector string

const SelectAll Selector = "all"

// ParseSelector accepts a role name or "all".
func ParseSelector(s string) (Selector, error) {
	if strings.EqualFold(strings.TrimSpace(s), string(SelectAll)) {
		return SelectAll, nil
	}
	role, err := ParseRole(s)
	if err != nil {
		return "", fmt.Errorf("unknown selector %q (expected pivot, logging, target or all)", s)
	}
	return Selector(role), nil
}

// Roles expands the selector into the roles it covers, in run order.
func (s Selector) Roles() []Role {
	if s == SelectAll {
		return Roles()
	}
	return []Role{Role(s)}
}

// Provenance records where a resolved address came from.
type Provenance string

const (
	SourceLive      Provenance = "live"
	SourcePersisted Provenance = "persisted"
)

// ResolvedAddress is a role's reachable address and its source.
type ResolvedAddress struct {
	Role    Role
	Address string
	Source  Provenance
}
