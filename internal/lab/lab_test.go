package lab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		input    string
		expected Role
	}{
		{"pivot", RolePivot},
		{"attacker", RolePivot},
		{"Logging", RoleLogging},
		{"logging_machine", RoleLogging},
		{" target ", RoleTarget},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			role, err := ParseRole(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, role)
		})
	}

	_, err := ParseRole("database")
	assert.Error(t, err)
}

func TestParseSelector(t *testing.T) {
	sel, err := ParseSelector("all")
	require.NoError(t, err)
	assert.Equal(t, []Role{RolePivot, RoleLogging, RoleTarget}, sel.Roles())

	sel, err = ParseSelector("attacker")
	require.NoError(t, err)
	assert.Equal(t, []Role{RolePivot}, sel.Roles())

	_, err = ParseSelector("everything")
	assert.Error(t, err)
}

func TestParseTargetOS(t *testing.T) {
	for _, os := range TargetOSes() {
		got, err := ParseTargetOS(string(os))
		require.NoError(t, err)
		assert.Equal(t, os, got)
	}

	got, err := ParseTargetOS("MacOS")
	require.NoError(t, err)
	assert.Equal(t, TargetMacOS, got)

	_, err = ParseTargetOS("solaris")
	assert.Error(t, err)
}
