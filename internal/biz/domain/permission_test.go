package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_CanExecute_BlacklistBeatsWhitelist(t *testing.T) {
	p := NewPolicy(PolicyConfig{
		UseWhitelist: true,
		UseBlacklist: true,
		Whitelisted:  []string{"ou_a"},
		Blacklisted:  []string{"ou_a"},
		Users:        []PermissionUser{{ID: "ou_a", Nodes: []string{"*"}}},
	})

	assert.False(t, p.CanExecute("ou_a", "cloudnet.command.list"))
}

func TestPolicy_CanExecute_WhitelistGate(t *testing.T) {
	p := NewPolicy(PolicyConfig{
		UseWhitelist: true,
		Whitelisted:  []string{"ou_a"},
		Users:        []PermissionUser{{ID: DefaultUserID, Nodes: []string{"*"}}},
	})

	assert.True(t, p.CanExecute("ou_a", "cloudnet.command.list"))
	assert.False(t, p.CanExecute("ou_b", "cloudnet.command.list"))
}

func TestPolicy_CanExecute_WildcardWithNegation(t *testing.T) {
	p := NewPolicy(PolicyConfig{
		Users: []PermissionUser{{ID: "ou_a", Nodes: []string{"*", "-a.b"}}},
	})

	assert.True(t, p.CanExecute("ou_a", "a.c"))
	assert.False(t, p.CanExecute("ou_a", "a.b"))
}

func TestPolicy_CanExecute_LastMatchWins(t *testing.T) {
	p := NewPolicy(PolicyConfig{
		Users: []PermissionUser{{ID: "ou_a", Nodes: []string{"-a.b", "a.b"}}},
	})
	assert.True(t, p.CanExecute("ou_a", "a.b"))

	p = NewPolicy(PolicyConfig{
		Users: []PermissionUser{{ID: "ou_a", Nodes: []string{"a.b", "-*"}}},
	})
	assert.False(t, p.CanExecute("ou_a", "a.b"))
}

func TestPolicy_CanExecute_FallsBackToDefaultUser(t *testing.T) {
	p := NewPolicy(PolicyConfig{
		Users: []PermissionUser{
			{ID: DefaultUserID, Nodes: []string{"a.b"}},
			{ID: "ou_a", Nodes: []string{"a.c"}},
		},
	})

	assert.True(t, p.CanExecute("ou_z", "a.b"))
	assert.False(t, p.CanExecute("ou_z", "a.c"))
	// a user with its own record does not inherit the default nodes
	assert.False(t, p.CanExecute("ou_a", "a.b"))
}

func TestPolicy_CanExecute_NoRecordNoMatch(t *testing.T) {
	p := NewPolicy(PolicyConfig{})
	assert.False(t, p.CanExecute("ou_a", "a.b"))

	var nilPolicy *Policy
	assert.False(t, nilPolicy.CanExecute("ou_a", "a.b"))
}

func TestPolicy_CanExecute_PrefixIsNotAMatch(t *testing.T) {
	p := NewPolicy(PolicyConfig{
		Users: []PermissionUser{{ID: "ou_a", Nodes: []string{"a"}}},
	})
	assert.False(t, p.CanExecute("ou_a", "a.b"))
}

func TestNewPolicy_CopiesInput(t *testing.T) {
	nodes := []string{"a.b"}
	p := NewPolicy(PolicyConfig{Users: []PermissionUser{{ID: "ou_a", Nodes: nodes}}})
	nodes[0] = "-a.b"

	assert.True(t, p.CanExecute("ou_a", "a.b"))
	assert.Equal(t, 1, p.UserCount())
}

func TestCommandPath(t *testing.T) {
	resolve := func(line string) (string, bool) {
		if strings.HasPrefix(line, "service") {
			return "cloudnet.command.service", true
		}
		return "", false
	}

	assert.Equal(t, "cloudnet.command.service", CommandPath("service Lobby-1 start", resolve))
	assert.Equal(t, "cloudnet.command.reload", CommandPath("  Reload confirm", resolve))
	assert.Equal(t, "cloudnet.command.stop", CommandPath("STOP", nil))
}
