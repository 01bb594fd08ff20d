package domain

import "strings"

const (
	// WildcardNode grants every command path.
	WildcardNode = "*"
	// NegationMarker prefixes a node that revokes a command path.
	NegationMarker = "-"
	// DefaultUserID is the shared record used for users without their own entry.
	DefaultUserID = "*"
	// DefaultCommandPrefix is used to build a permission node for commands the
	// dispatcher cannot resolve.
	DefaultCommandPrefix = "cloudnet.command."
)

// PermissionUser is the permission record of a single chat user (value object)
type PermissionUser struct {
	ID    string
	Nodes []string
}

// Policy decides which chat users may run which console commands.
// A Policy is never mutated after NewPolicy returns; reloads build a new one.
type Policy struct {
	useWhitelist bool
	useBlacklist bool
	whitelisted  map[string]struct{}
	blacklisted  map[string]struct{}
	users        map[string]PermissionUser
}

// PolicyConfig carries the raw values a Policy is built from
type PolicyConfig struct {
	UseWhitelist bool
	UseBlacklist bool
	Whitelisted  []string
	Blacklisted  []string
	Users        []PermissionUser
}

// NewPolicy builds an immutable policy, copying every input slice.
func NewPolicy(cfg PolicyConfig) *Policy {
	p := &Policy{
		useWhitelist: cfg.UseWhitelist,
		useBlacklist: cfg.UseBlacklist,
		whitelisted:  toSet(cfg.Whitelisted),
		blacklisted:  toSet(cfg.Blacklisted),
		users:        make(map[string]PermissionUser, len(cfg.Users)),
	}
	for _, u := range cfg.Users {
		p.users[u.ID] = PermissionUser{ID: u.ID, Nodes: append([]string(nil), u.Nodes...)}
	}
	return p
}

// CanExecute reports whether userID may run commandPath.
//
// Blacklist beats whitelist beats nodes. Nodes are evaluated in order and the
// last matching node wins; "*" matches everything, other nodes match the exact
// path, and a "-" prefix turns a match into a deny. No match means deny.
func (p *Policy) CanExecute(userID, commandPath string) bool {
	if p == nil {
		return false
	}
	if p.useBlacklist {
		if _, ok := p.blacklisted[userID]; ok {
			return false
		}
	}
	if p.useWhitelist {
		if _, ok := p.whitelisted[userID]; !ok {
			return false
		}
	}

	user, ok := p.users[userID]
	if !ok {
		user, ok = p.users[DefaultUserID]
		if !ok {
			return false
		}
	}

	allowed := false
	for _, node := range user.Nodes {
		if grant, matched := matchNode(node, commandPath); matched {
			allowed = grant
		}
	}
	return allowed
}

// User returns the permission record for id, if any.
func (p *Policy) User(id string) (PermissionUser, bool) {
	if p == nil {
		return PermissionUser{}, false
	}
	u, ok := p.users[id]
	return u, ok
}

// UsesWhitelist reports whether only whitelisted users may run commands.
func (p *Policy) UsesWhitelist() bool { return p != nil && p.useWhitelist }

// UsesBlacklist reports whether blacklisted users are refused.
func (p *Policy) UsesBlacklist() bool { return p != nil && p.useBlacklist }

// UserCount returns the number of configured permission users.
func (p *Policy) UserCount() int {
	if p == nil {
		return 0
	}
	return len(p.users)
}

func matchNode(node, commandPath string) (grant bool, matched bool) {
	if node == WildcardNode {
		return true, true
	}
	if rest, negated := strings.CutPrefix(node, NegationMarker); negated {
		if rest == WildcardNode {
			return false, true
		}
		return false, rest == commandPath
	}
	return true, node == commandPath
}

// CommandPath derives the permission node for a console line.
// resolve maps a line to the node of the command it invokes; when it does not
// know the command, the node falls back to DefaultCommandPrefix plus the
// lower-cased first word of the line.
func CommandPath(line string, resolve func(line string) (string, bool)) string {
	line = strings.TrimSpace(line)
	if resolve != nil {
		if node, ok := resolve(line); ok && node != "" {
			return node
		}
	}
	name, _, _ := strings.Cut(line, " ")
	return DefaultCommandPrefix + strings.ToLower(name)
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
