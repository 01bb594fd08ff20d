package domain

import (
	"strings"
	"time"
	"unicode"

	"github.com/devricklin/feishu-console-bridge/internal/errs"
)

// DefaultPollInterval is used when the document carries no usable poll delay.
const DefaultPollInterval = 750 * time.Millisecond

// ActivityType is the kind of presence shown next to the bot
type ActivityType string

const (
	ActivityDefault   ActivityType = "DEFAULT"
	ActivityStreaming ActivityType = "STREAMING"
	ActivityListening ActivityType = "LISTENING"
	ActivityWatching  ActivityType = "WATCHING"
)

// ActivityTypes lists the accepted presence types.
var ActivityTypes = []ActivityType{ActivityDefault, ActivityStreaming, ActivityListening, ActivityWatching}

// ParseActivityType accepts a presence type name case-insensitively.
func ParseActivityType(s string) (ActivityType, error) {
	want := ActivityType(strings.ToUpper(strings.TrimSpace(s)))
	for _, t := range ActivityTypes {
		if t == want {
			return t, nil
		}
	}
	names := make([]string, len(ActivityTypes))
	for i, t := range ActivityTypes {
		names[i] = string(t)
	}
	return "", errs.New(errs.CodeConfigPresenceInvalid,
		"invalid presence type, available types: "+strings.Join(names, ", "),
		errs.Field("type", s),
	)
}

// Presence is passed through to the chat client unchanged
type Presence struct {
	Type ActivityType
	Text string
}

// ValidateToken rejects empty tokens and tokens containing whitespace.
func ValidateToken(token string) error {
	if token == "" {
		return errs.New(errs.CodeConfigTokenInvalid, "bot token is empty; set bot.token in the config document")
	}
	if strings.IndexFunc(token, unicode.IsSpace) >= 0 {
		return errs.New(errs.CodeConfigTokenInvalid, "bot token contains illegal characters; set bot.token and bot.consoleChannelIds in the config document")
	}
	return nil
}

// Snapshot is the immutable runtime view of one configuration document.
// Readers hold a *Snapshot and never observe a partially applied reload.
type Snapshot struct {
	Token        string
	Channels     ChannelRegistry
	PollInterval time.Duration
	Presence     Presence
	// PresenceErr is set when the document's presence could not be parsed;
	// Presence then holds the previous value.
	PresenceErr error
	Policy      *Policy
}

// WithChannels returns a copy of s using channels as its registry.
func (s *Snapshot) WithChannels(channels ChannelRegistry) *Snapshot {
	cp := *s
	cp.Channels = channels
	return &cp
}

// ParseSnapshot builds a Snapshot from doc. prev supplies the presence kept
// when the document's presence type is invalid; it may be nil.
// Only an invalid token is an error.
func ParseSnapshot(doc Document, prev *Snapshot) (*Snapshot, error) {
	token, _ := doc.String(SectionBot, KeyToken)
	if err := ValidateToken(token); err != nil {
		return nil, err
	}

	channels, _ := doc.IDList(SectionBot, KeyConsoleChannels)

	interval := DefaultPollInterval
	if ms, ok := doc.Int(SectionBot, KeyPollDelay); ok && ms > 0 {
		interval = time.Duration(ms) * time.Millisecond
	}

	snap := &Snapshot{
		Token:        token,
		Channels:     NewChannelRegistry(channels...),
		PollInterval: interval,
		Policy:       NewPolicy(parsePolicy(doc)),
	}

	rawType, _ := doc.String(SectionPresence, KeyPresenceType)
	text, _ := doc.String(SectionPresence, KeyPresenceText)
	if t, err := ParseActivityType(rawType); err != nil {
		snap.PresenceErr = err
		if prev != nil {
			snap.Presence = prev.Presence
		}
	} else {
		snap.Presence = Presence{Type: t, Text: text}
	}
	return snap, nil
}

func parsePolicy(doc Document) PolicyConfig {
	cfg := PolicyConfig{}
	cfg.UseWhitelist, _ = doc.Bool(SectionPermissions, KeyUseWhitelist)
	cfg.UseBlacklist, _ = doc.Bool(SectionPermissions, KeyUseBlacklist)
	cfg.Whitelisted, _ = doc.IDList(SectionPermissions, KeyWhitelistedUsers)
	cfg.Blacklisted, _ = doc.IDList(SectionPermissions, KeyBlacklistedUsers)

	raw, _ := doc.Lookup(SectionPermissions, KeyUsers)
	users, _ := raw.(map[string]any)
	for id, v := range users {
		cfg.Users = append(cfg.Users, PermissionUser{ID: id, Nodes: parseNodes(v)})
	}
	return cfg
}

// parseNodes accepts either a plain node list or an object holding the list
// under "nodes" or "permissions".
func parseNodes(v any) []string {
	switch t := v.(type) {
	case []any:
		nodes := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				nodes = append(nodes, s)
			}
		}
		return nodes
	case []string:
		return append([]string(nil), t...)
	case map[string]any:
		for _, key := range []string{"nodes", "permissions"} {
			if list, ok := t[key]; ok {
				return parseNodes(list)
			}
		}
	}
	return nil
}
