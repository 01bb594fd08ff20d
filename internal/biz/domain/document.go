package domain

import (
	"encoding/json"
	"maps"
	"math"
	"slices"
	"strconv"
)

// Document is the bot configuration tree as loaded from disk.
// Sub-trees are map[string]any, lists are []any.
type Document map[string]any

// Recognised document keys.
const (
	SectionBot         = "bot"
	SectionPresence    = "presence"
	SectionPermissions = "permissions"

	KeyToken            = "token"
	KeyConsoleChannels  = "consoleChannelIds"
	KeyPollDelay        = "delay_between_queue_polls_ms"
	KeyPresenceType     = "type"
	KeyPresenceText     = "text"
	KeyUseWhitelist     = "useWhitelist"
	KeyUseBlacklist     = "useBlacklist"
	KeyWhitelistedUsers = "whitelistedUsers"
	KeyBlacklistedUsers = "blacklistedUsers"
	KeyUsers            = "users"
)

// RecognisedKeys lists every section/key pair the bot reads.
var RecognisedKeys = [][2]string{
	{SectionBot, KeyToken},
	{SectionBot, KeyConsoleChannels},
	{SectionBot, KeyPollDelay},
	{SectionPresence, KeyPresenceType},
	{SectionPresence, KeyPresenceText},
	{SectionPermissions, KeyUseWhitelist},
	{SectionPermissions, KeyUseBlacklist},
	{SectionPermissions, KeyWhitelistedUsers},
	{SectionPermissions, KeyBlacklistedUsers},
	{SectionPermissions, KeyUsers},
}

// DefaultDocument returns a fresh copy of the default configuration.
// The default token contains spaces, so a bot started on defaults refuses to connect.
func DefaultDocument() Document {
	sampleNodes := func() []any { return []any{WildcardNode, NegationMarker + DefaultCommandPrefix + "reload"} }
	return Document{
		SectionBot: map[string]any{
			KeyToken:           "your app_id:app_secret from the Feishu developer console",
			KeyConsoleChannels: []any{"oc_123456789"},
			KeyPollDelay:       int64(750),
		},
		SectionPresence: map[string]any{
			KeyPresenceType: string(ActivityDefault),
			KeyPresenceText: "with the cluster console",
		},
		SectionPermissions: map[string]any{
			KeyUseWhitelist:     false,
			KeyUseBlacklist:     false,
			KeyWhitelistedUsers: []any{"123456789"},
			KeyBlacklistedUsers: []any{"123456789"},
			KeyUsers: map[string]any{
				"123456789":          sampleNodes(),
				DefaultUserID:        sampleNodes(),
				"name_of_some_group": sampleNodes(),
			},
		},
	}
}

// MergeMode selects how deep MergeDefaults fills nested sub-trees.
type MergeMode int

const (
	// MergeShallow fills top-level keys and the direct children of top-level
	// sub-trees, and nothing deeper.
	MergeShallow MergeMode = iota
	// MergeDeep fills missing keys at every depth.
	MergeDeep
)

// MergeDefaults returns loaded with every key missing from it copied from defaults.
//
// When both sides hold a sub-tree the missing children are filled (only one
// level down in MergeShallow). When defaults holds a sub-tree and loaded holds
// anything else at the top level, the default sub-tree replaces it. changed
// reports whether the result differs from loaded. loaded is not modified.
func MergeDefaults(loaded, defaults Document, mode MergeMode) (merged Document, changed bool) {
	merged = Document(cloneTree(map[string]any(loaded)))
	if merged == nil {
		merged = Document{}
	}
	changed = mergeInto(merged, defaults, 0, mode)
	return merged, changed
}

func mergeInto(out, defaults map[string]any, depth int, mode MergeMode) bool {
	changed := false
	for _, key := range slices.Sorted(maps.Keys(defaults)) {
		def := defaults[key]
		cur, present := out[key]
		if !present {
			out[key] = cloneValue(def)
			changed = true
			continue
		}

		defTree, defIsTree := def.(map[string]any)
		if !defIsTree {
			continue
		}
		curTree, curIsTree := cur.(map[string]any)
		switch {
		case curIsTree && (depth == 0 || mode == MergeDeep):
			if mergeInto(curTree, defTree, depth+1, mode) {
				changed = true
			}
		case !curIsTree && (depth == 0 || mode == MergeDeep):
			out[key] = cloneValue(defTree)
			changed = true
		}
	}
	return changed
}

// MissingKeys returns the recognised keys absent from doc as "section.key".
func (d Document) MissingKeys() []string {
	var missing []string
	for _, k := range RecognisedKeys {
		if _, ok := d.Lookup(k[0], k[1]); !ok {
			missing = append(missing, k[0]+"."+k[1])
		}
	}
	return missing
}

// Lookup walks a path of section names and returns the value at its end.
func (d Document) Lookup(path ...string) (any, bool) {
	var cur any = map[string]any(d)
	for _, p := range path {
		tree, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = tree[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the value at path as a string.
func (d Document) String(path ...string) (string, bool) {
	v, ok := d.Lookup(path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Bool returns the value at path as a bool.
func (d Document) Bool(path ...string) (bool, bool) {
	v, ok := d.Lookup(path...)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Int returns the value at path as an integer, accepting any numeric encoding.
func (d Document) Int(path ...string) (int64, bool) {
	v, ok := d.Lookup(path...)
	if !ok {
		return 0, false
	}
	return toInt(v)
}

// IDList returns the list at path with every element rendered as an id string.
// Elements that are neither strings nor integers are skipped.
func (d Document) IDList(path ...string) ([]string, bool) {
	v, ok := d.Lookup(path...)
	if !ok {
		return nil, false
	}
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if id, ok := IDString(item); ok {
			ids = append(ids, id)
		}
	}
	return ids, true
}

// WithChannelAt returns a copy of d whose bot.consoleChannelIds entry equal to
// oldID is replaced by newID in place. ok is false when oldID is not listed.
func (d Document) WithChannelAt(oldID, newID string) (Document, bool) {
	out := Document(cloneTree(map[string]any(d)))
	bot, ok := out[SectionBot].(map[string]any)
	if !ok {
		return d, false
	}
	items, ok := bot[KeyConsoleChannels].([]any)
	if !ok {
		return d, false
	}
	for i, item := range items {
		if id, ok := IDString(item); ok && id == oldID {
			items[i] = newID
			return out, true
		}
	}
	return d, false
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneTree(map[string]any(d)))
}

// IDString renders a string or integral value as an id.
// Large ids stay exact when the value was decoded as json.Number or an integer type.
func IDString(v any) (string, bool) {
	switch n := v.(type) {
	case string:
		return n, n != ""
	case json.Number:
		if _, err := n.Int64(); err != nil {
			return "", false
		}
		return n.String(), true
	case float64:
		if n != math.Trunc(n) {
			return "", false
		}
		return strconv.FormatFloat(n, 'f', -1, 64), true
	default:
		if i, ok := toInt(v); ok {
			return strconv.FormatInt(i, 10), true
		}
		return "", false
	}
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

func cloneTree(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneTree(t)
	case Document:
		return cloneTree(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}
