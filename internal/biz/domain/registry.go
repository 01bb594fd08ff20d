package domain

import "slices"

// ChannelRegistry is the ordered, duplicate-free list of console channels.
// It is a value: every change returns a new registry and leaves the old one intact.
type ChannelRegistry struct {
	ids []string
}

// NewChannelRegistry keeps the first occurrence of each id and drops empty ids.
func NewChannelRegistry(ids ...string) ChannelRegistry {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return ChannelRegistry{ids: out}
}

// IDs returns a copy of the channel ids in order.
func (r ChannelRegistry) IDs() []string {
	return slices.Clone(r.ids)
}

// Len returns the number of registered channels.
func (r ChannelRegistry) Len() int {
	return len(r.ids)
}

// Contains reports whether id is a console channel.
func (r ChannelRegistry) Contains(id string) bool {
	return slices.Contains(r.ids, id)
}

// IndexOf returns the position of id, or -1.
func (r ChannelRegistry) IndexOf(id string) int {
	return slices.Index(r.ids, id)
}

// Replace returns a registry with newID at oldID's position.
// ok is false when oldID is not registered or newID already is.
func (r ChannelRegistry) Replace(oldID, newID string) (ChannelRegistry, bool) {
	idx := r.IndexOf(oldID)
	if idx < 0 || newID == "" || (newID != oldID && r.Contains(newID)) {
		return r, false
	}
	ids := slices.Clone(r.ids)
	ids[idx] = newID
	return ChannelRegistry{ids: ids}, true
}
