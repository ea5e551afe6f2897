package policy

import (
	"strings"

	"github.com/relayagent/relay/pkg/models"
)

// AllowList is a user-selected set of enabled tools. Entries take one
// of two forms: a bare server ID ("github") enables every tool from
// that server, and a qualified name ("github.search") enables a single
// tool. Matching is case-insensitive. A nil or empty allow-list
// enables everything.
type AllowList struct {
	servers map[string]bool
	tools   map[string]bool
	empty   bool
}

// NewAllowList parses allow-list entries. Blank entries are ignored.
func NewAllowList(entries []string) *AllowList {
	al := &AllowList{
		servers: make(map[string]bool),
		tools:   make(map[string]bool),
	}
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if strings.ContainsRune(e, '.') {
			al.tools[e] = true
		} else {
			al.servers[e] = true
		}
	}
	al.empty = len(al.servers) == 0 && len(al.tools) == 0
	return al
}

// Permits reports whether the tool is enabled by the allow-list.
func (al *AllowList) Permits(tool models.ToolDescriptor) bool {
	if al == nil || al.empty {
		return true
	}
	if al.servers[strings.ToLower(tool.ServerID)] {
		return true
	}
	return al.tools[strings.ToLower(tool.Name)]
}

// Filter returns the subset of tools the allow-list permits,
// preserving input order.
func (al *AllowList) Filter(tools []models.ToolDescriptor) []models.ToolDescriptor {
	if al == nil || al.empty {
		return tools
	}
	out := make([]models.ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		if al.Permits(t) {
			out = append(out, t)
		}
	}
	return out
}
