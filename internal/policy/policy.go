// Package policy provides tool authorization and access control.
// It implements two filters applied during tool discovery: the user's
// own allow-list (which tools the user has enabled for a request) and
// the operator's access rules (which tools each user or group may see).
package policy

import (
	"strings"

	"github.com/relayagent/relay/pkg/models"
)

// Rule restricts access to a server's tools. A rule with no Groups and
// AdminOnly false is open to everyone; rules are matched by server and
// optionally by individual tool names.
type Rule struct {
	// ServerID is the server the rule applies to.
	ServerID string `json:"server_id" yaml:"server_id"`

	// Tools limits the rule to specific tool names within the server.
	// Empty means the rule covers every tool the server advertises.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`

	// Groups that are granted access. Empty with AdminOnly false
	// grants access to all users.
	Groups []string `json:"groups,omitempty" yaml:"groups,omitempty"`

	// AdminOnly restricts the rule to admin users.
	AdminOnly bool `json:"admin_only,omitempty" yaml:"admin_only,omitempty"`
}

// Resolver evaluates access rules against users. The zero value allows
// everything; rules only restrict.
type Resolver struct {
	rules []Rule
}

// NewResolver creates a resolver with the given rules.
func NewResolver(rules []Rule) *Resolver {
	return &Resolver{rules: rules}
}

// Allowed reports whether the user may access the tool. Admins bypass
// all rules. A tool covered by no rule is open; when one or more rules
// cover a tool, any satisfied rule grants access.
func (r *Resolver) Allowed(user models.User, tool models.ToolDescriptor) bool {
	if user.IsAdmin {
		return true
	}

	covered := false
	for _, rule := range r.rules {
		if !rule.covers(tool) {
			continue
		}
		covered = true
		if rule.satisfiedBy(user) {
			return true
		}
	}
	return !covered
}

// Filter returns the subset of tools the user may access, preserving
// input order.
func (r *Resolver) Filter(user models.User, tools []models.ToolDescriptor) []models.ToolDescriptor {
	if user.IsAdmin || len(r.rules) == 0 {
		return tools
	}
	out := make([]models.ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		if r.Allowed(user, t) {
			out = append(out, t)
		}
	}
	return out
}

func (rule Rule) covers(tool models.ToolDescriptor) bool {
	if rule.ServerID != tool.ServerID {
		return false
	}
	if len(rule.Tools) == 0 {
		return true
	}
	bare := bareName(tool.Name)
	for _, name := range rule.Tools {
		if strings.EqualFold(name, bare) || strings.EqualFold(name, tool.Name) {
			return true
		}
	}
	return false
}

func (rule Rule) satisfiedBy(user models.User) bool {
	if rule.AdminOnly {
		return false
	}
	if len(rule.Groups) == 0 {
		return true
	}
	for _, g := range rule.Groups {
		for _, ug := range user.Groups {
			if strings.EqualFold(g, ug) {
				return true
			}
		}
	}
	return false
}

// bareName strips the "<server>." prefix from a qualified tool name.
func bareName(qualified string) string {
	if i := strings.IndexByte(qualified, '.'); i >= 0 {
		return qualified[i+1:]
	}
	return qualified
}
