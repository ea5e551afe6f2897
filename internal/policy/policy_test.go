package policy

import (
	"testing"

	"github.com/relayagent/relay/pkg/models"
)

func tool(name, serverID string) models.ToolDescriptor {
	return models.ToolDescriptor{Name: name, ServerID: serverID}
}

func TestResolverUncoveredToolIsOpen(t *testing.T) {
	r := NewResolver([]Rule{{ServerID: "jira", Groups: []string{"eng"}}})
	user := models.User{ID: "u1"}

	if !r.Allowed(user, tool("github.search", "github")) {
		t.Fatal("tool with no covering rule should be open")
	}
}

func TestResolverGroupRule(t *testing.T) {
	r := NewResolver([]Rule{{ServerID: "jira", Groups: []string{"eng"}}})

	eng := models.User{ID: "u1", Groups: []string{"eng"}}
	sales := models.User{ID: "u2", Groups: []string{"sales"}}

	if !r.Allowed(eng, tool("jira.create_issue", "jira")) {
		t.Error("eng user should access jira tools")
	}
	if r.Allowed(sales, tool("jira.create_issue", "jira")) {
		t.Error("sales user should not access jira tools")
	}
}

func TestResolverAdminBypass(t *testing.T) {
	r := NewResolver([]Rule{{ServerID: "infra", AdminOnly: true}})

	admin := models.User{ID: "a1", IsAdmin: true}
	user := models.User{ID: "u1", Groups: []string{"eng"}}

	if !r.Allowed(admin, tool("infra.restart", "infra")) {
		t.Error("admin should bypass all rules")
	}
	if r.Allowed(user, tool("infra.restart", "infra")) {
		t.Error("non-admin should be denied admin-only tools")
	}
}

func TestResolverToolScopedRule(t *testing.T) {
	r := NewResolver([]Rule{{ServerID: "github", Tools: []string{"merge_pr"}, Groups: []string{"maintainers"}}})
	user := models.User{ID: "u1", Groups: []string{"eng"}}

	if r.Allowed(user, tool("github.merge_pr", "github")) {
		t.Error("tool-scoped rule should deny non-maintainer")
	}
	if !r.Allowed(user, tool("github.search", "github")) {
		t.Error("tool-scoped rule should not cover other tools on the server")
	}
}

func TestResolverFilterPreservesOrder(t *testing.T) {
	r := NewResolver([]Rule{{ServerID: "jira", Groups: []string{"eng"}}})
	user := models.User{ID: "u1", Groups: []string{"sales"}}

	in := []models.ToolDescriptor{
		tool("a.one", "a"),
		tool("jira.create_issue", "jira"),
		tool("b.two", "b"),
	}
	out := r.Filter(user, in)
	if len(out) != 2 || out[0].Name != "a.one" || out[1].Name != "b.two" {
		t.Fatalf("unexpected filter result: %+v", out)
	}
}

func TestAllowListEmptyPermitsAll(t *testing.T) {
	for _, al := range []*AllowList{nil, NewAllowList(nil), NewAllowList([]string{"", "  "})} {
		if !al.Permits(tool("github.search", "github")) {
			t.Fatal("empty allow-list should permit everything")
		}
	}
}

func TestAllowListServerEntry(t *testing.T) {
	al := NewAllowList([]string{"github"})

	if !al.Permits(tool("github.search", "github")) {
		t.Error("server entry should permit all tools on the server")
	}
	if !al.Permits(tool("github.create_pr", "github")) {
		t.Error("server entry should permit all tools on the server")
	}
	if al.Permits(tool("jira.create_issue", "jira")) {
		t.Error("server entry should not permit other servers")
	}
}

func TestAllowListQualifiedEntry(t *testing.T) {
	al := NewAllowList([]string{"github.search"})

	if !al.Permits(tool("github.search", "github")) {
		t.Error("qualified entry should permit the named tool")
	}
	if al.Permits(tool("github.create_pr", "github")) {
		t.Error("qualified entry should not permit sibling tools")
	}
}

func TestAllowListCaseInsensitive(t *testing.T) {
	al := NewAllowList([]string{"GitHub", "Jira.Create_Issue"})

	if !al.Permits(tool("github.search", "github")) {
		t.Error("server matching should be case-insensitive")
	}
	if !al.Permits(tool("jira.create_issue", "jira")) {
		t.Error("tool matching should be case-insensitive")
	}
}

func TestAllowListFilter(t *testing.T) {
	al := NewAllowList([]string{"github", "jira.create_issue"})
	in := []models.ToolDescriptor{
		tool("github.search", "github"),
		tool("jira.create_issue", "jira"),
		tool("jira.delete_issue", "jira"),
	}
	out := al.Filter(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(out))
	}
	if out[0].Name != "github.search" || out[1].Name != "jira.create_issue" {
		t.Fatalf("unexpected filter result: %+v", out)
	}
}
