package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/relayagent/relay/internal/observability"
	"github.com/relayagent/relay/internal/registry"
	"github.com/relayagent/relay/pkg/models"
)

type fakeSearcher struct {
	ready   bool
	matches []registry.Match
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, query string, topK int) ([]registry.Match, error) {
	if f.err != nil {
		return nil, f.err
	}
	if topK < len(f.matches) {
		return f.matches[:topK], nil
	}
	return f.matches, nil
}

func (f *fakeSearcher) IsReady() bool { return f.ready }

type fakeCatalog struct {
	tools []models.ToolDescriptor
}

func (f *fakeCatalog) GetAll() []models.ToolDescriptor { return f.tools }

type fakeAccess struct {
	deny map[string]bool
}

func (f *fakeAccess) Filter(user models.User, tools []models.ToolDescriptor) []models.ToolDescriptor {
	out := make([]models.ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		if !f.deny[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

func descriptor(name, serverID string, caps ...string) models.ToolDescriptor {
	return models.ToolDescriptor{Name: name, ServerID: serverID, Capabilities: caps}
}

func fullCatalog() *fakeCatalog {
	return &fakeCatalog{tools: []models.ToolDescriptor{
		descriptor("azure.list_subscriptions", "azure"),
		descriptor("azure.list_vms", "azure"),
		descriptor("github.search", "github"),
		descriptor("web.fetch", "web", "web_fetch"),
		descriptor("meta.think", "meta"),
	}}
}

func newDiscovery(s Searcher, c CatalogSource, a AccessFilter) *Discovery {
	return New(s, c, a, observability.NewNopLogger(), Options{
		Enabled:   true,
		TopK:      10,
		Blocklist: []string{"think", "sequential_thinking", "reflect"},
	})
}

func names(r Result) []string {
	out := make([]string, len(r.Tools))
	for i, t := range r.Tools {
		out[i] = t.Name
	}
	return out
}

func TestDiscoverDisabled(t *testing.T) {
	d := New(nil, fullCatalog(), nil, observability.NewNopLogger(), Options{Enabled: false})
	r := d.Discover(context.Background(), "list my azure subscriptions", models.User{}, nil)
	if len(r.Tools) != 0 {
		t.Fatalf("disabled discovery should return no tools, got %v", names(r))
	}
}

func TestDiscoverEmptyQuery(t *testing.T) {
	d := newDiscovery(nil, fullCatalog(), nil)
	r := d.Discover(context.Background(), "   ", models.User{}, nil)
	if len(r.Tools) != 0 {
		t.Fatalf("blank query should return no tools, got %v", names(r))
	}
}

func TestDiscoverSemanticTier(t *testing.T) {
	s := &fakeSearcher{ready: true, matches: []registry.Match{
		{Tool: descriptor("azure.list_subscriptions", "azure"), Score: 0.9},
		{Tool: descriptor("azure.list_vms", "azure"), Score: 0.7},
	}}
	d := newDiscovery(s, fullCatalog(), nil)

	r := d.Discover(context.Background(), "show all my azure subscriptions", models.User{}, nil)
	if r.Unfiltered {
		t.Error("semantic results should not be marked unfiltered")
	}
	if r.Source != "semantic" {
		t.Errorf("expected semantic source, got %s", r.Source)
	}
	got := names(r)
	if len(got) != 2 || got[0] != "azure.list_subscriptions" {
		t.Fatalf("unexpected tools: %v", got)
	}
}

func TestDiscoverCatalogFallbackOnEmptySemantic(t *testing.T) {
	s := &fakeSearcher{ready: true} // zero matches
	d := newDiscovery(s, fullCatalog(), nil)

	r := d.Discover(context.Background(), "list my azure subscriptions", models.User{}, nil)
	if !r.Unfiltered {
		t.Error("catalog fallback should be marked unfiltered")
	}
	found := false
	for _, n := range names(r) {
		if n == "azure.list_subscriptions" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected azure tool in fallback result, got %v", names(r))
	}
}

func TestDiscoverCatalogFallbackOnSearchError(t *testing.T) {
	s := &fakeSearcher{ready: true, err: errors.New("index unavailable")}
	d := newDiscovery(s, fullCatalog(), nil)

	r := d.Discover(context.Background(), "list my azure subscriptions", models.User{}, nil)
	if r.Source != "catalog" || !r.Unfiltered {
		t.Fatalf("expected unfiltered catalog fallback, got source=%s unfiltered=%v", r.Source, r.Unfiltered)
	}
	if len(r.Tools) == 0 {
		t.Fatal("fallback should degrade to the catalog, not to empty")
	}
}

func TestDiscoverNoBackendDegradesToEmpty(t *testing.T) {
	d := newDiscovery(&fakeSearcher{ready: false}, &fakeCatalog{}, nil)
	r := d.Discover(context.Background(), "list my azure subscriptions", models.User{}, nil)
	if len(r.Tools) != 0 {
		t.Fatalf("no backend and no catalog should degrade to empty, got %v", names(r))
	}
}

func TestDiscoverEssentialBackfill(t *testing.T) {
	s := &fakeSearcher{ready: true, matches: []registry.Match{
		{Tool: descriptor("github.search", "github"), Score: 0.8},
	}}
	d := newDiscovery(s, fullCatalog(), nil)

	r := d.Discover(context.Background(), "what is the latest deployment status on the cluster", models.User{}, nil)
	found := false
	for _, n := range names(r) {
		if n == "web.fetch" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected web.fetch backfilled for live-information query, got %v", names(r))
	}
}

func TestDiscoverAllowListFilter(t *testing.T) {
	s := &fakeSearcher{ready: true} // force catalog
	d := newDiscovery(s, fullCatalog(), nil)

	r := d.Discover(context.Background(), "list my azure subscriptions", models.User{}, []string{"azure"})
	for _, n := range names(r) {
		if n == "github.search" || n == "web.fetch" {
			t.Fatalf("allow-list should drop non-enabled providers, got %v", names(r))
		}
	}
	if len(r.Tools) != 2 {
		t.Fatalf("expected both azure tools, got %v", names(r))
	}
}

func TestDiscoverAccessFilter(t *testing.T) {
	s := &fakeSearcher{ready: true}
	access := &fakeAccess{deny: map[string]bool{"azure.list_vms": true}}
	d := newDiscovery(s, fullCatalog(), access)

	r := d.Discover(context.Background(), "list my azure subscriptions", models.User{ID: "u1"}, nil)
	for _, n := range names(r) {
		if n == "azure.list_vms" {
			t.Fatalf("access filter should drop denied tool, got %v", names(r))
		}
	}
}

func TestDiscoverConversationalShortCircuit(t *testing.T) {
	d := newDiscovery(&fakeSearcher{ready: true}, fullCatalog(), nil)

	r := d.Discover(context.Background(), "Hello", models.User{}, nil)
	if len(r.Tools) != 0 {
		t.Fatalf("greeting should return no tools, got %v", names(r))
	}

	r = d.Discover(context.Background(), "2 + 2 = ?", models.User{}, nil)
	if len(r.Tools) != 0 {
		t.Fatalf("arithmetic should return no tools, got %v", names(r))
	}
}

func TestDiscoverDomainKeywordOverridesShortCircuit(t *testing.T) {
	d := newDiscovery(&fakeSearcher{ready: true}, fullCatalog(), nil)

	r := d.Discover(context.Background(), "what is my azure resource group", models.User{}, nil)
	if len(r.Tools) == 0 {
		t.Fatal("domain keyword should override the conversational short-circuit")
	}
}

func TestDiscoverBlocklist(t *testing.T) {
	s := &fakeSearcher{ready: true, matches: []registry.Match{
		{Tool: descriptor("meta.think", "meta"), Score: 0.9},
		{Tool: descriptor("azure.list_vms", "azure"), Score: 0.5},
	}}
	d := newDiscovery(s, fullCatalog(), nil)

	r := d.Discover(context.Background(), "restart the azure cluster", models.User{}, nil)
	for _, n := range names(r) {
		if n == "meta.think" {
			t.Fatalf("blocklisted tool should be removed, got %v", names(r))
		}
	}
}

func TestDiscoverIdempotent(t *testing.T) {
	s := &fakeSearcher{ready: true, matches: []registry.Match{
		{Tool: descriptor("azure.list_subscriptions", "azure"), Score: 0.9},
		{Tool: descriptor("web.fetch", "web", "web_fetch"), Score: 0.4},
	}}
	d := newDiscovery(s, fullCatalog(), nil)

	query := "search for the latest azure news"
	first := names(d.Discover(context.Background(), query, models.User{}, nil))
	for i := 0; i < 5; i++ {
		got := names(d.Discover(context.Background(), query, models.User{}, nil))
		if len(got) != len(first) {
			t.Fatalf("discovery not idempotent: %v vs %v", first, got)
		}
		for j := range got {
			if got[j] != first[j] {
				t.Fatalf("discovery not idempotent: %v vs %v", first, got)
			}
		}
	}
}
