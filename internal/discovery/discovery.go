// Package discovery selects the tools offered to the model for one
// request. It layers semantic retrieval, a static catalog fallback,
// capability backfill, and user and access filters into a single
// ranked tool list.
package discovery

import (
	"context"
	"strings"

	"github.com/relayagent/relay/internal/observability"
	"github.com/relayagent/relay/internal/policy"
	"github.com/relayagent/relay/internal/registry"
	"github.com/relayagent/relay/pkg/models"
)

// Searcher is the semantic retrieval tier.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]registry.Match, error)
	IsReady() bool
}

// CatalogSource is the static fallback tier.
type CatalogSource interface {
	GetAll() []models.ToolDescriptor
}

// AccessFilter narrows a tool list to what the user may see.
type AccessFilter interface {
	Filter(user models.User, tools []models.ToolDescriptor) []models.ToolDescriptor
}

// Result is the outcome of one discovery pass.
type Result struct {
	Tools []models.ToolDescriptor

	// Unfiltered is set when the static catalog served the request,
	// meaning no relevance ranking happened and downstream consumers
	// see the full (filtered) catalog.
	Unfiltered bool

	// Source names the tier that produced the candidates:
	// "semantic", "catalog", or "none".
	Source string
}

// Options configures a Discovery.
type Options struct {
	Enabled   bool
	TopK      int
	Blocklist []string
}

// Discovery produces the per-request tool set.
type Discovery struct {
	searcher Searcher
	catalog  CatalogSource
	access   AccessFilter
	logger   *observability.Logger

	enabled   bool
	topK      int
	blocklist map[string]bool
}

// New creates a Discovery. searcher may be nil when no semantic
// backend is configured; catalog must not be nil.
func New(searcher Searcher, catalog CatalogSource, access AccessFilter, logger *observability.Logger, opts Options) *Discovery {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	blocklist := make(map[string]bool, len(opts.Blocklist))
	for _, name := range opts.Blocklist {
		blocklist[strings.ToLower(name)] = true
	}
	return &Discovery{
		searcher:  searcher,
		catalog:   catalog,
		access:    access,
		logger:    logger,
		enabled:   opts.Enabled,
		topK:      opts.TopK,
		blocklist: blocklist,
	}
}

// Discover returns the tools to offer for the given query. Failures
// in the retrieval tiers degrade to a smaller tool set; Discover only
// returns an empty set, never an error, because a request without
// tools is still serviceable.
func (d *Discovery) Discover(ctx context.Context, query string, user models.User, enabledTools []string) Result {
	if !d.enabled {
		return Result{Source: "none"}
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{Source: "none"}
	}

	tools, source, unfiltered := d.retrieve(ctx, query)
	tools = d.backfill(query, tools)
	tools = policy.NewAllowList(enabledTools).Filter(tools)
	if d.access != nil {
		tools = d.access.Filter(user, tools)
	}

	if isConversational(query) && !hasDomainKeyword(query) {
		d.logger.Debug("conversational query, skipping tools", "query_len", len(query))
		return Result{Source: source}
	}

	tools = d.applyBlocklist(tools)
	return Result{Tools: tools, Unfiltered: unfiltered, Source: source}
}

// retrieve runs the semantic tier with static-catalog fallback.
func (d *Discovery) retrieve(ctx context.Context, query string) (tools []models.ToolDescriptor, source string, unfiltered bool) {
	if d.searcher != nil && d.searcher.IsReady() {
		matches, err := d.searcher.Search(ctx, query, d.topK)
		if err == nil {
			if len(matches) == 0 {
				return d.catalogAll(), "catalog", true
			}
			tools = make([]models.ToolDescriptor, len(matches))
			for i, m := range matches {
				tools[i] = m.Tool
			}
			return tools, "semantic", false
		}
		d.logger.Warn("semantic search failed, falling back to catalog", "error", err)
	}
	all := d.catalogAll()
	if len(all) == 0 {
		return nil, "none", false
	}
	return all, "catalog", true
}

func (d *Discovery) catalogAll() []models.ToolDescriptor {
	if d.catalog == nil {
		return nil
	}
	return d.catalog.GetAll()
}

// backfill force-includes tools carrying essential capability tags the
// query triggers, even when semantic retrieval missed them.
func (d *Discovery) backfill(query string, tools []models.ToolDescriptor) []models.ToolDescriptor {
	tags := essentialTags(query)
	if len(tags) == 0 {
		return tools
	}

	present := make(map[string]bool, len(tools))
	for _, t := range tools {
		present[t.Name] = true
	}
	for _, tag := range tags {
		for _, t := range d.catalogAll() {
			if t.HasCapability(tag) && !present[t.Name] {
				present[t.Name] = true
				tools = append(tools, t)
			}
		}
	}
	return tools
}

// applyBlocklist drops reasoning/meta tools the model should not call.
func (d *Discovery) applyBlocklist(tools []models.ToolDescriptor) []models.ToolDescriptor {
	if len(d.blocklist) == 0 {
		return tools
	}
	out := tools[:0:0]
	for _, t := range tools {
		name := strings.ToLower(t.Name)
		if i := strings.IndexByte(name, '.'); i >= 0 {
			name = name[i+1:]
		}
		if d.blocklist[name] {
			continue
		}
		out = append(out, t)
	}
	return out
}
