package registry

import (
	"sort"
	"sync"

	"github.com/relayagent/relay/pkg/models"
)

// Catalog is the static full-tool cache used when the semantic index
// is unavailable. It holds every advertised tool from every connected
// server and is refreshed whenever server state changes.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]models.ToolDescriptor
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{tools: make(map[string]models.ToolDescriptor)}
}

// Replace swaps the catalog contents for the given tools.
func (c *Catalog) Replace(tools []models.ToolDescriptor) {
	next := make(map[string]models.ToolDescriptor, len(tools))
	for _, t := range tools {
		next[t.Name] = t
	}
	c.mu.Lock()
	c.tools = next
	c.mu.Unlock()
}

// Register adds or updates a single tool.
func (c *Catalog) Register(tool models.ToolDescriptor) {
	c.mu.Lock()
	c.tools[tool.Name] = tool
	c.mu.Unlock()
}

// Get returns the tool with the given qualified name.
func (c *Catalog) Get(name string) (models.ToolDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[name]
	return t, ok
}

// GetAll returns every tool in the catalog, sorted by name.
func (c *Catalog) GetAll() []models.ToolDescriptor {
	c.mu.RLock()
	out := make([]models.ToolDescriptor, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}
