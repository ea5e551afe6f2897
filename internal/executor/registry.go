package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relayagent/relay/pkg/models"
)

// Handler executes one tool. Implementations must be safe for
// concurrent use; the executor fans out batches.
type Handler interface {
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (string, error)

func (f HandlerFunc) Call(ctx context.Context, args json.RawMessage) (string, error) {
	return f(ctx, args)
}

type registration struct {
	descriptor models.ToolDescriptor
	handler    Handler
	schema     *jsonschema.Schema
}

// Registry maps qualified tool names to handlers and validates call
// arguments against each tool's declared schema before dispatch.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registration)}
}

// Register adds a tool. A non-empty parameter schema is compiled once
// here; malformed schemas are rejected at registration time rather
// than on every call.
func (r *Registry) Register(descriptor models.ToolDescriptor, handler Handler) error {
	if descriptor.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %s: handler is required", descriptor.Name)
	}

	var schema *jsonschema.Schema
	if len(descriptor.Schema) > 0 {
		compiled, err := jsonschema.CompileString(descriptor.Name+".json", string(descriptor.Schema))
		if err != nil {
			return fmt.Errorf("tool %s: invalid schema: %w", descriptor.Name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	r.tools[descriptor.Name] = registration{descriptor: descriptor, handler: handler, schema: schema}
	r.mu.Unlock()
	return nil
}

// Descriptors returns the descriptors of all registered tools.
func (r *Registry) Descriptors() []models.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolDescriptor, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, reg.descriptor)
	}
	return out
}

// Execute validates and runs one tool call.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", NewToolError(name, fmt.Errorf("not registered")).WithType(ToolErrorNotFound)
	}

	if reg.schema != nil {
		var parsed any
		raw := args
		if len(raw) == 0 {
			raw = json.RawMessage(`{}`)
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return "", NewToolError(name, err).WithType(ToolErrorInvalidArgs).
				WithMessage("arguments are not valid JSON")
		}
		if err := reg.schema.Validate(parsed); err != nil {
			return "", NewToolError(name, err).WithType(ToolErrorInvalidArgs).
				WithMessage(fmt.Sprintf("arguments failed validation: %v", err))
		}
	}

	return reg.handler.Call(ctx, args)
}

// ServerID returns the owning server for a registered tool name.
func (r *Registry) ServerID(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name].descriptor.ServerID
}
