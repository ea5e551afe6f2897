package models

import "encoding/json"

// ToolDescriptor describes one callable tool. Descriptors are immutable;
// discovery produces a fresh set for every request.
type ToolDescriptor struct {
	// Name is the fully qualified tool name, "<server>.<tool>".
	Name string `json:"name"`

	// ServerID identifies the owning tool server.
	ServerID string `json:"server_id"`

	// Description is the natural-language description used for semantic ranking
	// and for the model's tool prompt.
	Description string `json:"description"`

	// Schema is the JSON Schema for the tool's arguments.
	Schema json.RawMessage `json:"schema,omitempty"`

	// Capabilities tags the tool with capability classes ("web_fetch",
	// "cloud", "diagram", "reasoning", ...).
	Capabilities []string `json:"capabilities,omitempty"`
}

// HasCapability reports whether the descriptor carries the given capability tag.
func (d *ToolDescriptor) HasCapability(tag string) bool {
	for _, c := range d.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// ToolNames returns the names of the given descriptors, preserving order.
func ToolNames(tools []ToolDescriptor) []string {
	names := make([]string, len(tools))
	for i := range tools {
		names[i] = tools[i].Name
	}
	return names
}
