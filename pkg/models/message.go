package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one conversation turn threaded through the pipeline.
// The pipeline only ever appends messages; it never reorders or truncates.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// HasText reports whether the message carries non-empty text content.
func (m *Message) HasText() bool {
	return strings.TrimSpace(m.Content) != ""
}

// ToolCall represents a model's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
	ServerID   string `json:"server_id,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// User is the authenticated caller of a request. Read-only after the
// authentication stage populates it.
type User struct {
	ID      string   `json:"id"`
	Email   string   `json:"email,omitempty"`
	Groups  []string `json:"groups,omitempty"`
	IsAdmin bool     `json:"is_admin,omitempty"`
}

// Request is the immutable inbound chat request.
type Request struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`

	// Model is an optional caller hint for the single-model path.
	Model string `json:"model,omitempty"`

	// EnabledTools is the per-request allow-list. Entries are either a bare
	// provider id ("azure") or a provider.tool pair ("azure.list_subscriptions").
	// Empty means no preference filtering.
	EnabledTools []string `json:"enabled_tools,omitempty"`

	// Slider is the caller's intelligence slider position, 0-10.
	Slider int `json:"slider,omitempty"`

	// AuthToken is the bearer token verified by the authentication stage.
	AuthToken string `json:"-"`

	// History carries prior conversation turns supplied by the session layer.
	History []Message `json:"history,omitempty"`
}

// ToolCallRecord is one entry in the per-request tool call log. The log is
// append-only and spans every round of the tool-call loop.
type ToolCallRecord struct {
	ID        string          `json:"id"`
	ToolName  string          `json:"tool_name"`
	ServerID  string          `json:"server_id,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Round     int             `json:"round"`
	Duration  time.Duration   `json:"duration"`
}

// Succeeded reports whether the call completed without an error result.
func (r *ToolCallRecord) Succeeded() bool {
	return r.Error == ""
}
