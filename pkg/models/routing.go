package models

// ModelRole names a slot in a multi-model execution plan.
type ModelRole string

const (
	RoleReasoning     ModelRole = "reasoning"
	RoleToolExecution ModelRole = "tool_execution"
	RoleSynthesis     ModelRole = "synthesis"
	RoleFallback      ModelRole = "fallback"
)

// RoleAssignment binds a role to a concrete model with a fallback.
type RoleAssignment struct {
	Model       string  `json:"model"`
	Fallback    string  `json:"fallback,omitempty"`
	Temperature float64 `json:"temperature"`
}

// RoutingDecision is the model router's verdict for one request.
type RoutingDecision struct {
	// UseMultiModel selects coordinated role-based execution when true.
	UseMultiModel bool `json:"use_multi_model"`

	// Reason explains the decision in human-readable form.
	Reason string `json:"reason"`

	// Complexity is the numeric task complexity estimate, 0.0-10.0.
	Complexity float64 `json:"complexity"`

	// Model is the chosen model for the single-model path.
	Model string `json:"model,omitempty"`

	// Roles maps each role to its assignment on the multi-model path.
	Roles map[ModelRole]RoleAssignment `json:"roles,omitempty"`
}

// RoleModel returns the assignment for a role, falling back to the fallback
// role's assignment when the requested role is not mapped.
func (d *RoutingDecision) RoleModel(role ModelRole) (RoleAssignment, bool) {
	if a, ok := d.Roles[role]; ok {
		return a, true
	}
	a, ok := d.Roles[RoleFallback]
	return a, ok
}
