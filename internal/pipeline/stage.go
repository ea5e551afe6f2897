package pipeline

import "context"

// StageName identifies a stage. The runner matches behavior (model
// execution, parallel join) on these tags rather than on position or
// string comparison against free-form names.
type StageName string

const (
	StageAuth         StageName = "authenticate"
	StageValidate     StageName = "validate_input"
	StagePrepare      StageName = "prepare_messages"
	StageDiscovery    StageName = "discover_tools"
	StageRouting      StageName = "route_model"
	StageApproval     StageName = "approve_tools"
	StageExecuteModel StageName = "execute_model"
	StageExecuteMulti StageName = "execute_multi_model"
)

// IsModelExecution reports whether the stage produces model output and
// therefore hands control to the tool-call loop afterwards.
func (n StageName) IsModelExecution() bool {
	return n == StageExecuteModel || n == StageExecuteMulti
}

// Stage is one unit of work in the fixed pipeline sequence.
type Stage interface {
	Name() StageName

	// Execute mutates the request context. Returning an error aborts
	// the request and triggers rollback.
	Execute(ctx context.Context, rc *Context) error
}

// Rollbacker is implemented by stages that need cleanup when a later
// stage fails. Rollback is best-effort: failures are logged, never
// propagated.
type Rollbacker interface {
	Rollback(ctx context.Context, rc *Context) error
}
