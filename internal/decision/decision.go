// Package decision chooses what a reconciliation run does once the live and
// desired schemas have been compared.
package decision

import "github.com/lockplane/dbreconcile/internal/schema"

// Action is the outcome of a decision
type Action string

const (
	// NoOp leaves the target alone: it already matches
	NoOp Action = "no-op"
	// FullReset recreates the target from the init script
	FullReset Action = "full-reset"
	// AppendMigration ships the authored migration script
	AppendMigration Action = "append-migration"
	// Fail refuses to proceed; Reason says why
	Fail Action = "fail"
)

// Reasons attached to Fail
const (
	ReasonRemoteResetForbidden = "RemoteResetForbidden"
	ReasonResetNotPermitted    = "ResetNotPermitted"
)

// Input is everything Decide looks at
type Input struct {
	TargetHasData            bool
	Diff                     *schema.SchemaDiff
	MigrationScriptAvailable bool
	IsLocalTarget            bool
	ResetAllowed             bool
}

// Decision is what to do and, for Fail, why
type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// Decide applies the reconciliation policy. It is pure: the same input
// always yields the same decision.
//
// An empty target is always reset. A target that matches is left alone.
// Otherwise an authored migration wins, and only a local target whose reset
// was explicitly allowed may be recreated.
func Decide(in Input) Decision {
	if !in.TargetHasData {
		return Decision{Action: FullReset}
	}
	if !in.Diff.HasChanges() {
		return Decision{Action: NoOp}
	}
	if in.MigrationScriptAvailable {
		return Decision{Action: AppendMigration}
	}
	if !in.IsLocalTarget {
		return Decision{Action: Fail, Reason: ReasonRemoteResetForbidden}
	}
	if !in.ResetAllowed {
		return Decision{Action: Fail, Reason: ReasonResetNotPermitted}
	}
	return Decision{Action: FullReset}
}
