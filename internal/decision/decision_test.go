package decision

import (
	"testing"

	"github.com/lockplane/dbreconcile/internal/schema"
)

var drift = &schema.SchemaDiff{Added: []string{"table users"}}

func TestDecide(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want Decision
	}{
		{
			name: "empty target",
			in:   Input{TargetHasData: false, Diff: drift},
			want: Decision{Action: FullReset},
		},
		{
			name: "empty remote target without permission",
			in:   Input{TargetHasData: false, Diff: drift, IsLocalTarget: false, ResetAllowed: false},
			want: Decision{Action: FullReset},
		},
		{
			name: "target matches",
			in:   Input{TargetHasData: true, Diff: nil, IsLocalTarget: false},
			want: Decision{Action: NoOp},
		},
		{
			name: "target matches with a migration script present",
			in:   Input{TargetHasData: true, Diff: nil, MigrationScriptAvailable: true},
			want: Decision{Action: NoOp},
		},
		{
			name: "drift with migration script",
			in:   Input{TargetHasData: true, Diff: drift, MigrationScriptAvailable: true},
			want: Decision{Action: AppendMigration},
		},
		{
			name: "drift on remote target with reset allowed",
			in:   Input{TargetHasData: true, Diff: drift, IsLocalTarget: false, ResetAllowed: true},
			want: Decision{Action: Fail, Reason: ReasonRemoteResetForbidden},
		},
		{
			name: "drift on local target without permission",
			in:   Input{TargetHasData: true, Diff: drift, IsLocalTarget: true, ResetAllowed: false},
			want: Decision{Action: Fail, Reason: ReasonResetNotPermitted},
		},
		{
			name: "drift on local target with permission",
			in:   Input{TargetHasData: true, Diff: drift, IsLocalTarget: true, ResetAllowed: true},
			want: Decision{Action: FullReset},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.in); got != tt.want {
				t.Errorf("Decide(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecide_EmptyDiffValueIsNoDifference(t *testing.T) {
	got := Decide(Input{TargetHasData: true, Diff: &schema.SchemaDiff{}})
	if got != (Decision{Action: NoOp}) {
		t.Errorf("expected NoOp for an empty diff, got %+v", got)
	}
}

func TestDecide_Exhaustive(t *testing.T) {
	bools := []bool{false, true}
	for _, hasData := range bools {
		for _, hasDiff := range bools {
			for _, migration := range bools {
				for _, local := range bools {
					for _, allowed := range bools {
						in := Input{
							TargetHasData:            hasData,
							MigrationScriptAvailable: migration,
							IsLocalTarget:            local,
							ResetAllowed:             allowed,
						}
						if hasDiff {
							in.Diff = drift
						}
						got := Decide(in)
						if again := Decide(in); again != got {
							t.Errorf("Decide(%+v) is not deterministic: %+v then %+v", in, got, again)
						}

						// a non-empty remote target is never reset
						if hasData && !local && got.Action == FullReset {
							t.Errorf("Decide(%+v) resets a remote target", in)
						}
						if (got.Action == Fail) != (got.Reason != "") {
							t.Errorf("Decide(%+v) = %+v: a reason goes with Fail and only Fail", in, got)
						}
					}
				}
			}
		}
	}
}
