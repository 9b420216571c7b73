package plan_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/planweave/planweave/internal/domain"
	"github.com/planweave/planweave/internal/domain/plan"
)

func taskStep(id string, inputs map[string]plan.Binding) plan.Step {
	return plan.Step{ID: id, Kind: plan.KindTask, AgentID: "a", TaskID: "t", Inputs: inputs}
}

func TestValidateAccepts(t *testing.T) {
	p := &plan.Plan{ID: "p1", Steps: []plan.Step{
		taskStep("s1", nil),
		taskStep("s2", map[string]plan.Binding{"n": plan.Ref("s1")}),
		{ID: "c", Kind: plan.KindConditional,
			If:   &plan.Predicate{Left: plan.Ref("s2"), Op: plan.OpExists},
			Then: []plan.Step{taskStep("t1", nil)},
			Else: []plan.Step{taskStep("e1", nil)},
		},
		{ID: "l", Kind: plan.KindLoop, Over: &plan.Binding{From: "s1"}, Var: "item",
			Body: []plan.Step{taskStep("b1", map[string]plan.Binding{"n": plan.Ref("item")})},
		},
		{ID: "sub", Kind: plan.KindSubPlan, AgentID: "a", SubID: 1,
			SubPlan: json.RawMessage(`[]`)},
	}}

	if err := plan.Validate(p); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		steps []plan.Step
		want  error
	}{
		{
			"empty step id",
			[]plan.Step{{Kind: plan.KindTask, AgentID: "a", TaskID: "t"}},
			domain.ErrMalformedPayload,
		},
		{
			"duplicate step id",
			[]plan.Step{taskStep("s1", nil), taskStep("s1", nil)},
			domain.ErrDuplicateIdentifier,
		},
		{
			"duplicate id across nesting",
			[]plan.Step{
				taskStep("s1", nil),
				{ID: "c", Kind: plan.KindConditional,
					If:   &plan.Predicate{Left: plan.Lit(1), Op: plan.OpExists},
					Then: []plan.Step{taskStep("s1", nil)},
				},
			},
			domain.ErrDuplicateIdentifier,
		},
		{
			"forward reference",
			[]plan.Step{
				taskStep("s1", map[string]plan.Binding{"n": plan.Ref("s2")}),
				taskStep("s2", nil),
			},
			domain.ErrUnresolvedReference,
		},
		{
			"task without task_id",
			[]plan.Step{{ID: "s1", Kind: plan.KindTask, AgentID: "a"}},
			domain.ErrMalformedPayload,
		},
		{
			"conditional without predicate",
			[]plan.Step{{ID: "c", Kind: plan.KindConditional}},
			domain.ErrMalformedPayload,
		},
		{
			"unknown operator",
			[]plan.Step{{ID: "c", Kind: plan.KindConditional,
				If: &plan.Predicate{Left: plan.Lit(1), Op: "like", Right: plan.Lit(1)}}},
			domain.ErrMalformedPayload,
		},
		{
			"loop with both over and while",
			[]plan.Step{{ID: "l", Kind: plan.KindLoop,
				Over:  &plan.Binding{Value: []any{1}},
				While: &plan.Predicate{Left: plan.Lit(1), Op: plan.OpExists},
				Var:   "x"}},
			domain.ErrMalformedPayload,
		},
		{
			"loop with neither over nor while",
			[]plan.Step{{ID: "l", Kind: plan.KindLoop}},
			domain.ErrMalformedPayload,
		},
		{
			"bounded loop without var",
			[]plan.Step{{ID: "l", Kind: plan.KindLoop, Over: &plan.Binding{Value: []any{1}}}},
			domain.ErrMalformedPayload,
		},
		{
			"subplan without agent",
			[]plan.Step{{ID: "s", Kind: plan.KindSubPlan, SubPlan: json.RawMessage(`[]`)}},
			domain.ErrMalformedPayload,
		},
		{
			"subplan without cargo",
			[]plan.Step{{ID: "s", Kind: plan.KindSubPlan, AgentID: "a"}},
			domain.ErrMalformedPayload,
		},
		{
			"unknown kind",
			[]plan.Step{{ID: "s", Kind: "mystery"}},
			domain.ErrMalformedPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := plan.ValidateSteps(tt.steps)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateBranchesShareCompletedPrefix(t *testing.T) {
	// A then-branch may reference a step completed before the conditional,
	// but not a step inside the other branch.
	ok := []plan.Step{
		taskStep("s1", nil),
		{ID: "c", Kind: plan.KindConditional,
			If:   &plan.Predicate{Left: plan.Ref("s1"), Op: plan.OpExists},
			Then: []plan.Step{taskStep("t1", map[string]plan.Binding{"n": plan.Ref("s1")})},
		},
	}
	if err := plan.ValidateSteps(ok); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	bad := []plan.Step{
		{ID: "c", Kind: plan.KindConditional,
			If:   &plan.Predicate{Left: plan.Lit(1), Op: plan.OpExists},
			Then: []plan.Step{taskStep("t1", nil)},
			Else: []plan.Step{taskStep("e1", map[string]plan.Binding{"n": plan.Ref("t1")})},
		},
	}
	err := plan.ValidateSteps(bad)
	if !errors.Is(err, domain.ErrUnresolvedReference) {
		t.Fatalf("err = %v, want ErrUnresolvedReference for cross-branch reference", err)
	}
}

func TestValidateGuardMayWatchBody(t *testing.T) {
	// A guarded loop's condition may reference a step bound by its own body,
	// and a body step may reference its own id across iterations.
	ok := []plan.Step{
		{ID: "l", Kind: plan.KindLoop,
			While: &plan.Predicate{Left: plan.Ref("count"), Op: plan.OpLt, Right: plan.Lit(float64(3))},
			Body:  []plan.Step{taskStep("count", map[string]plan.Binding{"n": plan.Ref("count")})},
		},
	}
	if err := plan.ValidateSteps(ok); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	// Steps after the loop still cannot reach body bindings.
	afterLoop := []plan.Step{
		{ID: "l", Kind: plan.KindLoop,
			While: &plan.Predicate{Left: plan.Ref("count"), Op: plan.OpExists},
			Body:  []plan.Step{taskStep("count", nil)},
		},
		taskStep("s2", map[string]plan.Binding{"n": plan.Ref("count")}),
	}
	if err := plan.ValidateSteps(afterLoop); !errors.Is(err, domain.ErrUnresolvedReference) {
		t.Fatalf("err = %v, want ErrUnresolvedReference after the loop", err)
	}

	// Nor may the guard reach a step declared after the loop.
	laterSibling := []plan.Step{
		{ID: "l", Kind: plan.KindLoop,
			While: &plan.Predicate{Left: plan.Ref("s2"), Op: plan.OpExists},
		},
		taskStep("s2", nil),
	}
	if err := plan.ValidateSteps(laterSibling); !errors.Is(err, domain.ErrUnresolvedReference) {
		t.Fatalf("err = %v, want ErrUnresolvedReference for a later sibling in the guard", err)
	}
}

func TestValidateNilPlan(t *testing.T) {
	if err := plan.Validate(nil); !errors.Is(err, domain.ErrMalformedPayload) {
		t.Fatal("nil plan must be rejected")
	}
}
