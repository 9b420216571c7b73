package plan

import (
	"fmt"

	"github.com/planweave/planweave/internal/domain"
)

// Validate checks the structural invariants of a plan before execution:
// non-empty unique step ids, kind-specific required fields, known predicate
// operators, and no forward references between steps. References that do not
// name a step id are left to runtime resolution (they may target run inputs
// or loop variables).
func Validate(p *Plan) error {
	if p == nil {
		return fmt.Errorf("%w: nil plan", domain.ErrMalformedPayload)
	}
	allIDs := make(map[string]bool)
	if err := collectIDs(p.Steps, allIDs); err != nil {
		return err
	}
	seen := make(map[string]bool, len(allIDs))
	return validateSteps(p.Steps, allIDs, seen)
}

// ValidateSteps checks a bare step sequence (server-mode sub-plans arrive
// without a Plan wrapper).
func ValidateSteps(steps []Step) error {
	return Validate(&Plan{ID: "sub", Steps: steps})
}

// collectIDs walks the full step tree recording every step id, failing on
// duplicates or empty ids.
func collectIDs(steps []Step, ids map[string]bool) error {
	for i := range steps {
		s := &steps[i]
		if s.ID == "" {
			return fmt.Errorf("%w: step %d has no id", domain.ErrMalformedPayload, i)
		}
		if ids[s.ID] {
			return fmt.Errorf("%w: step id %q", domain.ErrDuplicateIdentifier, s.ID)
		}
		ids[s.ID] = true
		for _, sub := range [][]Step{s.Then, s.Else, s.Body} {
			if err := collectIDs(sub, ids); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateSteps checks each step in program order. seen accumulates the ids
// of steps already valid to reference; referencing a step id that exists in
// the plan but has not yet been seen is a forward reference (cycle by
// construction) and is rejected.
func validateSteps(steps []Step, allIDs, seen map[string]bool) error {
	for i := range steps {
		s := &steps[i]
		switch s.Kind {
		case KindTask:
			if s.TaskID == "" || s.AgentID == "" {
				return fmt.Errorf("%w: task step %q needs agent_id and task_id", domain.ErrMalformedPayload, s.ID)
			}
			for name, b := range s.Inputs {
				if err := checkRef(b, allIDs, seen, s.ID, name); err != nil {
					return err
				}
			}
		case KindConditional:
			if s.If == nil {
				return fmt.Errorf("%w: conditional step %q has no predicate", domain.ErrMalformedPayload, s.ID)
			}
			if err := checkPredicate(s.If, allIDs, seen, s.ID); err != nil {
				return err
			}
			// Each branch sees the same prefix of completed steps; what one
			// branch binds is invisible to the other and to later steps,
			// since at most one branch runs.
			if err := validateSteps(s.Then, allIDs, copySeen(seen)); err != nil {
				return err
			}
			if err := validateSteps(s.Else, allIDs, copySeen(seen)); err != nil {
				return err
			}
		case KindLoop:
			bounded := s.Over != nil
			guarded := s.While != nil
			if bounded == guarded {
				return fmt.Errorf("%w: loop step %q must have exactly one of over/while", domain.ErrMalformedPayload, s.ID)
			}
			if bounded {
				if s.Var == "" {
					return fmt.Errorf("%w: loop step %q has no var", domain.ErrMalformedPayload, s.ID)
				}
				if err := checkRef(*s.Over, allIDs, seen, s.ID, "over"); err != nil {
					return err
				}
			}
			if guarded {
				// The guard may watch bindings the loop's own body produces;
				// anything it references beyond those must already be seen.
				guardSeen := copySeen(seen)
				markIDs(s.Body, guardSeen)
				if err := checkPredicate(s.While, allIDs, guardSeen, s.ID); err != nil {
					return err
				}
			}
			// Body bindings are scoped to the loop and cannot be referenced
			// after it. Within the body, references to sibling body ids are
			// allowed regardless of order: iterations rebind, so a "forward"
			// reference resolves to the previous pass's binding (or to a run
			// input on the first pass).
			bodySeen := copySeen(seen)
			markIDs(s.Body, bodySeen)
			if err := validateSteps(s.Body, allIDs, bodySeen); err != nil {
				return err
			}
		case KindSubPlan:
			if s.AgentID == "" {
				return fmt.Errorf("%w: subplan step %q has no agent_id", domain.ErrMalformedPayload, s.ID)
			}
			if len(s.SubPlan) == 0 {
				return fmt.Errorf("%w: subplan step %q has no sub_plan", domain.ErrMalformedPayload, s.ID)
			}
			for name, b := range s.SubInputs {
				if err := checkRef(b, allIDs, seen, s.ID, name); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("%w: step %q has unknown kind %q", domain.ErrMalformedPayload, s.ID, s.Kind)
		}
		seen[s.ID] = true
	}
	return nil
}

func checkPredicate(p *Predicate, allIDs, seen map[string]bool, stepID string) error {
	switch p.Op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpContains, OpExists:
	default:
		return fmt.Errorf("%w: step %q has unknown operator %q", domain.ErrMalformedPayload, stepID, p.Op)
	}
	if err := checkRef(p.Left, allIDs, seen, stepID, "left"); err != nil {
		return err
	}
	return checkRef(p.Right, allIDs, seen, stepID, "right")
}

// markIDs records every step id in the subtree without validating it.
func markIDs(steps []Step, m map[string]bool) {
	for i := range steps {
		s := &steps[i]
		m[s.ID] = true
		for _, sub := range [][]Step{s.Then, s.Else, s.Body} {
			markIDs(sub, m)
		}
	}
}

func copySeen(seen map[string]bool) map[string]bool {
	out := make(map[string]bool, len(seen))
	for k, v := range seen {
		out[k] = v
	}
	return out
}

// checkRef rejects references to step ids that are declared later in the plan.
func checkRef(b Binding, allIDs, seen map[string]bool, stepID, field string) error {
	if !b.IsRef() {
		return nil
	}
	if allIDs[b.From] && !seen[b.From] {
		return fmt.Errorf("%w: step %q input %q references later step %q",
			domain.ErrUnresolvedReference, stepID, field, b.From)
	}
	return nil
}
