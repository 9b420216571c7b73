package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	otelpw "github.com/planweave/planweave/internal/adapter/otel"
	"github.com/planweave/planweave/internal/broker"
	"github.com/planweave/planweave/internal/domain"
	"github.com/planweave/planweave/internal/domain/agent"
	"github.com/planweave/planweave/internal/domain/event"
	"github.com/planweave/planweave/internal/domain/plan"
	"github.com/planweave/planweave/internal/port/backend"
	"github.com/planweave/planweave/internal/registry"
)

// Dispatcher routes a resolved step to its execution backend. Satisfied by
// dispatch.Dispatcher; tests substitute stubs.
type Dispatcher interface {
	Dispatch(ctx context.Context, ag *agent.Agent, req *backend.Request) (any, error)
}

// Config bounds interpreter behavior.
type Config struct {
	// MaxLoopIterations caps loop repetition, guarded and bounded alike.
	// Exceeding it is a LoopBoundExceeded error, not an infinite run.
	MaxLoopIterations int
}

// DefaultMaxLoopIterations is used when Config.MaxLoopIterations is zero.
const DefaultMaxLoopIterations = 1000

// Interpreter walks a plan's step graph, dispatching task steps and emitting
// events. One Interpreter may serve many concurrent runs; all mutable run
// state lives in the per-run ExecContext.
type Interpreter struct {
	reg  *registry.Registry
	disp Dispatcher
	cfg  Config
}

// New creates an interpreter over the given registry and dispatcher.
func New(reg *registry.Registry, disp Dispatcher, cfg Config) *Interpreter {
	if cfg.MaxLoopIterations <= 0 {
		cfg.MaxLoopIterations = DefaultMaxLoopIterations
	}
	return &Interpreter{reg: reg, disp: disp, cfg: cfg}
}

// Run validates and executes a full plan, delivering events through br.
// Exactly one terminal event is emitted: DONE on success, CANCELLED when the
// context was cancelled between steps, ERROR otherwise. The returned value
// is the output of the last executed top-level step.
func (it *Interpreter) Run(ctx context.Context, br *broker.Broker, p *plan.Plan, inputs Inputs) (any, error) {
	if err := plan.Validate(p); err != nil {
		// Structural rejection still yields a terminal ERROR event.
		it.emitTerminal(ctx, br, p.ID, nil, err)
		return nil, err
	}
	return it.run(ctx, br, p.ID, p.Steps, inputs)
}

// RunSteps executes a bare step sequence (server-mode sub-plans). Validation
// and terminal-event semantics match Run.
func (it *Interpreter) RunSteps(ctx context.Context, br *broker.Broker, planID string, steps []plan.Step, inputs Inputs) (any, error) {
	if err := plan.ValidateSteps(steps); err != nil {
		it.emitTerminal(ctx, br, planID, nil, err)
		return nil, err
	}
	return it.run(ctx, br, planID, steps, inputs)
}

func (it *Interpreter) run(ctx context.Context, br *broker.Broker, planID string, steps []plan.Step, inputs Inputs) (any, error) {
	ec := NewContext(planID, inputs)

	if err := br.Emit(ctx, event.New(planID, event.KindPlanStart, map[string]any{
		"steps": len(steps),
	})); err != nil {
		return nil, err
	}

	out, err := it.execSteps(ctx, br, ec, steps)
	it.emitTerminal(ctx, br, planID, out, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// emitTerminal emits the single terminal event for a run. Emission uses a
// detached context so a cancelled run can still report its ending.
func (it *Interpreter) emitTerminal(ctx context.Context, br *broker.Broker, planID string, out any, err error) {
	emitCtx := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		_ = br.Emit(emitCtx, event.New(planID, event.KindDone, map[string]any{
			"output": out,
		}))
	case errors.Is(err, domain.ErrCancelled):
		_ = br.Emit(emitCtx, event.New(planID, event.KindCancelled, map[string]any{
			"error": err.Error(),
		}))
	default:
		_ = br.Emit(emitCtx, event.New(planID, event.KindError, map[string]any{
			"kind":  domain.Kind(err),
			"error": err.Error(),
		}))
	}
}

// execSteps runs a step sequence in program order. Cancellation is
// cooperative: checked at each step boundary, never mid-step.
func (it *Interpreter) execSteps(ctx context.Context, br *broker.Broker, ec *ExecContext, steps []plan.Step) (any, error) {
	var last any
	for i := range steps {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
		}
		out, err := it.execStep(ctx, br, ec, &steps[i])
		if err != nil {
			return nil, err
		}
		last = out
	}
	return last, nil
}

func (it *Interpreter) execStep(ctx context.Context, br *broker.Broker, ec *ExecContext, s *plan.Step) (any, error) {
	ctx, span := otelpw.StartStepSpan(ctx, s.ID, string(s.Kind))
	defer span.End()

	switch s.Kind {
	case plan.KindTask:
		return it.execTask(ctx, br, ec, s)
	case plan.KindConditional:
		return it.execConditional(ctx, br, ec, s)
	case plan.KindLoop:
		return it.execLoop(ctx, br, ec, s)
	case plan.KindSubPlan:
		return it.execSubPlan(ctx, br, ec, s)
	}
	return nil, fmt.Errorf("%w: step %q has unknown kind %q", domain.ErrMalformedPayload, s.ID, s.Kind)
}

func (it *Interpreter) execTask(ctx context.Context, br *broker.Broker, ec *ExecContext, s *plan.Step) (any, error) {
	resolved, err := resolveInputs(ec, s.Inputs)
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", s.ID, err)
	}

	t, err := it.reg.ResolveTask(s.AgentID, s.TaskID)
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", s.ID, err)
	}
	bound, err := t.BindDefaults(resolved)
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", s.ID, err)
	}
	ag, err := it.reg.ResolveAgent(s.AgentID)
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", s.ID, err)
	}

	if err := br.Emit(ctx, event.New(ec.PlanID(), event.KindStepStart, map[string]any{
		"step_id":  s.ID,
		"task_id":  s.TaskID,
		"agent_id": s.AgentID,
	})); err != nil {
		return nil, err
	}

	out, err := it.disp.Dispatch(ctx, ag, &backend.Request{
		PlanID: ec.PlanID(),
		StepID: s.ID,
		Task:   t,
		Inputs: bound,
	})
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", s.ID, err)
	}

	// Binding and STEP_END are sequenced together: a consumer observing
	// STEP_END is guaranteed later references to this step resolve.
	if err := ec.BindOutput(s.ID, out); err != nil {
		return nil, err
	}
	if err := br.Emit(ctx, event.New(ec.PlanID(), event.KindStepEnd, map[string]any{
		"step_id": s.ID,
		"output":  out,
	})); err != nil {
		return nil, err
	}
	return out, nil
}

func (it *Interpreter) execConditional(ctx context.Context, br *broker.Broker, ec *ExecContext, s *plan.Step) (any, error) {
	hold, err := evalPredicate(ec, s.If)
	if err != nil {
		return nil, fmt.Errorf("step %q predicate: %w", s.ID, err)
	}

	branch := "then"
	body := s.Then
	if !hold {
		branch = "else"
		body = s.Else
	}
	if err := br.Emit(ctx, event.New(ec.PlanID(), event.KindBranchTaken, map[string]any{
		"step_id": s.ID,
		"branch":  branch,
	})); err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	return it.execSteps(ctx, br, ec, body)
}

func (it *Interpreter) execLoop(ctx context.Context, br *broker.Broker, ec *ExecContext, s *plan.Step) (any, error) {
	if s.Over != nil {
		return it.execBoundedLoop(ctx, br, ec, s)
	}
	return it.execGuardedLoop(ctx, br, ec, s)
}

func (it *Interpreter) execBoundedLoop(ctx context.Context, br *broker.Broker, ec *ExecContext, s *plan.Step) (any, error) {
	src, err := resolveBinding(ec, *s.Over)
	if err != nil {
		return nil, fmt.Errorf("step %q over: %w", s.ID, err)
	}
	items, err := asSequence(src)
	if err != nil {
		return nil, fmt.Errorf("step %q over: %w", s.ID, err)
	}
	if len(items) > it.cfg.MaxLoopIterations {
		return nil, fmt.Errorf("%w: step %q collection has %d items, limit %d",
			domain.ErrLoopBoundExceeded, s.ID, len(items), it.cfg.MaxLoopIterations)
	}

	// One frame for the whole loop: the loop variable rebinds per pass and
	// body bindings persist across iterations, all discarded on exit.
	ec.PushFrame()
	defer ec.PopFrame()

	var last any
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
		}
		if err := br.Emit(ctx, event.New(ec.PlanID(), event.KindLoopIteration, map[string]any{
			"step_id": s.ID,
			"index":   i,
			"var":     s.Var,
		})); err != nil {
			return nil, err
		}
		ec.BeginIteration()
		ec.SetVar(s.Var, item)
		out, err := it.execSteps(ctx, br, ec, s.Body)
		if err != nil {
			return nil, err
		}
		last = out
	}
	return last, nil
}

func (it *Interpreter) execGuardedLoop(ctx context.Context, br *broker.Broker, ec *ExecContext, s *plan.Step) (any, error) {
	// One frame for the whole loop: body bindings persist across iterations
	// so the guard can watch them turn it false, and are discarded when the
	// loop exits.
	ec.PushFrame()
	defer ec.PopFrame()

	var last any
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
		}
		hold, err := evalPredicate(ec, s.While)
		if err != nil {
			return nil, fmt.Errorf("step %q guard: %w", s.ID, err)
		}
		if !hold {
			return last, nil
		}
		// The cap trips only when the guard is still true past the limit; a
		// loop whose guard turns false exactly at the cap completes normally.
		if i >= it.cfg.MaxLoopIterations {
			return nil, fmt.Errorf("%w: step %q exceeded %d iterations",
				domain.ErrLoopBoundExceeded, s.ID, it.cfg.MaxLoopIterations)
		}
		if err := br.Emit(ctx, event.New(ec.PlanID(), event.KindLoopIteration, map[string]any{
			"step_id": s.ID,
			"index":   i,
		})); err != nil {
			return nil, err
		}
		ec.BeginIteration()
		out, err := it.execSteps(ctx, br, ec, s.Body)
		if err != nil {
			return nil, err
		}
		last = out
	}
}

// execSubPlan delegates a sub-plan to the step's agent. Local agents
// interpret the payload in-process with a fresh scoped context; hosted and
// external agents receive it as opaque cargo through the dispatcher.
func (it *Interpreter) execSubPlan(ctx context.Context, br *broker.Broker, ec *ExecContext, s *plan.Step) (any, error) {
	ag, err := it.reg.ResolveAgent(s.AgentID)
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", s.ID, err)
	}
	resolved, err := resolveInputs(ec, s.SubInputs)
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", s.ID, err)
	}

	if err := br.Emit(ctx, event.New(ec.PlanID(), event.KindStepStart, map[string]any{
		"step_id":  s.ID,
		"agent_id": s.AgentID,
		"sub_id":   s.SubID,
	})); err != nil {
		return nil, err
	}

	var out any
	if ag.Kind == agent.KindLocal {
		out, err = it.execLocalSubPlan(ctx, br, ec, s, resolved)
	} else {
		out, err = it.disp.Dispatch(ctx, ag, &backend.Request{
			PlanID:    ec.PlanID(),
			StepID:    s.ID,
			SubID:     s.SubID,
			SubPlan:   s.SubPlan,
			SubInputs: resolved,
			Signature: s.Signature,
			Relay: func(ctx context.Context, ev event.Event) error {
				return br.Emit(ctx, ev)
			},
		})
	}
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", s.ID, err)
	}

	if err := ec.BindOutput(s.ID, out); err != nil {
		return nil, err
	}
	if err := br.Emit(ctx, event.New(ec.PlanID(), event.KindStepEnd, map[string]any{
		"step_id": s.ID,
		"output":  out,
	})); err != nil {
		return nil, err
	}
	return out, nil
}

func (it *Interpreter) execLocalSubPlan(ctx context.Context, br *broker.Broker, ec *ExecContext, s *plan.Step, inputs map[string]any) (any, error) {
	var steps []plan.Step
	if err := json.Unmarshal(s.SubPlan, &steps); err != nil {
		return nil, fmt.Errorf("%w: sub_plan: %v", domain.ErrMalformedPayload, err)
	}
	if err := plan.ValidateSteps(steps); err != nil {
		return nil, err
	}

	// Fresh scope: the sub-plan sees only its declared inputs and the run's
	// message/files, never the parent's step outputs.
	sub := NewContext(ec.PlanID(), Inputs{
		Message: ec.Inputs().Message,
		Files:   ec.Inputs().Files,
		Values:  inputs,
	})
	slog.Debug("executing local sub-plan", "plan_id", ec.PlanID(), "step_id", s.ID, "steps", len(steps))
	return it.execSteps(ctx, br, sub, steps)
}
