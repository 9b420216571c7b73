package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/planweave/planweave/internal/broker"
	"github.com/planweave/planweave/internal/domain"
	"github.com/planweave/planweave/internal/domain/agent"
	"github.com/planweave/planweave/internal/domain/event"
	"github.com/planweave/planweave/internal/domain/plan"
	"github.com/planweave/planweave/internal/domain/task"
	"github.com/planweave/planweave/internal/engine"
	"github.com/planweave/planweave/internal/port/backend"
	"github.com/planweave/planweave/internal/registry"
)

// localDispatcher runs local task functions directly, the way the real
// dispatcher's local backend does.
type localDispatcher struct{}

func (localDispatcher) Dispatch(ctx context.Context, _ *agent.Agent, req *backend.Request) (any, error) {
	if req.Task == nil || req.Task.Fn == nil {
		return nil, domain.ErrUnknownTask
	}
	return req.Task.Fn(ctx, req.Inputs)
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	if err := reg.RegisterAgent(&agent.Agent{ID: "local", Name: "Local", Kind: agent.KindLocal}); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	tasks := []*task.Task{
		{
			ID: "double", AgentID: "local",
			Inputs: []task.InputSpec{{Name: "n", Type: "number", Required: true}},
			Fn: func(_ context.Context, in map[string]any) (any, error) {
				n, _ := in["n"].(float64)
				return n * 2, nil
			},
		},
		{
			ID: "fail", AgentID: "local",
			Fn: func(context.Context, map[string]any) (any, error) {
				return nil, errors.New("task blew up")
			},
		},
		{
			ID: "incr", AgentID: "local",
			Inputs: []task.InputSpec{{Name: "n", Type: "number", Required: true}},
			Fn: func(_ context.Context, in map[string]any) (any, error) {
				n, _ := in["n"].(float64)
				return n + 1, nil
			},
		},
		{
			ID: "constant", AgentID: "local",
			Inputs: []task.InputSpec{{Name: "v", Type: "number", Default: float64(7)}},
			Fn: func(_ context.Context, in map[string]any) (any, error) {
				return in["v"], nil
			},
		},
	}
	for _, tk := range tasks {
		if err := reg.RegisterTask(tk); err != nil {
			t.Fatalf("RegisterTask %s: %v", tk.ID, err)
		}
	}
	return reg
}

func newInterpreter(t *testing.T, maxLoop int) *engine.Interpreter {
	t.Helper()
	return engine.New(testRegistry(t), localDispatcher{}, engine.Config{MaxLoopIterations: maxLoop})
}

// runPlan executes steps and returns the output, error, and captured events.
func runPlan(t *testing.T, itp *engine.Interpreter, steps []plan.Step, inputs engine.Inputs) (any, error, []event.Event) {
	t.Helper()
	capture := broker.NewCaptureSink()
	out, err := itp.Run(context.Background(), broker.New(capture), &plan.Plan{ID: "p1", Steps: steps}, inputs)
	return out, err, capture.Events()
}

// assertSingleTerminal checks exactly one terminal event exists and it is
// the last one.
func assertSingleTerminal(t *testing.T, events []event.Event, want event.Kind) event.Event {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	terminals := 0
	for _, ev := range events {
		if ev.Event.IsTerminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("terminal events = %d, want exactly 1", terminals)
	}
	last := events[len(events)-1]
	if last.Event != want {
		t.Fatalf("terminal = %s, want %s", last.Event, want)
	}
	return last
}

func TestRunTaskSequence(t *testing.T) {
	itp := newInterpreter(t, 10)

	steps := []plan.Step{
		{ID: "a", Kind: plan.KindTask, AgentID: "local", TaskID: "double",
			Inputs: map[string]plan.Binding{"n": plan.Lit(float64(3))}},
		{ID: "b", Kind: plan.KindTask, AgentID: "local", TaskID: "double",
			Inputs: map[string]plan.Binding{"n": plan.Ref("a")}},
	}

	out, err, events := runPlan(t, itp, steps, engine.Inputs{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != float64(12) {
		t.Errorf("output = %v, want 12", out)
	}

	wantKinds := []event.Kind{
		event.KindPlanStart,
		event.KindStepStart, event.KindStepEnd,
		event.KindStepStart, event.KindStepEnd,
		event.KindDone,
	}
	if len(events) != len(wantKinds) {
		t.Fatalf("events = %d, want %d", len(events), len(wantKinds))
	}
	for i, want := range wantKinds {
		if events[i].Event != want {
			t.Errorf("events[%d] = %s, want %s", i, events[i].Event, want)
		}
	}
	assertSingleTerminal(t, events, event.KindDone)
}

func TestRunInputReferences(t *testing.T) {
	itp := newInterpreter(t, 10)

	steps := []plan.Step{
		{ID: "a", Kind: plan.KindTask, AgentID: "local", TaskID: "double",
			Inputs: map[string]plan.Binding{"n": plan.Ref("seed")}},
	}

	out, err, _ := runPlan(t, itp, steps, engine.Inputs{Values: map[string]any{"seed": float64(21)}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != float64(42) {
		t.Errorf("output = %v, want 42", out)
	}
}

func TestRunDefaultBinding(t *testing.T) {
	itp := newInterpreter(t, 10)

	steps := []plan.Step{
		{ID: "a", Kind: plan.KindTask, AgentID: "local", TaskID: "constant"},
	}

	out, err, _ := runPlan(t, itp, steps, engine.Inputs{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != float64(7) {
		t.Errorf("output = %v, want declared default 7", out)
	}
}

func TestRunConditionalThen(t *testing.T) {
	itp := newInterpreter(t, 10)

	steps := []plan.Step{
		{ID: "c", Kind: plan.KindConditional,
			If: &plan.Predicate{Left: plan.Lit(float64(42)), Op: plan.OpGt, Right: plan.Lit(float64(10))},
			Then: []plan.Step{
				{ID: "t", Kind: plan.KindTask, AgentID: "local", TaskID: "double",
					Inputs: map[string]plan.Binding{"n": plan.Lit(float64(1))}},
			},
			Else: []plan.Step{
				{ID: "e", Kind: plan.KindTask, AgentID: "local", TaskID: "fail"},
			},
		},
	}

	out, err, events := runPlan(t, itp, steps, engine.Inputs{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != float64(2) {
		t.Errorf("output = %v, want 2", out)
	}

	var branch event.Event
	for _, ev := range events {
		if ev.Event == event.KindBranchTaken {
			branch = ev
		}
		if ev.Event == event.KindStepStart && ev.Details["step_id"] == "e" {
			t.Error("else branch executed alongside then branch")
		}
	}
	if branch.Details["branch"] != "then" {
		t.Errorf("branch = %v, want then", branch.Details["branch"])
	}
}

func TestRunConditionalEmptyElse(t *testing.T) {
	itp := newInterpreter(t, 10)

	steps := []plan.Step{
		{ID: "c", Kind: plan.KindConditional,
			If: &plan.Predicate{Left: plan.Lit(float64(1)), Op: plan.OpGt, Right: plan.Lit(float64(10))},
			Then: []plan.Step{
				{ID: "t", Kind: plan.KindTask, AgentID: "local", TaskID: "fail"},
			},
		},
	}

	out, err, events := runPlan(t, itp, steps, engine.Inputs{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != nil {
		t.Errorf("output = %v, want nil for empty else", out)
	}
	assertSingleTerminal(t, events, event.KindDone)
}

func TestRunBoundedLoop(t *testing.T) {
	itp := newInterpreter(t, 10)

	steps := []plan.Step{
		{ID: "l", Kind: plan.KindLoop,
			Over: &plan.Binding{Value: []any{float64(1), float64(2), float64(3)}},
			Var:  "item",
			Body: []plan.Step{
				{ID: "body", Kind: plan.KindTask, AgentID: "local", TaskID: "double",
					Inputs: map[string]plan.Binding{"n": plan.Ref("item")}},
			},
		},
	}

	out, err, events := runPlan(t, itp, steps, engine.Inputs{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The loop's value is its last iteration's body output: 3*2.
	if out != float64(6) {
		t.Errorf("output = %v, want 6", out)
	}

	var iterations []event.Event
	var stepEnds []event.Event
	for _, ev := range events {
		switch ev.Event {
		case event.KindLoopIteration:
			iterations = append(iterations, ev)
		case event.KindStepEnd:
			stepEnds = append(stepEnds, ev)
		}
	}
	if len(iterations) != 3 {
		t.Fatalf("LOOP_ITERATION events = %d, want 3", len(iterations))
	}
	for i, ev := range iterations {
		if idx, _ := ev.Details["index"].(int); idx != i {
			t.Errorf("iteration %d has index %v", i, ev.Details["index"])
		}
	}
	// Each iteration rebinds the body step in a fresh frame.
	wantOutputs := []float64{2, 4, 6}
	if len(stepEnds) != 3 {
		t.Fatalf("STEP_END events = %d, want 3", len(stepEnds))
	}
	for i, ev := range stepEnds {
		if got, _ := ev.Details["output"].(float64); got != wantOutputs[i] {
			t.Errorf("iteration %d output = %v, want %v", i, ev.Details["output"], wantOutputs[i])
		}
	}
	assertSingleTerminal(t, events, event.KindDone)
}

func TestRunBoundedLoopSingleIteration(t *testing.T) {
	itp := newInterpreter(t, 10)

	steps := []plan.Step{
		{ID: "l", Kind: plan.KindLoop,
			Over: &plan.Binding{Value: []any{float64(5)}},
			Var:  "item",
			Body: []plan.Step{
				{ID: "body", Kind: plan.KindTask, AgentID: "local", TaskID: "double",
					Inputs: map[string]plan.Binding{"n": plan.Ref("item")}},
			},
		},
	}

	out, err, events := runPlan(t, itp, steps, engine.Inputs{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != float64(10) {
		t.Errorf("output = %v, want 10", out)
	}

	iterations := 0
	for _, ev := range events {
		if ev.Event == event.KindLoopIteration {
			iterations++
		}
	}
	if iterations != 1 {
		t.Errorf("LOOP_ITERATION events = %d, want 1", iterations)
	}
}

func TestRunBoundedLoopExceedsBound(t *testing.T) {
	itp := newInterpreter(t, 2)

	steps := []plan.Step{
		{ID: "l", Kind: plan.KindLoop,
			Over: &plan.Binding{Value: []any{float64(1), float64(2), float64(3)}},
			Var:  "item",
			Body: nil,
		},
	}

	_, err, events := runPlan(t, itp, steps, engine.Inputs{})
	if !errors.Is(err, domain.ErrLoopBoundExceeded) {
		t.Fatalf("err = %v, want ErrLoopBoundExceeded", err)
	}

	// Oversized collections are rejected before the first iteration.
	for _, ev := range events {
		if ev.Event == event.KindLoopIteration {
			t.Fatal("no iteration should run for an oversized collection")
		}
	}
	last := assertSingleTerminal(t, events, event.KindError)
	if last.Details["kind"] != "LoopBoundExceeded" {
		t.Errorf("error kind = %v, want LoopBoundExceeded", last.Details["kind"])
	}
}

func TestRunGuardedLoopBound(t *testing.T) {
	itp := newInterpreter(t, 3)

	steps := []plan.Step{
		{ID: "l", Kind: plan.KindLoop,
			While: &plan.Predicate{Left: plan.Lit(float64(1)), Op: plan.OpEq, Right: plan.Lit(float64(1))},
			Body:  nil,
		},
	}

	_, err, events := runPlan(t, itp, steps, engine.Inputs{})
	if !errors.Is(err, domain.ErrLoopBoundExceeded) {
		t.Fatalf("err = %v, want ErrLoopBoundExceeded", err)
	}

	last := assertSingleTerminal(t, events, event.KindError)
	if last.Details["kind"] != "LoopBoundExceeded" {
		t.Errorf("error kind = %v, want LoopBoundExceeded", last.Details["kind"])
	}

	iterations := 0
	for _, ev := range events {
		if ev.Event == event.KindLoopIteration {
			iterations++
		}
	}
	if iterations != 3 {
		t.Errorf("LOOP_ITERATION events = %d, want 3 before the bound trips", iterations)
	}
}

func TestRunGuardedLoopTerminates(t *testing.T) {
	itp := newInterpreter(t, 100)

	// Guard on a run input that is absent: exists(missing) is false
	// immediately, so the body never runs.
	steps := []plan.Step{
		{ID: "l", Kind: plan.KindLoop,
			While: &plan.Predicate{Left: plan.Ref("missing"), Op: plan.OpExists},
			Body:  nil,
		},
	}

	out, err, events := runPlan(t, itp, steps, engine.Inputs{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != nil {
		t.Errorf("output = %v, want nil (zero iterations)", out)
	}
	assertSingleTerminal(t, events, event.KindDone)
}

// countdownLoop is a guarded loop whose body rebinds "count" each pass; the
// guard watches it and goes false once it reaches 3.
func countdownLoop() []plan.Step {
	return []plan.Step{
		{ID: "l", Kind: plan.KindLoop,
			While: &plan.Predicate{Left: plan.Ref("count"), Op: plan.OpLt, Right: plan.Lit(float64(3))},
			Body: []plan.Step{
				{ID: "count", Kind: plan.KindTask, AgentID: "local", TaskID: "incr",
					Inputs: map[string]plan.Binding{"n": plan.Ref("count")}},
			},
		},
	}
}

func TestRunGuardedLoopObservesBodyProgress(t *testing.T) {
	itp := newInterpreter(t, 10)

	inputs := engine.Inputs{Values: map[string]any{"count": float64(0)}}
	out, err, events := runPlan(t, itp, countdownLoop(), inputs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != float64(3) {
		t.Errorf("output = %v, want 3", out)
	}

	iterations := 0
	for _, ev := range events {
		if ev.Event == event.KindLoopIteration {
			iterations++
		}
	}
	if iterations != 3 {
		t.Errorf("LOOP_ITERATION events = %d, want 3", iterations)
	}
	assertSingleTerminal(t, events, event.KindDone)
}

func TestRunGuardedLoopCompletesAtBound(t *testing.T) {
	// The guard turns false exactly when the cap is reached; the loop
	// completes instead of erroring.
	itp := newInterpreter(t, 3)

	inputs := engine.Inputs{Values: map[string]any{"count": float64(0)}}
	out, err, events := runPlan(t, itp, countdownLoop(), inputs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != float64(3) {
		t.Errorf("output = %v, want 3", out)
	}
	assertSingleTerminal(t, events, event.KindDone)
}

func TestRunForwardReferenceRejected(t *testing.T) {
	itp := newInterpreter(t, 10)

	steps := []plan.Step{
		{ID: "a", Kind: plan.KindTask, AgentID: "local", TaskID: "double",
			Inputs: map[string]plan.Binding{"n": plan.Ref("b")}},
		{ID: "b", Kind: plan.KindTask, AgentID: "local", TaskID: "double",
			Inputs: map[string]plan.Binding{"n": plan.Lit(float64(1))}},
	}

	_, err, events := runPlan(t, itp, steps, engine.Inputs{})
	if !errors.Is(err, domain.ErrUnresolvedReference) {
		t.Fatalf("err = %v, want ErrUnresolvedReference", err)
	}

	// Structural rejection happens before any step executes but still ends
	// the stream with a terminal ERROR event.
	for _, ev := range events {
		if ev.Event == event.KindStepStart {
			t.Error("step executed despite forward reference")
		}
	}
	assertSingleTerminal(t, events, event.KindError)
}

func TestRunDuplicateStepID(t *testing.T) {
	itp := newInterpreter(t, 10)

	steps := []plan.Step{
		{ID: "a", Kind: plan.KindTask, AgentID: "local", TaskID: "double",
			Inputs: map[string]plan.Binding{"n": plan.Lit(float64(1))}},
		{ID: "a", Kind: plan.KindTask, AgentID: "local", TaskID: "double",
			Inputs: map[string]plan.Binding{"n": plan.Lit(float64(2))}},
	}

	_, err, events := runPlan(t, itp, steps, engine.Inputs{})
	if !errors.Is(err, domain.ErrDuplicateIdentifier) {
		t.Fatalf("err = %v, want ErrDuplicateIdentifier", err)
	}
	assertSingleTerminal(t, events, event.KindError)
}

func TestRunUnknownTask(t *testing.T) {
	itp := newInterpreter(t, 10)

	steps := []plan.Step{
		{ID: "a", Kind: plan.KindTask, AgentID: "local", TaskID: "nope"},
	}

	_, err, events := runPlan(t, itp, steps, engine.Inputs{})
	if !errors.Is(err, domain.ErrUnknownTask) {
		t.Fatalf("err = %v, want ErrUnknownTask", err)
	}
	last := assertSingleTerminal(t, events, event.KindError)
	if last.Details["kind"] != "UnknownTask" {
		t.Errorf("error kind = %v", last.Details["kind"])
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	itp := newInterpreter(t, 10)

	steps := []plan.Step{
		{ID: "a", Kind: plan.KindTask, AgentID: "local", TaskID: "double",
			Inputs: map[string]plan.Binding{"n": plan.Lit(float64(1))}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	capture := broker.NewCaptureSink()
	_, err := itp.Run(ctx, broker.New(capture), &plan.Plan{ID: "p1", Steps: steps}, engine.Inputs{})
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	assertSingleTerminal(t, capture.Events(), event.KindCancelled)
}

func TestRunCancelledMidRun(t *testing.T) {
	reg := testRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())

	// The first task cancels the run; the boundary check before the second
	// step must stop execution with a CANCELLED terminal.
	err := reg.RegisterTask(&task.Task{
		ID: "trip", AgentID: "local",
		Fn: func(context.Context, map[string]any) (any, error) {
			cancel()
			return "done", nil
		},
	})
	if err != nil {
		t.Fatalf("RegisterTask: %v", err)
	}
	itp := engine.New(reg, localDispatcher{}, engine.Config{MaxLoopIterations: 10})

	steps := []plan.Step{
		{ID: "a", Kind: plan.KindTask, AgentID: "local", TaskID: "trip"},
		{ID: "b", Kind: plan.KindTask, AgentID: "local", TaskID: "fail"},
	}

	capture := broker.NewCaptureSink()
	_, runErr := itp.Run(ctx, broker.New(capture), &plan.Plan{ID: "p1", Steps: steps}, engine.Inputs{})
	if !errors.Is(runErr, domain.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", runErr)
	}

	events := capture.Events()
	for _, ev := range events {
		if ev.Event == event.KindStepStart && ev.Details["step_id"] == "b" {
			t.Error("step after cancellation executed")
		}
	}
	assertSingleTerminal(t, events, event.KindCancelled)
}

func TestRunLocalSubPlanFreshScope(t *testing.T) {
	itp := newInterpreter(t, 10)

	subPlan, err := json.Marshal([]plan.Step{
		{ID: "inner", Kind: plan.KindTask, AgentID: "local", TaskID: "double",
			Inputs: map[string]plan.Binding{"n": plan.Ref("seed")}},
	})
	if err != nil {
		t.Fatal(err)
	}

	steps := []plan.Step{
		{ID: "outer", Kind: plan.KindTask, AgentID: "local", TaskID: "double",
			Inputs: map[string]plan.Binding{"n": plan.Lit(float64(4))}},
		{ID: "sub", Kind: plan.KindSubPlan, AgentID: "local",
			SubID:     1,
			SubPlan:   subPlan,
			SubInputs: map[string]plan.Binding{"seed": plan.Ref("outer")}},
	}

	out, runErr, events := runPlan(t, itp, steps, engine.Inputs{})
	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}
	// outer: 4*2=8, sub receives seed=8 and doubles it.
	if out != float64(16) {
		t.Errorf("output = %v, want 16", out)
	}
	assertSingleTerminal(t, events, event.KindDone)
}

func TestRunLocalSubPlanCannotSeeParentOutputs(t *testing.T) {
	itp := newInterpreter(t, 10)

	// The inner step references the parent's step id directly instead of a
	// declared sub-plan input; the fresh scope must not resolve it.
	subPlan, err := json.Marshal([]plan.Step{
		{ID: "inner", Kind: plan.KindTask, AgentID: "local", TaskID: "double",
			Inputs: map[string]plan.Binding{"n": plan.Ref("outer")}},
	})
	if err != nil {
		t.Fatal(err)
	}

	steps := []plan.Step{
		{ID: "outer", Kind: plan.KindTask, AgentID: "local", TaskID: "double",
			Inputs: map[string]plan.Binding{"n": plan.Lit(float64(4))}},
		{ID: "sub", Kind: plan.KindSubPlan, AgentID: "local",
			SubID:   1,
			SubPlan: subPlan},
	}

	_, runErr, events := runPlan(t, itp, steps, engine.Inputs{})
	if !errors.Is(runErr, domain.ErrUnresolvedReference) {
		t.Fatalf("err = %v, want ErrUnresolvedReference", runErr)
	}
	assertSingleTerminal(t, events, event.KindError)
}

func TestRunTaskFailurePropagates(t *testing.T) {
	itp := newInterpreter(t, 10)

	steps := []plan.Step{
		{ID: "a", Kind: plan.KindTask, AgentID: "local", TaskID: "fail"},
		{ID: "b", Kind: plan.KindTask, AgentID: "local", TaskID: "double",
			Inputs: map[string]plan.Binding{"n": plan.Lit(float64(1))}},
	}

	_, err, events := runPlan(t, itp, steps, engine.Inputs{})
	if err == nil {
		t.Fatal("expected task failure to abort the run")
	}

	for _, ev := range events {
		if ev.Event == event.KindStepStart && ev.Details["step_id"] == "b" {
			t.Error("step after failure executed")
		}
	}
	assertSingleTerminal(t, events, event.KindError)
}

func TestRunReservedInputReferences(t *testing.T) {
	reg := testRegistry(t)
	err := reg.RegisterTask(&task.Task{
		ID: "passthrough", AgentID: "local",
		Inputs: []task.InputSpec{{Name: "v", Type: "object", Required: true}},
		Fn: func(_ context.Context, in map[string]any) (any, error) {
			return in["v"], nil
		},
	})
	if err != nil {
		t.Fatalf("RegisterTask: %v", err)
	}
	itp := engine.New(reg, localDispatcher{}, engine.Config{MaxLoopIterations: 10})

	steps := []plan.Step{
		{ID: "a", Kind: plan.KindTask, AgentID: "local", TaskID: "passthrough",
			Inputs: map[string]plan.Binding{"v": plan.Ref("message")}},
	}

	capture := broker.NewCaptureSink()
	out, runErr := itp.Run(context.Background(), broker.New(capture),
		&plan.Plan{ID: "p1", Steps: steps},
		engine.Inputs{Message: "hello"})
	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}
	if out != "hello" {
		t.Errorf("output = %v, want the run message", out)
	}
}
