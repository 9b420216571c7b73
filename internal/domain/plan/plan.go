// Package plan defines the declarative step graph the interpreter executes.
package plan

import "encoding/json"

// Kind discriminates the step variants.
type Kind string

const (
	KindTask        Kind = "task"
	KindConditional Kind = "conditional"
	KindLoop        Kind = "loop"
	KindSubPlan     Kind = "subplan"
)

// Plan is an ordered sequence of steps executed in a single run.
// The interpreter never mutates a Plan; all run state lives in the
// execution context.
type Plan struct {
	ID    string `json:"plan_id"`
	Steps []Step `json:"steps"`
}

// Step is a tagged variant: exactly one group of fields is meaningful,
// selected by Kind.
type Step struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`

	// task: invoke TaskID on AgentID with Inputs.
	AgentID string             `json:"agent_id,omitempty"`
	TaskID  string             `json:"task_id,omitempty"`
	Inputs  map[string]Binding `json:"inputs,omitempty"`

	// conditional: evaluate If, run exactly one of Then/Else.
	If   *Predicate `json:"if,omitempty"`
	Then []Step     `json:"then,omitempty"`
	Else []Step     `json:"else,omitempty"`

	// loop: either bounded iteration (Over + Var) or guarded repetition (While).
	Over  *Binding   `json:"over,omitempty"`
	Var   string     `json:"var,omitempty"`
	While *Predicate `json:"while,omitempty"`
	Body  []Step     `json:"body,omitempty"`

	// subplan: opaque cargo delegated to the step's agent. The signature is
	// produced by the platform, never by this process.
	SubID     int                `json:"sub_id,omitempty"`
	SubPlan   json.RawMessage    `json:"sub_plan,omitempty"`
	SubInputs map[string]Binding `json:"sub_inputs,omitempty"`
	Signature string             `json:"signature,omitempty"`
}

// Binding supplies a step input: either a literal Value or a reference From
// naming a loop variable, an earlier step's output, or a run input.
type Binding struct {
	Value any    `json:"value,omitempty"`
	From  string `json:"from,omitempty"`
}

// Lit returns a literal binding.
func Lit(v any) Binding { return Binding{Value: v} }

// Ref returns a reference binding.
func Ref(name string) Binding { return Binding{From: name} }

// IsRef reports whether the binding is a reference.
func (b Binding) IsRef() bool { return b.From != "" }

// Op is a predicate comparison operator.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpContains Op = "contains"
	OpExists   Op = "exists"
)

// Predicate compares two bound values. For OpExists only Left is evaluated
// and the predicate holds when the reference resolves to a non-nil value.
type Predicate struct {
	Left  Binding `json:"left"`
	Op    Op      `json:"op"`
	Right Binding `json:"right,omitempty"`
}
