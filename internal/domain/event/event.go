// Package event defines the run event records streamed to consumers.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the kind of run event.
type Kind string

const (
	KindPlanStart     Kind = "PLAN_START"
	KindStepStart     Kind = "STEP_START"
	KindStepEnd       Kind = "STEP_END"
	KindBranchTaken   Kind = "BRANCH_TAKEN"
	KindLoopIteration Kind = "LOOP_ITERATION"
	KindDone          Kind = "DONE"
	KindError         Kind = "ERROR"
	KindCancelled     Kind = "CANCELLED"
)

// IsTerminal reports whether no further events follow this kind within a run.
func (k Kind) IsTerminal() bool {
	switch k {
	case KindDone, KindError, KindCancelled:
		return true
	}
	return false
}

// Event is a single immutable record in a run's event stream. Ordering is
// emission order; consumers may stop reading after a terminal kind.
type Event struct {
	ID        string         `json:"id"`
	PlanID    string         `json:"plan_id,omitempty"`
	Event     Kind           `json:"event"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// New builds an event with a fresh id and UTC timestamp.
func New(planID string, kind Kind, details map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		PlanID:    planID,
		Event:     kind,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}
