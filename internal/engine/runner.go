package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	otelpw "github.com/planweave/planweave/internal/adapter/otel"
	"github.com/planweave/planweave/internal/broker"
	"github.com/planweave/planweave/internal/domain/plan"
	"github.com/planweave/planweave/internal/runpool"
)

// Runner wraps the interpreter with run lifecycle concerns: concurrency
// limiting, tracing, and logging. Concurrent runs share only the read-only
// registry; each run gets its own broker-bound sink.
type Runner struct {
	itp  *Interpreter
	pool *runpool.Pool
}

// NewRunner creates a Runner. pool may be nil to disable limiting.
func NewRunner(itp *Interpreter, pool *runpool.Pool) *Runner {
	return &Runner{itp: itp, pool: pool}
}

// Execute runs a full plan under a pool slot.
func (r *Runner) Execute(ctx context.Context, br *broker.Broker, p *plan.Plan, inputs Inputs) (any, error) {
	planID := p.ID
	if planID == "" {
		planID = uuid.NewString()
		p = &plan.Plan{ID: planID, Steps: p.Steps}
	}
	var out any
	err := r.pool.Run(ctx, func() error {
		runCtx, span := otelpw.StartRunSpan(ctx, planID, len(p.Steps))
		defer span.End()

		start := time.Now()
		var runErr error
		out, runErr = r.itp.Run(runCtx, br, p, inputs)
		logRun(planID, len(p.Steps), start, runErr)
		return runErr
	})
	return out, err
}

// ExecuteSteps runs a bare sub-plan step sequence under a pool slot
// (server mode).
func (r *Runner) ExecuteSteps(ctx context.Context, br *broker.Broker, planID string, steps []plan.Step, inputs Inputs) (any, error) {
	var out any
	err := r.pool.Run(ctx, func() error {
		runCtx, span := otelpw.StartRunSpan(ctx, planID, len(steps))
		defer span.End()

		start := time.Now()
		var runErr error
		out, runErr = r.itp.RunSteps(runCtx, br, planID, steps, inputs)
		logRun(planID, len(steps), start, runErr)
		return runErr
	})
	return out, err
}

func logRun(planID string, steps int, start time.Time, err error) {
	if err != nil {
		slog.Error("run failed",
			"plan_id", planID,
			"steps", steps,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return
	}
	slog.Info("run completed",
		"plan_id", planID,
		"steps", steps,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
