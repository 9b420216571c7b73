// Package runpool provides shared concurrency limiting for plan runs.
package runpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent plan runs using a weighted semaphore. All run
// entry points (client executions, server-mode sub-plan requests) should go
// through a shared Pool to bound memory and backend fan-out.
type Pool struct {
	sem *semaphore.Weighted
}

// New creates a Pool that allows at most limit concurrent runs.
func New(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit))}
}

// Run acquires a slot, runs fn, and releases the slot. Blocks if all slots
// are busy. Returns ctx.Err() if the context is cancelled while waiting.
// A nil pool executes fn directly without concurrency control.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
