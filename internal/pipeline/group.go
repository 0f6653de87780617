package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Group owns the tasks of one pipeline run.
type Group struct {
	eg  *errgroup.Group
	ctx context.Context
}

// NewGroup creates a task group whose tasks observe ctx.
func NewGroup(ctx context.Context) *Group {
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{eg: eg, ctx: ctx}
}

// Go schedules task on its own goroutine.
func (g *Group) Go(task func(ctx context.Context) error) {
	g.eg.Go(func() error {
		return task(g.ctx)
	})
}

// Wait blocks until every task has returned.
func (g *Group) Wait() error {
	return g.eg.Wait()
}
