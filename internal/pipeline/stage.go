package pipeline

import (
	"context"
	"fmt"
	"log/slog"
)

// Stage maps one item to the next. A stage may keep private state for the
// duration of a single run; it is only ever called from one goroutine.
type Stage[In, Out any] interface {
	Map(ctx context.Context, in In) (Out, error)
}

// StageFunc adapts a plain function to a Stage.
type StageFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

func (f StageFunc[In, Out]) Map(ctx context.Context, in In) (Out, error) {
	return f(ctx, in)
}

// Attach schedules stage on a new task reading from upstream and returns the
// downstream receiver of the given capacity.
//
// Failures arriving from upstream are forwarded unchanged. Values are mapped and
// re-tagged with the peer of the input; a mapping error is attributed to that same
// peer. In both failure cases the task stops after forwarding.
func Attach[In, Out any](g *Group, upstream *Receiver[In], stage Stage[In, Out], buffer int) *Receiver[Out] {
	tx, rx := NewChannel[Out](buffer)
	name := fmt.Sprintf("%T", stage)

	g.Go(func(ctx context.Context) error {
		defer tx.Close()
		defer upstream.Drop()

		for item := range upstream.All() {
			if item.IsErr() {
				_ = tx.Send(Fail[Out](item.Err))
				return nil
			}

			out, err := stage.Map(ctx, item.Value.Data)
			if err != nil {
				slog.Warn("Pipeline stage failed", "stage", name, "peer", item.Value.Peer, "error", err)
				_ = tx.Send(Fail[Out](NewPeerError(item.Value.Peer, err)))
				return nil
			}

			if err := tx.Send(Ok(item.Value.Peer, out)); err != nil {
				slog.Debug("Pipeline stage stopped, downstream dropped", "stage", name)
				return nil
			}
		}
		return nil
	})

	return rx
}
