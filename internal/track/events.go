package track

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/manifest-network/tracksync/internal/metrics"
	"github.com/manifest-network/tracksync/internal/models"
	"github.com/manifest-network/tracksync/internal/pipeline"
	"github.com/manifest-network/tracksync/internal/syncerr"
)

// WaitPolicy controls how the event source waits for a willing peer.
type WaitPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Timeout bounds the total wait for one block. Zero waits until the run is cancelled.
	Timeout time.Duration
}

// DefaultWaitPolicy polls quickly at first and settles at one attempt every five seconds.
func DefaultWaitPolicy() WaitPolicy {
	return WaitPolicy{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

func (w WaitPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.InitialInterval
	b.MaxInterval = w.MaxInterval
	b.MaxElapsedTime = w.Timeout
	b.Reset()
	return b
}

// EventSource fetches the events declared by each header from some willing peer.
type EventSource struct {
	Network Network
	Headers *pipeline.Receiver[models.BlockHeader]
	Wait    WaitPolicy
	Metrics *metrics.Metrics
}

// Spawn starts the source on a new task.
func (s EventSource) Spawn(g *pipeline.Group) *pipeline.Receiver[models.BlockEvents] {
	tx, rx := pipeline.NewChannel[models.BlockEvents](1)

	g.Go(func(ctx context.Context) error {
		defer tx.Close()
		defer s.Headers.Drop()

		for item := range s.Headers.All() {
			if item.IsErr() {
				_ = tx.Send(pipeline.Fail[models.BlockEvents](item.Err))
				return nil
			}

			result := s.fetch(ctx, item.Value.Data)
			if tx.Send(result) != nil || result.IsErr() {
				return nil
			}
		}
		return nil
	})

	return rx
}

// fetch reads exactly header.EventCount events for the block from one peer.
func (s EventSource) fetch(ctx context.Context, header models.BlockHeader) pipeline.Result[models.BlockEvents] {
	p, events, err := s.waitForPeer(ctx, header.Number)
	if err != nil {
		return pipeline.Fail[models.BlockEvents](pipeline.NewPeerError("", err))
	}

	next, stop := iter.Pull2(events)
	defer stop()

	block := models.NewBlockEvents(header)
	for i := uint64(0); i < header.EventCount; i++ {
		txHash, event, ok := next()
		if !ok {
			slog.Warn("Peer sent too few events", "peer", p, "height", header.Number, "declared", header.EventCount, "received", i)
			return pipeline.Fail[models.BlockEvents](pipeline.NewPeerError(p,
				fmt.Errorf("%w: block %d declared %d, received %d", syncerr.ErrTooFewEvents, header.Number, header.EventCount, i)))
		}
		block.Append(txHash, event)
	}

	if _, _, more := next(); more {
		slog.Warn("Peer sent too many events", "peer", p, "height", header.Number, "declared", header.EventCount)
		return pipeline.Fail[models.BlockEvents](pipeline.NewPeerError(p,
			fmt.Errorf("%w: block %d declared %d", syncerr.ErrTooManyEvents, header.Number, header.EventCount)))
	}

	return pipeline.Ok(p, block)
}

func (s EventSource) waitForPeer(ctx context.Context, number uint64) (peer.ID, iter.Seq2[models.TransactionHash, models.Event], error) {
	b := s.Wait.backOff()
	for {
		if p, events, ok := s.Network.EventsForBlock(ctx, number); ok {
			return p, events, nil
		}
		s.Metrics.EventPollRetry()

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return "", nil, fmt.Errorf("%w: events of block %d after %s", syncerr.ErrNoPeerAvailable, number, s.Wait.Timeout)
		}

		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}
