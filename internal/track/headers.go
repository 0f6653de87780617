package track

import (
	"context"
	"log/slog"

	"github.com/manifest-network/tracksync/internal/models"
	"github.com/manifest-network/tracksync/internal/pipeline"
)

// HeaderSource streams signed headers from start up to each newly announced tip.
//
// Tip regressions (reorgs) are not detected: a tip below the cursor is ignored.
type HeaderSource struct {
	Network Network
	Tips    <-chan models.Tip
	Start   uint64
}

// Spawn starts the source. Its channel closes when the tip channel does.
func (s HeaderSource) Spawn(g *pipeline.Group) *pipeline.Receiver[models.SignedBlockHeader] {
	tx, rx := pipeline.NewChannel[models.SignedBlockHeader](1)

	g.Go(func(ctx context.Context) error {
		defer tx.Close()

		cursor := s.Start
		for {
			var tip models.Tip
			select {
			case <-ctx.Done():
				return nil
			case t, ok := <-s.Tips:
				if !ok {
					return nil
				}
				tip = t
			}

			if tip.Number < cursor {
				continue
			}
			slog.Debug("Requesting headers", "from", cursor, "to", tip.Number)

			for item := range s.Network.HeaderStream(ctx, cursor, tip.Number, false) {
				if !item.IsErr() {
					cursor = item.Value.Data.Header.Number + 1
				}
				if tx.Send(item) != nil || item.IsErr() {
					return nil
				}
			}
		}
	})

	return rx
}

// HeaderFanout splits one header stream into two lockstep views of the same sequence:
// Headers carries the signed headers, Events the plain headers for the event source.
type HeaderFanout struct {
	Headers *pipeline.Receiver[models.SignedBlockHeader]
	Events  *pipeline.Receiver[models.BlockHeader]
}

// NewHeaderFanout consumes source on a new task.
func NewHeaderFanout(g *pipeline.Group, source *pipeline.Receiver[models.SignedBlockHeader], buffer int) HeaderFanout {
	hTx, hRx := pipeline.NewChannel[models.SignedBlockHeader](buffer)
	eTx, eRx := pipeline.NewChannel[models.BlockHeader](buffer)

	g.Go(func(context.Context) error {
		defer eTx.Close()
		defer hTx.Close()
		defer source.Drop()

		for item := range source.All() {
			if hTx.Send(item) != nil || item.IsErr() {
				return nil
			}
			if eTx.Send(pipeline.Ok(item.Value.Peer, item.Value.Data.Header)) != nil {
				return nil
			}
		}
		return nil
	})

	return HeaderFanout{Headers: hRx, Events: eRx}
}
