package track

import (
	"context"
	"fmt"

	"github.com/manifest-network/tracksync/internal/models"
	"github.com/manifest-network/tracksync/internal/pipeline"
	"github.com/manifest-network/tracksync/internal/syncerr"
)

// BlockJoiner pairs headers with their events. Both inputs must come from the
// same HeaderFanout so that they stay in lockstep.
type BlockJoiner struct {
	Headers *pipeline.Receiver[models.SignedBlockHeader]
	Events  *pipeline.Receiver[models.BlockEvents]
}

// Spawn starts the joiner. Its channel closes once either input does.
func (j BlockJoiner) Spawn(g *pipeline.Group) *pipeline.Receiver[models.BlockData] {
	tx, rx := pipeline.NewChannel[models.BlockData](1)

	g.Go(func(context.Context) error {
		defer tx.Close()
		defer j.Events.Drop()
		defer j.Headers.Drop()

		for {
			result, ok := j.next()
			if !ok {
				return nil
			}
			if tx.Send(result) != nil || result.IsErr() {
				return nil
			}
		}
	})

	return rx
}

func (j BlockJoiner) next() (pipeline.Result[models.BlockData], bool) {
	h, ok := j.Headers.Recv()
	if !ok {
		return pipeline.Result[models.BlockData]{}, false
	}
	if h.IsErr() {
		return pipeline.Fail[models.BlockData](h.Err), true
	}

	e, ok := j.Events.Recv()
	if !ok {
		return pipeline.Result[models.BlockData]{}, false
	}
	if e.IsErr() {
		return pipeline.Fail[models.BlockData](e.Err), true
	}

	header, events := h.Value.Data, e.Value.Data
	if header.Header.Number != events.Header.Number {
		return pipeline.Fail[models.BlockData](pipeline.NewPeerError(h.Value.Peer,
			fmt.Errorf("%w: header %d paired with events of %d", syncerr.ErrStreamDivergence, header.Header.Number, events.Header.Number))), true
	}

	return pipeline.Ok(h.Value.Peer, models.BlockData{
		Header:     header,
		Events:     events.Events,
		EventsPeer: e.Value.Peer,
	}), true
}
