// Package track advances the local chain toward the network tip by streaming
// headers and events from peers through a pipeline of validation stages into storage.
package track

import (
	"context"
	"iter"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/manifest-network/tracksync/internal/models"
	"github.com/manifest-network/tracksync/internal/pipeline"
)

// Network fetches chain data from whichever peers are willing to serve it.
// Implementations must be safe for concurrent use.
type Network interface {
	// HeaderStream yields the signed headers of [start, end], each tagged with the
	// serving peer. Transport failures arrive as peer-attributed failure items.
	HeaderStream(ctx context.Context, start, end uint64, reverse bool) iter.Seq[pipeline.Result[models.SignedBlockHeader]]

	// EventsForBlock returns a peer and its event stream for block number, or
	// ok == false if no peer is currently willing to serve it.
	EventsForBlock(ctx context.Context, number uint64) (p peer.ID, events iter.Seq2[models.TransactionHash, models.Event], ok bool)
}

// TipSource announces the best chain tip known to the network.
type TipSource interface {
	// Subscribe returns a channel of tips that is closed once ctx is done or the source ends.
	Subscribe(ctx context.Context) <-chan models.Tip
}
