// Package client talks to the peer network: it streams headers and events from a
// set of gRPC peers and follows the chain tip over HTTP.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/libp2p/go-libp2p/core/peer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/manifest-network/tracksync/internal/models"
	"github.com/manifest-network/tracksync/internal/pipeline"
	"github.com/manifest-network/tracksync/internal/syncerr"
	"github.com/manifest-network/tracksync/internal/utils"
)

// PeerAddress names a peer and where to reach it.
type PeerAddress struct {
	ID     peer.ID
	Target string
}

// ParsePeerAddresses parses "id@host:port" entries, where id is a base58 libp2p peer ID.
func ParsePeerAddresses(entries []string) ([]PeerAddress, error) {
	addrs := make([]PeerAddress, 0, len(entries))
	for _, e := range entries {
		rawID, target, err := utils.ParsePeerAddress(e)
		if err != nil {
			return nil, err
		}
		id, err := peer.Decode(rawID)
		if err != nil {
			return nil, fmt.Errorf("invalid peer ID in %q: %w", e, err)
		}
		addrs = append(addrs, PeerAddress{ID: id, Target: target})
	}
	return addrs, nil
}

type peerConn struct {
	id   peer.ID
	conn *grpc.ClientConn
}

// Client fetches chain data from a fixed set of peers, rotating between them.
// It is safe for concurrent use.
type Client struct {
	peers       []peerConn
	next        atomic.Uint64
	headersPath string
	eventsPath  string
}

// NewClient creates a connection to every peer. Connections are established lazily.
// Peers are dialed in plaintext unless opts carry grpc.WithTransportCredentials,
// which replaces the default since opts are applied last.
func NewClient(addrs []PeerAddress, opts ...grpc.DialOption) (*Client, error) {
	if len(addrs) == 0 {
		return nil, errors.New("no peers configured")
	}

	headersPath, err := utils.MethodPath(headersMethodName)
	if err != nil {
		return nil, err
	}
	eventsPath, err := utils.MethodPath(eventsMethodName)
	if err != nil {
		return nil, err
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)

	c := &Client{headersPath: headersPath, eventsPath: eventsPath}
	for _, a := range addrs {
		conn, err := grpc.NewClient(a.Target, dialOpts...)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to create client for peer %s: %w", a.ID, err)
		}
		c.peers = append(c.peers, peerConn{id: a.ID, conn: conn})
	}
	return c, nil
}

// Close closes every peer connection.
func (c *Client) Close() error {
	var errs []error
	for _, p := range c.peers {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

func (c *Client) nextPeer() peerConn {
	return c.peers[(c.next.Add(1)-1)%uint64(len(c.peers))]
}

// HeaderStream yields the headers of [start, end], switching peers whenever one stops
// short. It ends once the range is covered or a full round of peers made no progress;
// in the latter case, if a peer failed, a connection failure attributed to it is yielded last.
func (c *Client) HeaderStream(ctx context.Context, start, end uint64, reverse bool) iter.Seq[pipeline.Result[models.SignedBlockHeader]] {
	return func(yield func(pipeline.Result[models.SignedBlockHeader]) bool) {
		lo, hi := start, end
		done := lo > hi
		var lastErr *pipeline.PeerError

		for stalled := 0; !done && stalled < len(c.peers) && ctx.Err() == nil; {
			p := c.nextPeer()
			req := &HeadersRequest{Start: lo, End: hi, Reverse: reverse}

			got, stopped, err := c.streamHeaders(ctx, p, req, func(h models.SignedBlockHeader) bool {
				n := h.Header.Number
				switch {
				case !reverse:
					lo = n + 1
					done = n >= hi
				case n == 0:
					done = true
				default:
					hi = n - 1
					done = n <= lo
				}
				return yield(pipeline.Ok(p.id, h))
			})
			if stopped {
				return
			}

			if err != nil {
				slog.Debug("Header stream failed", "peer", p.id, "error", err)
				lastErr = pipeline.NewPeerError(p.id, fmt.Errorf("%w: header stream: %w", syncerr.ErrConnection, err))
			}
			if got > 0 {
				stalled = 0
				lastErr = nil
			} else {
				stalled++
			}
		}

		if !done && lastErr != nil && ctx.Err() == nil {
			yield(pipeline.Fail[models.SignedBlockHeader](lastErr))
		}
	}
}

func (c *Client) streamHeaders(ctx context.Context, p peerConn, req *HeadersRequest, emit func(models.SignedBlockHeader) bool) (got int, stopped bool, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := p.conn.NewStream(ctx, &headersStreamDesc, c.headersPath)
	if err != nil {
		return 0, false, err
	}
	if err := stream.SendMsg(req); err != nil {
		return 0, false, err
	}
	if err := stream.CloseSend(); err != nil {
		return 0, false, err
	}

	for {
		var h models.SignedBlockHeader
		if err := stream.RecvMsg(&h); err != nil {
			if errors.Is(err, io.EOF) {
				return got, false, nil
			}
			return got, false, err
		}
		got++
		if !emit(h) {
			return got, true, nil
		}
	}
}

// EventsForBlock asks the next peer in rotation for the events of block number.
// A peer that refuses or cannot be reached counts as unwilling.
func (c *Client) EventsForBlock(ctx context.Context, number uint64) (peer.ID, iter.Seq2[models.TransactionHash, models.Event], bool) {
	p := c.nextPeer()

	ctx, cancel := context.WithCancel(ctx)
	stream, err := p.conn.NewStream(ctx, &eventsStreamDesc, c.eventsPath)
	if err == nil {
		err = stream.SendMsg(wrapperspb.UInt64(number))
	}
	if err == nil {
		err = stream.CloseSend()
	}

	// The first message tells a willing peer apart from one that refuses.
	var first EventMessage
	if err == nil {
		err = stream.RecvMsg(&first)
	}
	empty := errors.Is(err, io.EOF)
	if err != nil && !empty {
		cancel()
		slog.Debug("Peer not serving events", "peer", p.id, "height", number, "code", status.Code(err))
		return "", nil, false
	}

	events := func(yield func(models.TransactionHash, models.Event) bool) {
		defer cancel()
		if empty || !yield(first.TransactionHash, first.Event) {
			return
		}
		for {
			var msg EventMessage
			if err := stream.RecvMsg(&msg); err != nil {
				if !errors.Is(err, io.EOF) {
					slog.Debug("Event stream interrupted", "peer", p.id, "height", number, "error", err)
				}
				return
			}
			if !yield(msg.TransactionHash, msg.Event) {
				return
			}
		}
	}
	return p.id, events, true
}
