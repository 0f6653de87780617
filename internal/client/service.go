package client

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/manifest-network/tracksync/internal/models"
)

const (
	serviceName       = "tracksync.p2p.v1.Sync"
	headersMethodName = serviceName + ".Headers"
	eventsMethodName  = serviceName + ".Events"
)

// HeadersRequest asks a peer for the signed headers of [Start, End].
type HeadersRequest struct {
	Start   uint64 `json:"start"`
	End     uint64 `json:"end"`
	Reverse bool   `json:"reverse"`
}

// EventMessage is one event of a block, with the transaction that emitted it.
type EventMessage struct {
	TransactionHash models.TransactionHash `json:"transaction_hash"`
	Event           models.Event           `json:"event"`
}

// PeerServer is the sync service a peer exposes.
type PeerServer interface {
	// Headers streams the signed headers of the requested range.
	Headers(ctx context.Context, req *HeadersRequest, send func(*models.SignedBlockHeader) error) error
	// Events streams the events of block number. A peer unwilling to serve returns
	// a NotFound or Unavailable status.
	Events(ctx context.Context, number uint64, send func(*EventMessage) error) error
}

var (
	headersStreamDesc = grpc.StreamDesc{StreamName: "Headers", ServerStreams: true}
	eventsStreamDesc  = grpc.StreamDesc{StreamName: "Events", ServerStreams: true}
)

// RegisterPeerServer registers srv on s.
func RegisterPeerServer(s *grpc.Server, srv PeerServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*PeerServer)(nil),
		Streams: []grpc.StreamDesc{
			{StreamName: headersStreamDesc.StreamName, ServerStreams: true, Handler: headersHandler},
			{StreamName: eventsStreamDesc.StreamName, ServerStreams: true, Handler: eventsHandler},
		},
	}, srv)
}

func headersHandler(srv any, stream grpc.ServerStream) error {
	req := new(HeadersRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(PeerServer).Headers(stream.Context(), req, func(h *models.SignedBlockHeader) error {
		return stream.SendMsg(h)
	})
}

func eventsHandler(srv any, stream grpc.ServerStream) error {
	req := new(wrapperspb.UInt64Value)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(PeerServer).Events(stream.Context(), req.GetValue(), func(e *EventMessage) error {
		return stream.SendMsg(e)
	})
}
