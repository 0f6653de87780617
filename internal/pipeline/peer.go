package pipeline

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerData is a value together with the peer that supplied it.
type PeerData[T any] struct {
	Peer peer.ID
	Data T
}

// NewPeerData tags data with p.
func NewPeerData[T any](p peer.ID, data T) PeerData[T] {
	return PeerData[T]{Peer: p, Data: data}
}

// PeerError is an error attributed to the peer implicated when it was detected.
// An empty Peer marks a local failure with no peer to blame.
type PeerError struct {
	Peer peer.ID
	Err  error
}

// NewPeerError attributes err to p.
func NewPeerError(p peer.ID, err error) *PeerError {
	return &PeerError{Peer: p, Err: err}
}

func (e *PeerError) Error() string {
	if e.Peer == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("peer %s: %v", e.Peer, e.Err)
}

func (e *PeerError) Unwrap() error {
	return e.Err
}

// Result is the item type carried by every Sync Channel: either a value or a failure,
// each tagged with exactly one peer.
type Result[T any] struct {
	Value PeerData[T]
	Err   *PeerError
}

// Ok wraps a successful value supplied by p.
func Ok[T any](p peer.ID, data T) Result[T] {
	return Result[T]{Value: NewPeerData(p, data)}
}

// Fail wraps a peer-attributed failure.
func Fail[T any](err *PeerError) Result[T] {
	return Result[T]{Err: err}
}

// IsErr reports whether the result carries a failure.
func (r Result[T]) IsErr() bool {
	return r.Err != nil
}

// Peer returns the peer the result is attributed to.
func (r Result[T]) Peer() peer.ID {
	if r.Err != nil {
		return r.Err.Peer
	}
	return r.Value.Peer
}
