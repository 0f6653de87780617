package models

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
)

// HashLength is the size of every hash carried in headers and events.
const HashLength = 32

// Hash is a 32-byte digest, rendered as 0x-prefixed hex.
type Hash [HashLength]byte

// TransactionHash identifies the transaction that emitted an event.
type TransactionHash = Hash

// ParseHash decodes a 0x-prefixed (or bare) hex string. Short inputs are left-padded.
func ParseHash(s string) (Hash, error) {
	var h Hash
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(b) > HashLength {
		return h, fmt.Errorf("invalid hash %q: %d bytes exceeds %d", s, len(b), HashLength)
	}
	copy(h[HashLength-len(b):], b)
	return h, nil
}

// Bytes returns a copy of the hash as a byte slice.
func (h Hash) Bytes() []byte {
	b := make([]byte, HashLength)
	copy(b, h[:])
	return b
}

// IsZero reports whether every byte of the hash is zero.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// BlockHeader is the part of a block that is chained and committed to.
type BlockHeader struct {
	Number          uint64 `json:"number"`
	Hash            Hash   `json:"hash"`
	ParentHash      Hash   `json:"parent_hash"`
	Timestamp       uint64 `json:"timestamp"`
	EventCount      uint64 `json:"event_count"`
	EventCommitment Hash   `json:"event_commitment"`
}

// Signature is the attestation over a header. Its contents are not interpreted here.
type Signature struct {
	R Hash `json:"r"`
	S Hash `json:"s"`
}

// SignedBlockHeader is a header together with its attestation.
type SignedBlockHeader struct {
	Header    BlockHeader `json:"header"`
	Signature Signature   `json:"signature"`
}

// Event is a log record emitted while executing a transaction.
type Event struct {
	FromAddress Hash   `json:"from_address"`
	Keys        []Hash `json:"keys"`
	Data        []Hash `json:"data"`
}

// BlockEvents accumulates the events of one block, grouped by transaction in arrival order.
type BlockEvents struct {
	Header BlockHeader
	Events map[TransactionHash][]Event
}

// NewBlockEvents returns an empty accumulator for header.
func NewBlockEvents(header BlockHeader) BlockEvents {
	return BlockEvents{
		Header: header,
		Events: make(map[TransactionHash][]Event),
	}
}

// Append adds event to the sequence of txHash.
func (b *BlockEvents) Append(txHash TransactionHash, event Event) {
	b.Events[txHash] = append(b.Events[txHash], event)
}

// BlockData is a complete block ready to be persisted.
type BlockData struct {
	Header SignedBlockHeader
	Events map[TransactionHash][]Event
	// EventsPeer is the peer that served the events of this block.
	EventsPeer peer.ID
}

// Tip is the best chain tip currently announced by the network.
type Tip struct {
	Number uint64
	Hash   Hash
}
