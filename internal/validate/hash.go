// Package validate holds the default header and event validators plugged into the sync pipeline.
package validate

import (
	"bytes"
	"encoding/binary"
	"maps"
	"slices"

	"golang.org/x/crypto/sha3"

	"github.com/manifest-network/tracksync/internal/models"
)

func keccak(parts ...[]byte) models.Hash {
	var h models.Hash
	d := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		d.Write(p)
	}
	copy(h[:], d.Sum(nil))
	return h
}

func u64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

// HeaderHash computes the hash a header must carry.
func HeaderHash(h models.BlockHeader) models.Hash {
	return keccak(
		u64(h.Number),
		h.ParentHash[:],
		u64(h.Timestamp),
		u64(h.EventCount),
		h.EventCommitment[:],
	)
}

// EventHash computes the digest of a single event.
func EventHash(e models.Event) models.Hash {
	buf := make([]byte, 0, models.HashLength*(3+len(e.Keys)+len(e.Data)))
	buf = append(buf, e.FromAddress[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(len(e.Keys)))
	for _, k := range e.Keys {
		buf = append(buf, k[:]...)
	}
	buf = binary.BigEndian.AppendUint64(buf, uint64(len(e.Data)))
	for _, d := range e.Data {
		buf = append(buf, d[:]...)
	}
	return keccak(buf)
}

// EventCommitment computes the commitment over a block's events. Transactions are
// taken in ascending hash order and each transaction's events in arrival order.
func EventCommitment(events map[models.TransactionHash][]models.Event) models.Hash {
	txs := slices.SortedFunc(maps.Keys(events), func(a, b models.TransactionHash) int {
		return bytes.Compare(a[:], b[:])
	})

	d := sha3.NewLegacyKeccak256()
	for _, tx := range txs {
		d.Write(tx[:])
		d.Write(u64(uint64(len(events[tx]))))
		for _, e := range events[tx] {
			h := EventHash(e)
			d.Write(h[:])
		}
	}

	var out models.Hash
	copy(out[:], d.Sum(nil))
	return out
}

// Seal fills in the event count, event commitment and hash of h for the given events.
func Seal(h models.BlockHeader, events map[models.TransactionHash][]models.Event) models.BlockHeader {
	h.EventCount = 0
	for _, evs := range events {
		h.EventCount += uint64(len(evs))
	}
	h.EventCommitment = EventCommitment(events)
	h.Hash = HeaderHash(h)
	return h
}
