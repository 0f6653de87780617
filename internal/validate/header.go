package validate

import (
	"context"
	"fmt"

	"github.com/manifest-network/tracksync/internal/models"
	"github.com/manifest-network/tracksync/internal/syncerr"
)

// ForwardContinuity checks that headers arrive in order, each extending the previous one.
type ForwardContinuity struct {
	next       uint64
	parentHash models.Hash
}

// NewForwardContinuity expects the first header to be next, with parentHash as its parent.
func NewForwardContinuity(next uint64, parentHash models.Hash) *ForwardContinuity {
	return &ForwardContinuity{next: next, parentHash: parentHash}
}

func (c *ForwardContinuity) Map(_ context.Context, h models.SignedBlockHeader) (models.SignedBlockHeader, error) {
	header := h.Header
	if header.Number != c.next {
		return h, fmt.Errorf("%w: expected block %d, got %d", syncerr.ErrHeaderContinuity, c.next, header.Number)
	}
	if header.ParentHash != c.parentHash {
		return h, fmt.Errorf("%w: block %d parent %s, expected %s",
			syncerr.ErrHeaderContinuity, header.Number, header.ParentHash, c.parentHash)
	}

	c.next++
	c.parentHash = header.Hash
	return h, nil
}

// VerifyHash checks that a header's hash matches its contents.
type VerifyHash struct{}

func (VerifyHash) Map(_ context.Context, h models.SignedBlockHeader) (models.SignedBlockHeader, error) {
	if want := HeaderHash(h.Header); want != h.Header.Hash {
		return h, fmt.Errorf("%w: block %d has %s, computed %s",
			syncerr.ErrHeaderHashMismatch, h.Header.Number, h.Header.Hash, want)
	}
	return h, nil
}
