package validate

import (
	"context"
	"fmt"

	"github.com/manifest-network/tracksync/internal/models"
	"github.com/manifest-network/tracksync/internal/syncerr"
)

// VerifyCommitment checks a block's events against the header's event commitment.
type VerifyCommitment struct{}

func (VerifyCommitment) Map(_ context.Context, b models.BlockEvents) (models.BlockEvents, error) {
	if got := EventCommitment(b.Events); got != b.Header.EventCommitment {
		return b, fmt.Errorf("%w: block %d declares %s, computed %s",
			syncerr.ErrCommitmentMismatch, b.Header.Number, b.Header.EventCommitment, got)
	}
	return b, nil
}
