package tracksync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/manifest-network/tracksync/internal/metrics"
	"github.com/manifest-network/tracksync/internal/models"
	"github.com/manifest-network/tracksync/internal/pipeline"
	"github.com/manifest-network/tracksync/internal/syncerr"
)

type runner interface {
	Run(ctx context.Context, next uint64, parentHash models.Hash) error
}

type latestBlockReader interface {
	GetLatestBlock(ctx context.Context) (*models.BlockHeader, error)
}

// syncLoop runs s from the last committed block until ctx is done or a run ends
// without failure. Failed runs are retried after delay.
func syncLoop(ctx context.Context, s runner, store latestBlockReader, delay time.Duration, m *metrics.Metrics) error {
	for {
		err := syncOnce(ctx, s, store, m)
		if ctx.Err() != nil {
			slog.Info("Sync stopped")
			return nil
		}
		if err == nil {
			slog.Info("Chain tip source closed, sync finished")
			return nil
		}

		attrs := []any{"error", err, "kind", syncerr.Kind(err), "restartIn", delay}
		var peerErr *pipeline.PeerError
		if errors.As(err, &peerErr) && peerErr.Peer != "" {
			attrs = append(attrs, "peer", peerErr.Peer.String())
		}
		slog.Warn("Restarting sync", attrs...)

		select {
		case <-ctx.Done():
			slog.Info("Sync stopped")
			return nil
		case <-time.After(delay):
		}
	}
}

// syncOnce runs s once from the resume point. Failures of the run itself are
// counted by the runner; only a failed lookup of the resume point is counted here.
func syncOnce(ctx context.Context, s runner, store latestBlockReader, m *metrics.Metrics) error {
	next, parentHash, err := resumePoint(ctx, store)
	if err != nil {
		perr := pipeline.NewPeerError("", fmt.Errorf("%w: %w", syncerr.ErrConnection, err))
		m.RunFailed(perr)
		return perr
	}
	return s.Run(ctx, next, parentHash)
}

// resumePoint returns the block after the latest committed one, or genesis with a
// zero parent hash when nothing is stored yet.
func resumePoint(ctx context.Context, store latestBlockReader) (uint64, models.Hash, error) {
	latest, err := store.GetLatestBlock(ctx)
	if err != nil {
		return 0, models.Hash{}, fmt.Errorf("failed to get resume point: %w", err)
	}
	if latest == nil {
		return 0, models.Hash{}, nil
	}
	return latest.Number + 1, latest.Hash, nil
}
