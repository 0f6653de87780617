package track

import (
	"context"
	"fmt"

	"github.com/manifest-network/tracksync/internal/metrics"
	"github.com/manifest-network/tracksync/internal/models"
	"github.com/manifest-network/tracksync/internal/output"
	"github.com/manifest-network/tracksync/internal/syncerr"
)

// StoreBlock persists each block in its own transaction. It owns conn for the run.
type StoreBlock struct {
	conn    output.Connection
	metrics *metrics.Metrics
}

func NewStoreBlock(conn output.Connection, m *metrics.Metrics) *StoreBlock {
	return &StoreBlock{conn: conn, metrics: m}
}

func (s *StoreBlock) Map(ctx context.Context, block models.BlockData) (models.BlockHeader, error) {
	header := block.Header.Header

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return header, fmt.Errorf("%w: failed to begin transaction: %w", syncerr.ErrConnection, err)
	}

	if err := tx.WriteBlock(ctx, &block); err != nil {
		_ = tx.Rollback()
		return header, fmt.Errorf("%w: failed to write block %d: %w", syncerr.ErrConnection, header.Number, err)
	}

	if err := tx.Commit(); err != nil {
		return header, fmt.Errorf("%w: failed to commit block %d: %w", syncerr.ErrConnection, header.Number, err)
	}

	s.metrics.BlockCommitted(header.Number)
	return header, nil
}
