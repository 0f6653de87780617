package output

import (
	"context"

	"github.com/manifest-network/tracksync/internal/models"
)

type OutputHandler interface {
	// Connection acquires a dedicated connection, held for the lifetime of one sync run.
	Connection(ctx context.Context) (Connection, error)

	// GetLatestBlock returns the header of the highest committed block, or nil if none.
	GetLatestBlock(ctx context.Context) (*models.BlockHeader, error)

	// Close closes the output handler.
	Close() error
}

// Connection is a single persistence connection.
type Connection interface {
	// Begin opens a transactional scope.
	Begin(ctx context.Context) (Transaction, error)

	// Close releases the connection.
	Close() error
}

// Transaction makes the writes of one block visible atomically.
type Transaction interface {
	// WriteBlock writes the header, transactions and events of a block.
	WriteBlock(ctx context.Context, block *models.BlockData) error

	Commit() error
	Rollback() error
}
