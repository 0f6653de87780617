// Package postgresql persists synced blocks in PostgreSQL.
package postgresql

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/manifest-network/tracksync/internal/models"
	"github.com/manifest-network/tracksync/internal/output"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	insertHeader = `INSERT INTO block_headers
		(number, hash, parent_hash, block_timestamp, event_count, event_commitment, signature_r, signature_s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (number) DO NOTHING`
	insertTransaction = `INSERT INTO transactions (hash, block_number, event_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (hash) DO NOTHING`
	insertEvent = `INSERT INTO events (transaction_hash, event_index, block_number, from_address, keys, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (transaction_hash, event_index) DO NOTHING`
	selectLatestHeader = `SELECT number, hash, parent_hash, block_timestamp, event_count, event_commitment
		FROM block_headers
		ORDER BY number DESC
		LIMIT 1`
)

type PostgresOutputHandler struct {
	db *sql.DB
}

// NewPostgresOutputHandler opens and pings the database at connString.
func NewPostgresOutputHandler(ctx context.Context, connString string) (*PostgresOutputHandler, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an already opened database.
func NewWithDB(db *sql.DB) *PostgresOutputHandler {
	return &PostgresOutputHandler{db: db}
}

// Migrate brings the schema up to date.
func (h *PostgresOutputHandler) Migrate() error {
	driver, err := pgxmigrate.WithInstance(h.db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err == nil {
		slog.Info("Database schema ready", "version", version, "dirty", dirty)
	}
	return nil
}

func (h *PostgresOutputHandler) Connection(ctx context.Context) (output.Connection, error) {
	conn, err := h.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &connection{conn: conn}, nil
}

func (h *PostgresOutputHandler) GetLatestBlock(ctx context.Context) (*models.BlockHeader, error) {
	var (
		number, timestamp, eventCount     int64
		hash, parentHash, eventCommitment []byte
	)
	err := h.db.QueryRowContext(ctx, selectLatestHeader).
		Scan(&number, &hash, &parentHash, &timestamp, &eventCount, &eventCommitment)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest block: %w", err)
	}

	header := &models.BlockHeader{
		Number:     uint64(number),
		Timestamp:  uint64(timestamp),
		EventCount: uint64(eventCount),
	}
	for dst, src := range map[*models.Hash][]byte{
		&header.Hash:            hash,
		&header.ParentHash:      parentHash,
		&header.EventCommitment: eventCommitment,
	} {
		if *dst, err = hashFromBytes(src); err != nil {
			return nil, fmt.Errorf("failed to decode latest block %d: %w", number, err)
		}
	}
	return header, nil
}

func (h *PostgresOutputHandler) Close() error {
	return h.db.Close()
}

func hashFromBytes(b []byte) (models.Hash, error) {
	var h models.Hash
	if len(b) != models.HashLength {
		return h, fmt.Errorf("hash has %d bytes, expected %d", len(b), models.HashLength)
	}
	copy(h[:], b)
	return h, nil
}

type connection struct {
	conn *sql.Conn
}

func (c *connection) Begin(ctx context.Context) (output.Transaction, error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &transaction{tx: tx}, nil
}

func (c *connection) Close() error {
	return c.conn.Close()
}

type transaction struct {
	tx *sql.Tx
}

// WriteBlock inserts the block's header, transactions and events. Rows that already
// exist are left untouched, so rewriting a committed block is harmless.
func (t *transaction) WriteBlock(ctx context.Context, block *models.BlockData) error {
	header := block.Header.Header
	number := int64(header.Number)

	_, err := t.tx.ExecContext(ctx, insertHeader,
		number,
		header.Hash.Bytes(),
		header.ParentHash.Bytes(),
		int64(header.Timestamp),
		int64(header.EventCount),
		header.EventCommitment.Bytes(),
		block.Header.Signature.R.Bytes(),
		block.Header.Signature.S.Bytes(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert header: %w", err)
	}

	txHashes := slices.SortedFunc(maps.Keys(block.Events), func(a, b models.TransactionHash) int {
		return bytes.Compare(a[:], b[:])
	})
	for _, txHash := range txHashes {
		events := block.Events[txHash]
		if _, err := t.tx.ExecContext(ctx, insertTransaction, txHash.Bytes(), number, int64(len(events))); err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", txHash, err)
		}

		for i, event := range events {
			keys, err := encodeHashes(event.Keys)
			if err != nil {
				return err
			}
			data, err := encodeHashes(event.Data)
			if err != nil {
				return err
			}
			_, err = t.tx.ExecContext(ctx, insertEvent, txHash.Bytes(), int64(i), number, event.FromAddress.Bytes(), keys, data)
			if err != nil {
				return fmt.Errorf("failed to insert event %d of transaction %s: %w", i, txHash, err)
			}
		}
	}
	return nil
}

func (t *transaction) Commit() error {
	return t.tx.Commit()
}

func (t *transaction) Rollback() error {
	return t.tx.Rollback()
}

func encodeHashes(hashes []models.Hash) (string, error) {
	if hashes == nil {
		hashes = []models.Hash{}
	}
	b, err := json.Marshal(hashes)
	if err != nil {
		return "", fmt.Errorf("failed to encode hashes: %w", err)
	}
	return string(b), nil
}
