package postgresql

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifest-network/tracksync/internal/models"
)

func hashOf(b byte) models.Hash {
	var h models.Hash
	h[models.HashLength-1] = b
	return h
}

func testBlock() *models.BlockData {
	return &models.BlockData{
		Header: models.SignedBlockHeader{
			Header: models.BlockHeader{
				Number:          7,
				Hash:            hashOf(0x70),
				ParentHash:      hashOf(0x60),
				Timestamp:       1700000000,
				EventCount:      3,
				EventCommitment: hashOf(0xcc),
			},
			Signature: models.Signature{R: hashOf(0x01), S: hashOf(0x02)},
		},
		Events: map[models.TransactionHash][]models.Event{
			hashOf(0xb0): {
				{FromAddress: hashOf(0xa1), Keys: []models.Hash{hashOf(0x11)}},
			},
			hashOf(0xa0): {
				{FromAddress: hashOf(0xa2), Data: []models.Hash{hashOf(0x22)}},
				{FromAddress: hashOf(0xa3)},
			},
		},
	}
}

func newMock(t *testing.T) (*PostgresOutputHandler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func expectHeader(mock sqlmock.Sqlmock, block *models.BlockData) *sqlmock.ExpectedExec {
	h := block.Header.Header
	return mock.ExpectExec(regexp.QuoteMeta("INSERT INTO block_headers")).
		WithArgs(int64(h.Number), h.Hash.Bytes(), h.ParentHash.Bytes(), int64(h.Timestamp),
			int64(h.EventCount), h.EventCommitment.Bytes(),
			block.Header.Signature.R.Bytes(), block.Header.Signature.S.Bytes())
}

func TestWriteBlockInsertsInTransactionHashOrder(t *testing.T) {
	handler, mock := newMock(t)
	block := testBlock()
	hex := func(b byte) string { return `"` + hashOf(b).String() + `"` }

	mock.ExpectBegin()
	expectHeader(mock, block).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WithArgs(hashOf(0xa0).Bytes(), int64(7), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events")).
		WithArgs(hashOf(0xa0).Bytes(), int64(0), int64(7), hashOf(0xa2).Bytes(), "[]", "["+hex(0x22)+"]").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events")).
		WithArgs(hashOf(0xa0).Bytes(), int64(1), int64(7), hashOf(0xa3).Bytes(), "[]", "[]").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WithArgs(hashOf(0xb0).Bytes(), int64(7), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events")).
		WithArgs(hashOf(0xb0).Bytes(), int64(0), int64(7), hashOf(0xa1).Bytes(), "["+hex(0x11)+"]", "[]").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	conn, err := handler.Connection(ctx)
	require.NoError(t, err)
	defer conn.Close()

	tx, err := conn.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.WriteBlock(ctx, block))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteBlockFailures(t *testing.T) {
	cases := []struct {
		name   string
		expect func(sqlmock.Sqlmock, *models.BlockData)
		errMsg string
	}{
		{
			name: "header insert fails",
			expect: func(mock sqlmock.Sqlmock, block *models.BlockData) {
				mock.ExpectBegin()
				expectHeader(mock, block).WillReturnError(errors.New("disk full"))
				mock.ExpectRollback()
			},
			errMsg: "failed to insert header: disk full",
		},
		{
			name: "transaction insert fails",
			expect: func(mock sqlmock.Sqlmock, block *models.BlockData) {
				mock.ExpectBegin()
				expectHeader(mock, block).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
					WillReturnError(errors.New("constraint"))
				mock.ExpectRollback()
			},
			errMsg: "failed to insert transaction " + hashOf(0xa0).String(),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler, mock := newMock(t)
			block := testBlock()
			tc.expect(mock, block)

			ctx := context.Background()
			conn, err := handler.Connection(ctx)
			require.NoError(t, err)
			defer conn.Close()

			tx, err := conn.Begin(ctx)
			require.NoError(t, err)
			err = tx.WriteBlock(ctx, block)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
			require.NoError(t, tx.Rollback())
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCommitFailure(t *testing.T) {
	handler, mock := newMock(t)
	block := testBlock()
	block.Events = nil

	mock.ExpectBegin()
	expectHeader(mock, block).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	ctx := context.Background()
	conn, err := handler.Connection(ctx)
	require.NoError(t, err)
	defer conn.Close()

	tx, err := conn.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.WriteBlock(ctx, block))
	assert.EqualError(t, tx.Commit(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginFailure(t *testing.T) {
	handler, mock := newMock(t)
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	ctx := context.Background()
	conn, err := handler.Connection(ctx)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Begin(ctx)
	assert.EqualError(t, err, "failed to begin transaction: too many connections")
}

func TestGetLatestBlock(t *testing.T) {
	columns := []string{"number", "hash", "parent_hash", "block_timestamp", "event_count", "event_commitment"}

	cases := []struct {
		name     string
		rows     *sqlmock.Rows
		expected *models.BlockHeader
		errMsg   string
	}{
		{
			name: "latest row",
			rows: sqlmock.NewRows(columns).
				AddRow(int64(41), hashOf(0x41).Bytes(), hashOf(0x40).Bytes(), int64(99), int64(2), hashOf(0xcc).Bytes()),
			expected: &models.BlockHeader{
				Number:          41,
				Hash:            hashOf(0x41),
				ParentHash:      hashOf(0x40),
				Timestamp:       99,
				EventCount:      2,
				EventCommitment: hashOf(0xcc),
			},
		},
		{
			name: "empty table",
			rows: sqlmock.NewRows(columns),
		},
		{
			name: "truncated hash",
			rows: sqlmock.NewRows(columns).
				AddRow(int64(41), []byte{0x41}, hashOf(0x40).Bytes(), int64(99), int64(2), hashOf(0xcc).Bytes()),
			errMsg: "failed to decode latest block 41: hash has 1 bytes, expected 32",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler, mock := newMock(t)
			mock.ExpectQuery(regexp.QuoteMeta("FROM block_headers")).WillReturnRows(tc.rows)

			header, err := handler.GetLatestBlock(context.Background())
			if tc.errMsg != "" {
				assert.EqualError(t, err, tc.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, header)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
