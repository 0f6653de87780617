package track

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/manifest-network/tracksync/internal/models"
	"github.com/manifest-network/tracksync/internal/output"
	"github.com/manifest-network/tracksync/internal/pipeline"
	"github.com/manifest-network/tracksync/internal/validate"
)

const (
	headerPeer = peer.ID("header-peer")
	eventsPeer = peer.ID("events-peer")
)

type txEvent struct {
	tx    models.TransactionHash
	event models.Event
}

type testBlock struct {
	header models.SignedBlockHeader
	events []txEvent
}

func hashOf(b byte) models.Hash {
	var h models.Hash
	h[models.HashLength-1] = b
	return h
}

// buildChain returns n valid blocks starting at start, each with eventsPerBlock
// events spread over two transactions.
func buildChain(start uint64, parent models.Hash, n, eventsPerBlock int) []testBlock {
	blocks := make([]testBlock, 0, n)
	for i := 0; i < n; i++ {
		number := start + uint64(i)
		var evs []txEvent
		grouped := map[models.TransactionHash][]models.Event{}
		for j := 0; j < eventsPerBlock; j++ {
			tx := hashOf(byte(number%100)*2 + byte(j%2))
			ev := models.Event{FromAddress: hashOf(byte(j)), Keys: []models.Hash{hashOf(byte(number))}}
			evs = append(evs, txEvent{tx: tx, event: ev})
			grouped[tx] = append(grouped[tx], ev)
		}
		h := validate.Seal(models.BlockHeader{Number: number, ParentHash: parent, Timestamp: 1_700_000_000 + number}, grouped)
		parent = h.Hash
		blocks = append(blocks, testBlock{header: models.SignedBlockHeader{Header: h}, events: evs})
	}
	return blocks
}

// fakeNetwork serves a fixed chain. Event replies may be overridden per block.
type fakeNetwork struct {
	mu          sync.Mutex
	blocks      map[uint64]testBlock
	events      map[uint64][]txEvent
	unavailable map[uint64]int
	polls       map[uint64]int
	headerErr   map[uint64]error
}

func newFakeNetwork(blocks []testBlock) *fakeNetwork {
	n := &fakeNetwork{
		blocks:      map[uint64]testBlock{},
		events:      map[uint64][]txEvent{},
		unavailable: map[uint64]int{},
		polls:       map[uint64]int{},
		headerErr:   map[uint64]error{},
	}
	for _, b := range blocks {
		n.blocks[b.header.Header.Number] = b
		n.events[b.header.Header.Number] = b.events
	}
	return n
}

func (n *fakeNetwork) HeaderStream(ctx context.Context, start, end uint64, _ bool) iter.Seq[pipeline.Result[models.SignedBlockHeader]] {
	return func(yield func(pipeline.Result[models.SignedBlockHeader]) bool) {
		for number := start; number <= end; number++ {
			if ctx.Err() != nil {
				return
			}
			n.mu.Lock()
			b, ok := n.blocks[number]
			herr := n.headerErr[number]
			n.mu.Unlock()
			if herr != nil {
				yield(pipeline.Fail[models.SignedBlockHeader](pipeline.NewPeerError(headerPeer, herr)))
				return
			}
			if !ok {
				return
			}
			if !yield(pipeline.Ok(headerPeer, b.header)) {
				return
			}
		}
	}
}

func (n *fakeNetwork) EventsForBlock(_ context.Context, number uint64) (peer.ID, iter.Seq2[models.TransactionHash, models.Event], bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.polls[number]++
	if n.unavailable[number] > 0 {
		n.unavailable[number]--
		return "", nil, false
	}
	if _, ok := n.blocks[number]; !ok {
		return "", nil, false
	}

	evs := n.events[number]
	return eventsPeer, func(yield func(models.TransactionHash, models.Event) bool) {
		for _, e := range evs {
			if !yield(e.tx, e.event) {
				return
			}
		}
	}, true
}

func (n *fakeNetwork) pollCount(number uint64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.polls[number]
}

// fixedTips announces a fixed list of tips and then ends.
type fixedTips []models.Tip

func (t fixedTips) Subscribe(ctx context.Context) <-chan models.Tip {
	ch := make(chan models.Tip, len(t))
	for _, tip := range t {
		ch <- tip
	}
	close(ch)
	return ch
}

var (
	errCommit = errors.New("commit failed")
	errWrite  = errors.New("write failed")
)

// memoryOutput is an in-memory OutputHandler whose writes and commits can be made to fail.
type memoryOutput struct {
	mu         sync.Mutex
	committed  map[uint64]models.BlockData
	order      []uint64
	failCommit map[uint64]bool
	failWrite  map[uint64]bool
	rolledBack []uint64
	connErr    error
	openConns  int
}

func newMemoryOutput() *memoryOutput {
	return &memoryOutput{
		committed:  map[uint64]models.BlockData{},
		failCommit: map[uint64]bool{},
		failWrite:  map[uint64]bool{},
	}
}

func (m *memoryOutput) rollbacks() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.rolledBack...)
}

func (m *memoryOutput) Connection(context.Context) (output.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connErr != nil {
		return nil, m.connErr
	}
	m.openConns++
	return &memoryConn{out: m}, nil
}

func (m *memoryOutput) GetLatestBlock(context.Context) (*models.BlockHeader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return nil, nil
	}
	h := m.committed[m.order[len(m.order)-1]].Header.Header
	return &h, nil
}

func (m *memoryOutput) Close() error { return nil }

func (m *memoryOutput) numbers() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.order...)
}

type memoryConn struct {
	out *memoryOutput
}

func (c *memoryConn) Begin(context.Context) (output.Transaction, error) {
	return &memoryTx{out: c.out}, nil
}

func (c *memoryConn) Close() error {
	c.out.mu.Lock()
	defer c.out.mu.Unlock()
	c.out.openConns--
	return nil
}

type memoryTx struct {
	out     *memoryOutput
	pending []models.BlockData
}

func (t *memoryTx) WriteBlock(_ context.Context, block *models.BlockData) error {
	t.pending = append(t.pending, *block)

	t.out.mu.Lock()
	defer t.out.mu.Unlock()
	if t.out.failWrite[block.Header.Header.Number] {
		return errWrite
	}
	return nil
}

func (t *memoryTx) Commit() error {
	t.out.mu.Lock()
	defer t.out.mu.Unlock()
	for _, b := range t.pending {
		number := b.Header.Header.Number
		if t.out.failCommit[number] {
			return errCommit
		}
		if _, ok := t.out.committed[number]; !ok {
			t.out.order = append(t.out.order, number)
		}
		t.out.committed[number] = b
	}
	return nil
}

func (t *memoryTx) Rollback() error {
	t.out.mu.Lock()
	defer t.out.mu.Unlock()
	for _, b := range t.pending {
		t.out.rolledBack = append(t.out.rolledBack, b.Header.Header.Number)
	}
	t.pending = nil
	return nil
}
