package track

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/manifest-network/tracksync/internal/metrics"
	"github.com/manifest-network/tracksync/internal/models"
	"github.com/manifest-network/tracksync/internal/output"
	"github.com/manifest-network/tracksync/internal/pipeline"
	"github.com/manifest-network/tracksync/internal/syncerr"
	"github.com/manifest-network/tracksync/internal/validate"
)

// Buffers sets the capacity of each pipeline link. They affect throughput, not correctness.
type Buffers struct {
	Headers int
	Fanout  int
	Events  int
	Store   int
}

// DefaultBuffers returns the link capacities used by a node.
func DefaultBuffers() Buffers {
	return Buffers{Headers: 100, Fanout: 10, Events: 10, Store: 10}
}

type (
	headerStage = pipeline.Stage[models.SignedBlockHeader, models.SignedBlockHeader]
	eventsStage = pipeline.Stage[models.BlockEvents, models.BlockEvents]
)

// Validators builds the validation stages of a run.
type Validators struct {
	Continuity func(next uint64, parentHash models.Hash) headerStage
	Hash       headerStage
	Commitment eventsStage
}

// DefaultValidators checks continuity, header hashes and event commitments with Keccak-256.
func DefaultValidators() Validators {
	return Validators{
		Continuity: func(next uint64, parentHash models.Hash) headerStage {
			return validate.NewForwardContinuity(next, parentHash)
		},
		Hash:       validate.VerifyHash{},
		Commitment: validate.VerifyCommitment{},
	}
}

// Config tunes a Sync.
type Config struct {
	Buffers   Buffers
	EventWait WaitPolicy
}

// Sync drives the pipeline from the network into storage.
type Sync struct {
	network    Network
	tips       TipSource
	output     output.OutputHandler
	cfg        Config
	validators Validators
	metrics    *metrics.Metrics
	onCommit   func(models.BlockHeader)
}

func New(network Network, tips TipSource, out output.OutputHandler, cfg Config) *Sync {
	return &Sync{
		network:    network,
		tips:       tips,
		output:     out,
		cfg:        cfg,
		validators: DefaultValidators(),
	}
}

func (s *Sync) WithValidators(v Validators) *Sync {
	s.validators = v
	return s
}

func (s *Sync) WithMetrics(m *metrics.Metrics) *Sync {
	s.metrics = m
	return s
}

// WithCommitHook registers f to be called, in order, for every committed block.
func (s *Sync) WithCommitHook(f func(models.BlockHeader)) *Sync {
	s.onCommit = f
	return s
}

// Run syncs blocks starting at next, whose parent must be parentHash, until the tip
// source ends or the first failure. The returned error, if any, is a *pipeline.PeerError
// naming the peer implicated. Blocks before the failing one may already be committed,
// so a caller restarts from the latest committed block.
//
// Run returns only after every pipeline task has stopped. If ctx is done first, the
// returned error wraps ctx.Err() and carries no peer.
func (s *Sync) Run(ctx context.Context, next uint64, parentHash models.Hash) error {
	parent := ctx
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	conn, err := s.output.Connection(ctx)
	if err != nil {
		perr := pipeline.NewPeerError("", fmt.Errorf("%w: failed to acquire database connection: %w", syncerr.ErrConnection, err))
		s.metrics.RunFailed(perr)
		return perr
	}
	defer conn.Close()

	slog.Info("Starting sync run", "height", next, "parent", parentHash)

	g := pipeline.NewGroup(ctx)
	buf := s.cfg.Buffers

	headers := HeaderSource{
		Network: s.network,
		Tips:    s.tips.Subscribe(ctx),
		Start:   next,
	}.Spawn(g)
	headers = pipeline.Attach(g, headers, s.validators.Continuity(next, parentHash), buf.Headers)
	headers = pipeline.Attach(g, headers, s.validators.Hash, buf.Headers)

	fanout := NewHeaderFanout(g, headers, buf.Fanout)

	events := EventSource{
		Network: s.network,
		Headers: fanout.Events,
		Wait:    s.cfg.EventWait,
		Metrics: s.metrics,
	}.Spawn(g)
	events = pipeline.Attach(g, events, s.validators.Commitment, buf.Events)

	blocks := BlockJoiner{Headers: fanout.Headers, Events: events}.Spawn(g)
	committed := pipeline.Attach[models.BlockData, models.BlockHeader](g, blocks, NewStoreBlock(conn, s.metrics), buf.Store)

	var failure *pipeline.PeerError
	for item := range committed.All() {
		if item.IsErr() {
			failure = item.Err
			break
		}
		if s.onCommit != nil {
			s.onCommit(item.Value.Data)
		}
	}

	committed.Drop()
	cancel()
	_ = g.Wait()

	if err := parent.Err(); err != nil {
		slog.Info("Sync run cancelled", "error", err)
		return pipeline.NewPeerError("", fmt.Errorf("sync run cancelled: %w", err))
	}
	if failure != nil {
		slog.Warn("Sync run failed", "peer", failure.Peer, "error", failure.Err)
		s.metrics.RunFailed(failure)
		return failure
	}

	slog.Info("Sync run finished")
	return nil
}
