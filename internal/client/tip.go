package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/manifest-network/tracksync/internal/metrics"
	"github.com/manifest-network/tracksync/internal/models"
	"github.com/manifest-network/tracksync/internal/utils"
)

type tipResponse struct {
	BlockNumber json.RawMessage `json:"block_number"`
	BlockHash   string          `json:"block_hash"`
}

// TipTracker follows the chain tip announced by an HTTP endpoint returning
// {"block_number": ..., "block_hash": "0x..."}.
type TipTracker struct {
	client   *resty.Client
	url      string
	interval time.Duration
	metrics  *metrics.Metrics
}

func NewTipTracker(url string, interval time.Duration, maxRetries int) *TipTracker {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(maxRetries).
		SetRetryWaitTime(200*time.Millisecond).
		SetHeader("Accept", "application/json")

	return &TipTracker{client: client, url: url, interval: interval}
}

func (t *TipTracker) WithMetrics(m *metrics.Metrics) *TipTracker {
	t.metrics = m
	return t
}

// Latest fetches the current tip once.
func (t *TipTracker) Latest(ctx context.Context) (models.Tip, error) {
	var body tipResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get(t.url)
	if err != nil {
		return models.Tip{}, fmt.Errorf("failed to fetch chain tip: %w", err)
	}
	if resp.IsError() {
		return models.Tip{}, fmt.Errorf("failed to fetch chain tip: unexpected status %s", resp.Status())
	}

	number, err := utils.ParseBlockNumber(string(body.BlockNumber))
	if err != nil {
		return models.Tip{}, fmt.Errorf("failed to parse chain tip: %w", err)
	}
	hash, err := models.ParseHash(body.BlockHash)
	if err != nil {
		return models.Tip{}, fmt.Errorf("failed to parse chain tip: %w", err)
	}
	return models.Tip{Number: number, Hash: hash}, nil
}

// Subscribe polls the endpoint every interval and emits the tip whenever it changes.
// Fetch failures are logged and retried on the next tick.
func (t *TipTracker) Subscribe(ctx context.Context) <-chan models.Tip {
	ch := make(chan models.Tip)

	go func() {
		defer close(ch)

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		var last models.Tip
		seen := false
		for {
			tip, err := t.Latest(ctx)
			switch {
			case err != nil:
				if ctx.Err() == nil {
					slog.Warn("Failed to fetch chain tip", "url", t.url, "error", err)
				}
			case !seen || tip != last:
				last, seen = tip, true
				t.metrics.ObserveTip(tip.Number)
				slog.Debug("New chain tip", "height", tip.Number, "hash", tip.Hash)
				select {
				case ch <- tip:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return ch
}
