// Package metrics exposes Prometheus collectors for the sync pipeline.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manifest-network/tracksync/internal/syncerr"
)

const namespace = "tracksync"

// Metrics groups the collectors updated by the pipeline. A nil *Metrics is valid and records nothing.
type Metrics struct {
	BlocksCommitted  prometheus.Counter
	SyncedHeight     prometheus.Gauge
	ChainTip         prometheus.Gauge
	RunFailures      *prometheus.CounterVec
	EventPollRetries prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BlocksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_committed_total",
			Help:      "Blocks durably committed to storage.",
		}),
		SyncedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "synced_height",
			Help:      "Number of the last committed block.",
		}),
		ChainTip: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_tip",
			Help:      "Latest block number announced by the network.",
		}),
		RunFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_failures_total",
			Help:      "Sync runs ended by a failure, by kind.",
		}, []string{"kind"}),
		EventPollRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_poll_retries_total",
			Help:      "Times no peer was willing to serve the events of a block.",
		}),
	}
	reg.MustRegister(m.BlocksCommitted, m.SyncedHeight, m.ChainTip, m.RunFailures, m.EventPollRetries)
	return m
}

func (m *Metrics) BlockCommitted(number uint64) {
	if m == nil {
		return
	}
	m.BlocksCommitted.Inc()
	m.SyncedHeight.Set(float64(number))
}

func (m *Metrics) ObserveTip(number uint64) {
	if m == nil {
		return
	}
	m.ChainTip.Set(float64(number))
}

func (m *Metrics) RunFailed(err error) {
	if m == nil {
		return
	}
	m.RunFailures.WithLabelValues(syncerr.Kind(err)).Inc()
}

func (m *Metrics) EventPollRetry() {
	if m == nil {
		return
	}
	m.EventPollRetries.Inc()
}

// Serve exposes the gatherer on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("Serving metrics", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
