package tracksync

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"

	"github.com/manifest-network/tracksync/internal/client"
	"github.com/manifest-network/tracksync/internal/config"
	"github.com/manifest-network/tracksync/internal/metrics"
	"github.com/manifest-network/tracksync/internal/models"
	"github.com/manifest-network/tracksync/internal/output/postgresql"
	"github.com/manifest-network/tracksync/internal/track"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync blocks from the peer network into a storage backend",
}

var postgresCmd = &cobra.Command{
	Use:   "postgres [connection-string]",
	Short: "Sync blocks into PostgreSQL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pgCfg := config.PostgresConfig{ConnString: args[0]}
		if err := pgCfg.Validate(); err != nil {
			return err
		}
		syncCfg := config.LoadSyncConfig(viper.GetViper())
		if err := syncCfg.Validate(); err != nil {
			return err
		}
		return runPostgres(cmd.Context(), pgCfg, syncCfg, config.LoadMetricsConfig(viper.GetViper()))
	},
}

func init() {
	config.SetDefaults(viper.GetViper())

	flags := syncCmd.PersistentFlags()
	flags.StringSlice(config.KeyPeers, nil, "Peers to sync from, as id@host:port")
	flags.Bool(config.KeyPeerTLS, false, "Dial peers over TLS")
	flags.String(config.KeyPeerCAFile, "", "PEM file of CAs trusted for peer certificates (default: system roots)")
	flags.String(config.KeyTipURL, "", "HTTP endpoint announcing the chain tip")
	flags.Duration(config.KeyTipInterval, viper.GetDuration(config.KeyTipInterval), "Chain tip poll interval")
	flags.Int(config.KeyTipRetries, viper.GetInt(config.KeyTipRetries), "Retries of a failed chain tip request")
	flags.Int(config.KeyHeaderBuffer, viper.GetInt(config.KeyHeaderBuffer), "Capacity of the header validation links")
	flags.Int(config.KeyFanoutBuffer, viper.GetInt(config.KeyFanoutBuffer), "Capacity of the header fanout outputs")
	flags.Int(config.KeyEventsBuffer, viper.GetInt(config.KeyEventsBuffer), "Capacity of the event links")
	flags.Int(config.KeyStoreBuffer, viper.GetInt(config.KeyStoreBuffer), "Capacity of the store link")
	flags.Duration(config.KeyEventWaitInitial, viper.GetDuration(config.KeyEventWaitInitial), "First delay between event provider polls")
	flags.Duration(config.KeyEventWaitMax, viper.GetDuration(config.KeyEventWaitMax), "Longest delay between event provider polls")
	flags.Duration(config.KeyEventWaitTimeout, viper.GetDuration(config.KeyEventWaitTimeout), "Give up waiting for an event provider after this long (0 waits forever)")
	flags.Duration(config.KeyRestartDelay, viper.GetDuration(config.KeyRestartDelay), "Delay before restarting a failed sync run")
	flags.String(config.KeyMetricsAddr, "", "Listen address of the Prometheus /metrics endpoint (empty disables it)")

	postgresCmd.Flags().Bool(config.KeyMigrate, viper.GetBool(config.KeyMigrate), "Apply database migrations before syncing")

	syncCmd.AddCommand(postgresCmd)
}

func runPostgres(ctx context.Context, pgCfg config.PostgresConfig, syncCfg config.SyncConfig, metricsCfg config.MetricsConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if metricsCfg.Enabled() {
		go func() {
			if err := metrics.Serve(ctx, metricsCfg.Addr, reg); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	out, err := postgresql.NewPostgresOutputHandler(ctx, pgCfg.ConnString)
	if err != nil {
		return err
	}
	defer out.Close()

	if syncCfg.Migrate {
		if err := out.Migrate(); err != nil {
			return err
		}
	}

	addrs, err := client.ParsePeerAddresses(syncCfg.Peers)
	if err != nil {
		return err
	}
	dialOpts, err := peerDialOptions(syncCfg)
	if err != nil {
		return err
	}
	network, err := client.NewClient(addrs, dialOpts...)
	if err != nil {
		return err
	}
	defer network.Close()

	tips := client.NewTipTracker(syncCfg.TipURL, syncCfg.TipInterval, syncCfg.TipRetries).WithMetrics(m)

	bar := newProgressBar()
	defer func() { _ = bar.Finish() }()

	syncer := track.New(network, tips, out, syncCfg.TrackConfig()).
		WithMetrics(m).
		WithCommitHook(func(h models.BlockHeader) {
			bar.Describe(fmt.Sprintf("Synced block %d", h.Number))
			if err := bar.Add(1); err != nil {
				slog.Warn("Failed to update progress bar", "error", err)
			}
		})

	slog.Info("Syncing", "peers", len(addrs), "tipURL", syncCfg.TipURL)
	return syncLoop(ctx, syncer, out, syncCfg.RestartDelay, m)
}

func peerDialOptions(cfg config.SyncConfig) ([]grpc.DialOption, error) {
	if !cfg.PeerTLS {
		return nil, nil
	}
	opt, err := client.TLSDialOption(cfg.PeerCAFile)
	if err != nil {
		return nil, err
	}
	return []grpc.DialOption{opt}, nil
}

// newProgressBar renders a spinner with the count and rate of committed blocks.
func newProgressBar() *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Waiting for blocks..."),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("blocks"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
}
