package tracksync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/manifest-network/tracksync/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "tracksync",
	Short: "Follow the chain tip and store every validated block",
	Long: `tracksync streams block headers and events from a set of peers, validates them
and commits each block to storage in order, restarting from the last committed
block whenever a peer misbehaves.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return fmt.Errorf("failed to bind flags: %w", err)
		}
		if cfgFile := viper.GetString("config"); cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}

		logger, err := newLogger(os.Stderr, viper.GetString("logLevel"), viper.GetString("logFormat"))
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	config.BindEnv(viper.GetViper())

	rootCmd.PersistentFlags().String("config", "", "Path to a configuration file")
	rootCmd.PersistentFlags().String("logLevel", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("logFormat", "text", "Log format (text, json)")

	rootCmd.AddCommand(syncCmd)
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: expected text or json", format)
	}
}

// Execute runs the root command until it completes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
