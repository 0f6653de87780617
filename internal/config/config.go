package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/manifest-network/tracksync/internal/track"
)

// Viper keys shared by the command-line flags, the config file and TRACKSYNC_* variables.
const (
	KeyPeers            = "peers"
	KeyPeerTLS          = "peer-tls"
	KeyPeerCAFile       = "peer-ca-file"
	KeyTipURL           = "tip-url"
	KeyTipInterval      = "tip-interval"
	KeyTipRetries       = "tip-retries"
	KeyHeaderBuffer     = "header-buffer"
	KeyFanoutBuffer     = "fanout-buffer"
	KeyEventsBuffer     = "events-buffer"
	KeyStoreBuffer      = "store-buffer"
	KeyEventWaitInitial = "event-wait-initial"
	KeyEventWaitMax     = "event-wait-max"
	KeyEventWaitTimeout = "event-wait-timeout"
	KeyRestartDelay     = "restart-delay"
	KeyMigrate          = "migrate"
	KeyMetricsAddr      = "metrics-addr"
)

// EnvPrefix prefixes the environment variable of every key, e.g. TRACKSYNC_TIP_URL.
const EnvPrefix = "TRACKSYNC"

// BindEnv makes v read TRACKSYNC_* variables, with dashes in keys mapped to underscores.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

type SyncConfig struct {
	Peers        []string
	PeerTLS      bool
	PeerCAFile   string
	TipURL       string
	TipInterval  time.Duration
	TipRetries   int
	Buffers      track.Buffers
	EventWait    track.WaitPolicy
	RestartDelay time.Duration
	Migrate      bool
}

// SetDefaults registers the default value of every sync key on v.
func SetDefaults(v *viper.Viper) {
	buffers := track.DefaultBuffers()
	wait := track.DefaultWaitPolicy()

	v.SetDefault(KeyPeerTLS, false)
	v.SetDefault(KeyTipInterval, 2*time.Second)
	v.SetDefault(KeyTipRetries, 3)
	v.SetDefault(KeyHeaderBuffer, buffers.Headers)
	v.SetDefault(KeyFanoutBuffer, buffers.Fanout)
	v.SetDefault(KeyEventsBuffer, buffers.Events)
	v.SetDefault(KeyStoreBuffer, buffers.Store)
	v.SetDefault(KeyEventWaitInitial, wait.InitialInterval)
	v.SetDefault(KeyEventWaitMax, wait.MaxInterval)
	v.SetDefault(KeyEventWaitTimeout, wait.Timeout)
	v.SetDefault(KeyRestartDelay, 5*time.Second)
	v.SetDefault(KeyMigrate, true)
	v.SetDefault(KeyMetricsAddr, "")
}

func LoadSyncConfig(v *viper.Viper) SyncConfig {
	return SyncConfig{
		Peers:       splitList(v.GetStringSlice(KeyPeers)),
		PeerTLS:     v.GetBool(KeyPeerTLS),
		PeerCAFile:  v.GetString(KeyPeerCAFile),
		TipURL:      v.GetString(KeyTipURL),
		TipInterval: v.GetDuration(KeyTipInterval),
		TipRetries:  v.GetInt(KeyTipRetries),
		Buffers: track.Buffers{
			Headers: v.GetInt(KeyHeaderBuffer),
			Fanout:  v.GetInt(KeyFanoutBuffer),
			Events:  v.GetInt(KeyEventsBuffer),
			Store:   v.GetInt(KeyStoreBuffer),
		},
		EventWait: track.WaitPolicy{
			InitialInterval: v.GetDuration(KeyEventWaitInitial),
			MaxInterval:     v.GetDuration(KeyEventWaitMax),
			Timeout:         v.GetDuration(KeyEventWaitTimeout),
		},
		RestartDelay: v.GetDuration(KeyRestartDelay),
		Migrate:      v.GetBool(KeyMigrate),
	}
}

// splitList flattens comma-separated entries. Environment variables reach viper as a
// single string that it only splits on whitespace.
func splitList(entries []string) []string {
	var out []string
	for _, e := range entries {
		for _, part := range strings.Split(e, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c SyncConfig) Validate() error {
	if len(c.Peers) == 0 {
		return fmt.Errorf("at least one peer must be set")
	}
	if c.PeerCAFile != "" && !c.PeerTLS {
		return fmt.Errorf("%s requires %s", KeyPeerCAFile, KeyPeerTLS)
	}
	if c.TipURL == "" {
		return fmt.Errorf("tip URL must be set")
	}
	if c.TipInterval <= 0 {
		return fmt.Errorf("tip interval must be positive")
	}
	if c.TipRetries < 0 {
		return fmt.Errorf("tip retries must not be negative")
	}
	for name, size := range map[string]int{
		KeyHeaderBuffer: c.Buffers.Headers,
		KeyFanoutBuffer: c.Buffers.Fanout,
		KeyEventsBuffer: c.Buffers.Events,
		KeyStoreBuffer:  c.Buffers.Store,
	} {
		if size < 1 {
			return fmt.Errorf("%s must be at least 1", name)
		}
	}
	if c.EventWait.InitialInterval <= 0 {
		return fmt.Errorf("event wait initial interval must be positive")
	}
	if c.EventWait.MaxInterval < c.EventWait.InitialInterval {
		return fmt.Errorf("event wait max interval must not be below the initial interval")
	}
	if c.EventWait.Timeout < 0 {
		return fmt.Errorf("event wait timeout must not be negative")
	}
	if c.RestartDelay < 0 {
		return fmt.Errorf("restart delay must not be negative")
	}
	return nil
}

// TrackConfig returns the pipeline settings of c.
func (c SyncConfig) TrackConfig() track.Config {
	return track.Config{Buffers: c.Buffers, EventWait: c.EventWait}
}

type MetricsConfig struct {
	// Addr is the listen address of the /metrics endpoint. Empty disables it.
	Addr string
}

func LoadMetricsConfig(v *viper.Viper) MetricsConfig {
	return MetricsConfig{Addr: v.GetString(KeyMetricsAddr)}
}

func (c MetricsConfig) Enabled() bool {
	return c.Addr != ""
}

type PostgresConfig struct {
	ConnString string
}

func (c PostgresConfig) Validate() error {
	if c.ConnString == "" {
		return fmt.Errorf("PostgreSQL connection string must be set")
	}
	return nil
}
