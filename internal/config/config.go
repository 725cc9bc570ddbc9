// Package config defines isolatord's runtime configuration (spec §5,
// §SPEC_FULL.md §A.3): listen addresses, the Pool Scheduler's thread
// count, the CPU Supervisor's sample interval, and process-default heap
// limits. The default heap limits are parsed and validated only: nothing
// applies them to an isolate, whose heap limits come solely from its
// Initialize message (0 there means no check). Every setting is a cobra flag with an environment-variable
// default, following the cuemby-warren cmd/ convention of flags backing a
// single long-running server process.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// Config holds isolatord's fully-resolved settings.
type Config struct {
	ListenAddr         string
	MetricsAddr        string
	MaxThreadCount     int
	CPUSampleInterval  time.Duration
	DefaultSoftHeap    uint64
	DefaultHardHeap    uint64
	LogLevel           string
}

// Defaults returns the out-of-the-box configuration, before flags or
// environment variables are applied.
func Defaults() Config {
	return Config{
		ListenAddr:        "127.0.0.1:50051",
		MetricsAddr:       "127.0.0.1:9090",
		MaxThreadCount:    4,
		CPUSampleInterval: time.Millisecond,
		DefaultSoftHeap:    256 << 20, // 256 MiB
		DefaultHardHeap:    512 << 20, // 512 MiB
		LogLevel:           "info",
	}
}

// envOverrides applies ISOLATOR_* environment variables on top of cfg,
// before flags (which always win) are parsed. Malformed values are
// ignored, leaving the default/previous value in place.
func envOverrides(cfg Config) Config {
	if v, ok := os.LookupEnv("ISOLATOR_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("ISOLATOR_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := os.LookupEnv("ISOLATOR_MAX_THREADS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxThreadCount = n
		}
	}
	if v, ok := os.LookupEnv("ISOLATOR_CPU_SAMPLE_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CPUSampleInterval = d
		}
	}
	if v, ok := os.LookupEnv("ISOLATOR_DEFAULT_SOFT_HEAP_BYTES"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.DefaultSoftHeap = n
		}
	}
	if v, ok := os.LookupEnv("ISOLATOR_DEFAULT_HARD_HEAP_BYTES"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.DefaultHardHeap = n
		}
	}
	if v, ok := os.LookupEnv("ISOLATOR_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	return cfg
}

// BindFlags registers cfg's settings as persistent flags on cmd, seeded
// from environment-variable overrides of Defaults(). The returned *Config
// is filled in place when cmd parses its flags, so read it after
// cmd.Execute (or cmd.ParseFlags) to see whatever the user actually passed.
func BindFlags(cmd *cobra.Command) *Config {
	cfg := envOverrides(Defaults())

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "gRPC listen address")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address")
	flags.IntVar(&cfg.MaxThreadCount, "max-threads", cfg.MaxThreadCount, "maximum concurrently executing isolates")
	flags.DurationVar(&cfg.CPUSampleInterval, "cpu-sample-interval", cfg.CPUSampleInterval, "CPU Supervisor sampling period")
	flags.Uint64Var(&cfg.DefaultSoftHeap, "default-soft-heap-bytes", cfg.DefaultSoftHeap, "default soft heap limit in bytes (validated only; not applied to isolates)")
	flags.Uint64Var(&cfg.DefaultHardHeap, "default-hard-heap-bytes", cfg.DefaultHardHeap, "default hard heap limit in bytes (validated only; not applied to isolates)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: trace, debug, info, warn, error")

	return &cfg
}

// Validate returns an error describing the first invalid setting found,
// or nil.
func (c Config) Validate() error {
	if c.MaxThreadCount < 1 {
		return fmt.Errorf("config: max-threads must be >= 1, got %d", c.MaxThreadCount)
	}
	if c.CPUSampleInterval <= 0 {
		return fmt.Errorf("config: cpu-sample-interval must be > 0, got %s", c.CPUSampleInterval)
	}
	if c.DefaultHardHeap != 0 && c.DefaultSoftHeap > c.DefaultHardHeap {
		return fmt.Errorf("config: default-soft-heap-bytes (%d) must be <= default-hard-heap-bytes (%d)", c.DefaultSoftHeap, c.DefaultHardHeap)
	}
	return nil
}
