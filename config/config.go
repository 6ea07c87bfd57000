// Package config holds the bridge settings. Defaults are overridden from
// SPARKBRIDGE_* environment variables and then from command line flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/user/spark-bridge/logger"
	"github.com/user/spark-bridge/wire/att"
)

// Environment variable names
const (
	EnvFrameSize      = "SPARKBRIDGE_FRAME_SIZE"
	EnvPacing         = "SPARKBRIDGE_PACING"
	EnvConnectTimeout = "SPARKBRIDGE_CONNECT_TIMEOUT"
	EnvScanDuration   = "SPARKBRIDGE_SCAN_DURATION"
	EnvMaxLinks       = "SPARKBRIDGE_MAX_LINKS"
	EnvNotifyDelay    = "SPARKBRIDGE_NOTIFY_DELAY"
	EnvRetryDelay     = "SPARKBRIDGE_RETRY_DELAY"
	EnvDeviceName     = "SPARKBRIDGE_DEVICE_NAME"
	EnvLogLevel       = "SPARKBRIDGE_LOG_LEVEL"
	EnvMonitorAddr    = "SPARKBRIDGE_MONITOR_ADDR"
)

// Config is the full set of bridge tunables
type Config struct {
	FrameSize      int           // bytes per outbound frame
	Pacing         time.Duration // pause after each frame written to the amp
	ConnectTimeout time.Duration // full connect deadline
	ScanDuration   time.Duration // 0 scans until a candidate is found
	MaxLinks       int           // outbound client pool size
	NotifyDelay    time.Duration // pause between handshake notifications
	RetryDelay     time.Duration // pause before rescanning after a failure
	DeviceName     string
	LogLevel       logger.LogLevel
	MonitorAddr    string // empty disables the websocket monitor
}

// Default returns the stock configuration
func Default() Config {
	return Config{
		FrameSize:      att.DefaultFrameSize,
		Pacing:         10 * time.Millisecond,
		ConnectTimeout: 5 * time.Second,
		ScanDuration:   0,
		MaxLinks:       3,
		NotifyDelay:    0,
		RetryDelay:     time.Second,
		DeviceName:     "Spark 40 BLE",
		LogLevel:       logger.INFO,
		MonitorAddr:    "",
	}
}

// FromEnv returns the defaults with any SPARKBRIDGE_* overrides applied
func FromEnv() (Config, error) {
	return Load(os.Getenv)
}

// Load applies overrides read through getenv on top of Default
func Load(getenv func(string) string) (Config, error) {
	cfg := Default()

	ints := []struct {
		env string
		dst *int
	}{
		{EnvFrameSize, &cfg.FrameSize},
		{EnvMaxLinks, &cfg.MaxLinks},
	}
	for _, f := range ints {
		v := getenv(f.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, errors.Wrapf(err, "config: %s", f.env)
		}
		*f.dst = n
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{EnvPacing, &cfg.Pacing},
		{EnvConnectTimeout, &cfg.ConnectTimeout},
		{EnvScanDuration, &cfg.ScanDuration},
		{EnvNotifyDelay, &cfg.NotifyDelay},
		{EnvRetryDelay, &cfg.RetryDelay},
	}
	for _, f := range durations {
		v := getenv(f.env)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, errors.Wrapf(err, "config: %s", f.env)
		}
		*f.dst = d
	}

	if v := getenv(EnvDeviceName); v != "" {
		cfg.DeviceName = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = logger.ParseLevel(v)
	}
	if v := getenv(EnvMonitorAddr); v != "" {
		cfg.MonitorAddr = v
	}

	return cfg, cfg.Validate()
}

// Validate rejects settings the bridge cannot run with
func (c Config) Validate() error {
	if c.FrameSize <= 0 {
		return fmt.Errorf("config: frame size must be positive, got %d", c.FrameSize)
	}
	if c.MaxLinks <= 0 {
		return fmt.Errorf("config: max links must be positive, got %d", c.MaxLinks)
	}
	if c.Pacing < 0 || c.NotifyDelay < 0 || c.RetryDelay < 0 || c.ScanDuration < 0 {
		return fmt.Errorf("config: delays must not be negative")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("config: connect timeout must be positive, got %v", c.ConnectTimeout)
	}
	if c.DeviceName == "" {
		return fmt.Errorf("config: device name must not be empty")
	}
	return nil
}
