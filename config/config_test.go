package config

import (
	"testing"
	"time"

	"github.com/user/spark-bridge/logger"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.FrameSize != 173 {
		t.Errorf("FrameSize = %d", cfg.FrameSize)
	}
	if cfg.Pacing != 10*time.Millisecond || cfg.ConnectTimeout != 5*time.Second {
		t.Errorf("unexpected timing defaults: %+v", cfg)
	}
	if cfg.MaxLinks != 3 || cfg.DeviceName != "Spark 40 BLE" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{
		EnvFrameSize:   "100",
		EnvPacing:      "0s",
		EnvNotifyDelay: "5ms",
		EnvDeviceName:  "Bench Amp",
		EnvLogLevel:    "debug",
		EnvMonitorAddr: ":8089",
	}))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.FrameSize != 100 || cfg.Pacing != 0 || cfg.NotifyDelay != 5*time.Millisecond {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.DeviceName != "Bench Amp" || cfg.LogLevel != logger.DEBUG || cfg.MonitorAddr != ":8089" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"non-numeric frame size", map[string]string{EnvFrameSize: "big"}},
		{"zero frame size", map[string]string{EnvFrameSize: "0"}},
		{"bad duration", map[string]string{EnvPacing: "soon"}},
		{"negative pacing", map[string]string{EnvPacing: "-1ms"}},
		{"zero links", map[string]string{EnvMaxLinks: "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(envMap(tt.env)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
