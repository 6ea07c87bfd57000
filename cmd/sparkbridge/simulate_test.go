package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/user/spark-bridge/config"
	"github.com/user/spark-bridge/wire"
)

func TestSimulationPlaysHandshake(t *testing.T) {
	cfg := config.Default()
	cfg.Pacing = time.Millisecond
	cfg.RetryDelay = 20 * time.Millisecond

	sim, err := newSimulation(cfg, wire.PerfectSimulationConfig())
	if err != nil {
		t.Fatalf("newSimulation failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report, err := sim.play(ctx)
	if err != nil {
		t.Fatalf("simulation failed: %v", err)
	}
	if !strings.Contains(report, "handshake: 11 notifications") {
		t.Errorf("unexpected report:\n%s", report)
	}
	cancel()
	sim.wait()
	t.Logf("✅ %s", strings.ReplaceAll(report, "\n", ", "))
}
