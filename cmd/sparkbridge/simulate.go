package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/user/spark-bridge/ble"
	"github.com/user/spark-bridge/bridge"
	"github.com/user/spark-bridge/config"
	"github.com/user/spark-bridge/logger"
	"github.com/user/spark-bridge/spark"
	"github.com/user/spark-bridge/wire"
)

const (
	simAmpAddr    = ble.Address("F7:5A:00:00:00:40")
	simBridgeAddr = ble.Address("B8:27:EB:00:00:01")
	simAppAddr    = ble.Address("A4:C1:38:00:00:02")
)

// simulation is an amplifier, the bridge and an app on one simulated air
type simulation struct {
	cfg  config.Config
	amp  *wire.Amp
	app  *wire.App
	b    *bridge.Bridge
	done chan error
}

func newSimulation(cfg config.Config, simCfg *wire.SimulationConfig, opts ...bridge.Option) (*simulation, error) {
	air := wire.NewAir(simCfg)

	amp, err := wire.NewAmp(air, simAmpAddr)
	if err != nil {
		return nil, err
	}
	dev, err := wire.NewDevice(air, simBridgeAddr, wire.WithMaxConnections(cfg.MaxLinks))
	if err != nil {
		return nil, err
	}
	app, err := wire.NewApp(air, simAppAddr)
	if err != nil {
		return nil, err
	}
	b, err := bridge.New(dev, nil, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &simulation{cfg: cfg, amp: amp, app: app, b: b, done: make(chan error, 1)}, nil
}

// play starts the bridge, waits for the amp link and runs the app handshake
func (s *simulation) play(ctx context.Context) (string, error) {
	go func() { s.done <- s.b.Run(ctx) }()

	if err := s.waitAmp(ctx, 10*time.Second); err != nil {
		return "", err
	}

	stepCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	adv, err := s.app.Discover(stepCtx, s.cfg.DeviceName)
	if err != nil {
		return "", errors.Wrap(err, "simulate: app discovery")
	}
	// the simulated radio may refuse a connection now and then
	for attempt := 1; ; attempt++ {
		err := s.app.ConnectTo(stepCtx, adv.Address)
		if err == nil {
			break
		}
		if attempt == 3 {
			return "", errors.Wrap(err, "simulate: app connect")
		}
		logger.Warn("Simulate", "app connect attempt %d failed: %v", attempt, err)
	}
	if err := s.app.Handshake(stepCtx, s.cfg.FrameSize, 2*time.Second); err != nil {
		return "", err
	}

	// app traffic towards the amp goes through the framed, paced path
	set := spark.BuildBlock(spark.DirToAmp, 0x10, spark.CmdSet, spark.SubPresetNumber, []byte{0x00, 0x01})
	if err := s.b.SendToAmp(stepCtx, [][]byte{set}, true); err != nil {
		return "", err
	}
	if !s.amp.WaitWrites(1, 2*time.Second) {
		return "", errors.New("simulate: amp never received the preset change")
	}

	reply := spark.BuildBlock(spark.DirFromAmp, 0x10, spark.CmdAck, spark.SubPresetNumber, nil)
	if err := s.amp.Notify(reply); err != nil {
		return "", err
	}

	logger.DebugJSON("Simulate", "bridge state", s.b.Snapshot())
	var sb strings.Builder
	fmt.Fprintf(&sb, "handshake: %d notifications\n", len(s.app.Notifications()))
	fmt.Fprintf(&sb, "amp: %d frame(s) received\n", len(s.amp.Writes()))
	fmt.Fprintf(&sb, "cursor: %d", s.b.State().Cursor())
	return sb.String(), nil
}

func (s *simulation) waitAmp(ctx context.Context, timeout time.Duration) error {
	deadline := time.After(timeout)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for !s.b.State().AmpConnected() || !s.amp.Subscribed(simBridgeAddr) {
		select {
		case <-tick.C:
		case <-deadline:
			return errors.New("simulate: bridge never linked to the amp")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *simulation) wait() {
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		logger.Warn("Simulate", "bridge did not stop in time")
	}
}
