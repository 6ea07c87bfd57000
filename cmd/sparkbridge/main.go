package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/user/spark-bridge/ble"
	"github.com/user/spark-bridge/ble/tinyble"
	"github.com/user/spark-bridge/bridge"
	"github.com/user/spark-bridge/config"
	"github.com/user/spark-bridge/logger"
	"github.com/user/spark-bridge/monitor"
	"github.com/user/spark-bridge/spark"
	"github.com/user/spark-bridge/wire"
)

func main() {
	def := config.Default()

	app := cli.NewApp()
	app.Name = "sparkbridge"
	app.Usage = "Relay between a Spark amplifier and the Spark app over BLE"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.IntFlag{Name: "frame-size", Value: def.FrameSize, EnvVar: config.EnvFrameSize, Usage: "bytes per outbound frame"},
		cli.DurationFlag{Name: "pacing", Value: def.Pacing, EnvVar: config.EnvPacing, Usage: "pause after each frame written to the amp"},
		cli.DurationFlag{Name: "connect-timeout", Value: def.ConnectTimeout, EnvVar: config.EnvConnectTimeout, Usage: "amp connect deadline"},
		cli.DurationFlag{Name: "scan-duration", Value: def.ScanDuration, EnvVar: config.EnvScanDuration, Usage: "scan window, 0 scans until found"},
		cli.IntFlag{Name: "max-links", Value: def.MaxLinks, EnvVar: config.EnvMaxLinks, Usage: "outbound client pool size"},
		cli.DurationFlag{Name: "notify-delay", Value: def.NotifyDelay, EnvVar: config.EnvNotifyDelay, Usage: "pause between handshake notifications"},
		cli.DurationFlag{Name: "retry-delay", Value: def.RetryDelay, EnvVar: config.EnvRetryDelay, Usage: "pause before rescanning after a failure"},
		cli.StringFlag{Name: "name, n", Value: def.DeviceName, EnvVar: config.EnvDeviceName, Usage: "name advertised to the app"},
		cli.StringFlag{Name: "log-level, l", Value: def.LogLevel.String(), EnvVar: config.EnvLogLevel, Usage: "TRACE, DEBUG, INFO, WARN or ERROR"},
		cli.StringFlag{Name: "monitor, m", Value: def.MonitorAddr, EnvVar: config.EnvMonitorAddr, Usage: "websocket monitor listen address"},
	}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "Bridge a real amplifier and app through the local adapter",
			Action: run,
		},
		{
			Name:   "simulate",
			Usage:  "Bridge a simulated amplifier and app in memory",
			Action: simulate,
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "hold", Usage: "keep the simulation running after the handshake"},
				cli.BoolFlag{Name: "realistic", Usage: "simulate radio delays and connection failures"},
				cli.Float64Flag{Name: "loss", Usage: "packet loss rate (0-1)"},
			},
		},
	}
	app.Action = cli.ShowAppHelp

	if err := app.Run(os.Args); err != nil {
		logger.Error("Main", "%v", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	cfg.FrameSize = c.GlobalInt("frame-size")
	cfg.Pacing = c.GlobalDuration("pacing")
	cfg.ConnectTimeout = c.GlobalDuration("connect-timeout")
	cfg.ScanDuration = c.GlobalDuration("scan-duration")
	cfg.MaxLinks = c.GlobalInt("max-links")
	cfg.NotifyDelay = c.GlobalDuration("notify-delay")
	cfg.RetryDelay = c.GlobalDuration("retry-delay")
	cfg.DeviceName = c.GlobalString("name")
	cfg.LogLevel = logger.ParseLevel(c.GlobalString("log-level"))
	cfg.MonitorAddr = c.GlobalString("monitor")
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	logger.SetLevel(cfg.LogLevel)
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sig:
			logger.Info("Main", "received %s, shutting down", s)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sig)
	}()
	return ctx, cancel
}

func bridgeOptions(ctx context.Context, cfg config.Config) []bridge.Option {
	if cfg.MonitorAddr == "" {
		return nil
	}
	hub := monitor.NewHub()
	go func() {
		if err := hub.Serve(ctx, cfg.MonitorAddr); err != nil {
			logger.Warn("Main", "monitor stopped: %v", err)
		}
	}()
	return []bridge.Option{bridge.WithListener(hub)}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	stack := tinyble.New(tinyble.Options{
		MaxConnections: cfg.MaxLinks,
		Watch:          []ble.UUID{spark.ServiceUUID},
	})
	b, err := bridge.New(stack, nil, cfg, bridgeOptions(ctx, cfg)...)
	if err != nil {
		return err
	}
	logger.Info("Main", "🎸 Bridging as %q", cfg.DeviceName)
	if err := b.Run(ctx); err != nil && errors.Cause(err) != context.Canceled {
		return err
	}
	return nil
}

func simulate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	simCfg := wire.PerfectSimulationConfig()
	if c.Bool("realistic") {
		simCfg = wire.DefaultSimulationConfig()
	}
	if c.IsSet("loss") || !c.Bool("realistic") {
		simCfg.PacketLossRate = c.Float64("loss")
	}
	sim, err := newSimulation(cfg, simCfg, bridgeOptions(ctx, cfg)...)
	if err != nil {
		return err
	}
	report, err := sim.play(ctx)
	if err != nil {
		return err
	}
	fmt.Println(report)

	if hold := c.Duration("hold"); hold > 0 {
		select {
		case <-time.After(hold):
		case <-ctx.Done():
		}
	}
	cancel()
	sim.wait()
	return nil
}
