package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/spark-bridge/ble"
	"github.com/user/spark-bridge/config"
	"github.com/user/spark-bridge/wire"
)

const (
	ampAddr    = ble.Address("F7:00:00:00:00:01")
	bridgeAddr = ble.Address("B0:00:00:00:00:02")
	appAddr    = ble.Address("A1:00:00:00:00:03")
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Pacing = 0
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.ConnectTimeout = 200 * time.Millisecond
	return cfg
}

// rig is a bridge on a simulated air with an amplifier in range
type rig struct {
	air    *wire.Air
	amp    *wire.Amp
	dev    *wire.Device
	b      *Bridge
	events *recordingListener
}

func newRig(t *testing.T, cfg config.Config, opts ...wire.DeviceOption) *rig {
	t.Helper()
	air := wire.NewAir(wire.PerfectSimulationConfig())
	amp, err := wire.NewAmp(air, ampAddr)
	if err != nil {
		t.Fatalf("Failed to create amp: %v", err)
	}
	dev, err := wire.NewDevice(air, bridgeAddr, opts...)
	if err != nil {
		t.Fatalf("Failed to create bridge device: %v", err)
	}
	events := &recordingListener{}
	b, err := New(dev, nil, cfg, WithListener(events))
	if err != nil {
		t.Fatalf("Failed to create bridge: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Failed to start bridge: %v", err)
	}
	return &rig{air: air, amp: amp, dev: dev, b: b, events: events}
}

func (r *rig) ampIdentity() DeviceIdentity {
	return DeviceIdentity{Address: ampAddr, Name: "Spark 40 Audio"}
}

// connectApp brings up a simulated app linked to the bridge
func (r *rig) connectApp(t *testing.T) *wire.App {
	t.Helper()
	app, err := wire.NewApp(r.air, appAddr)
	if err != nil {
		t.Fatalf("Failed to create app: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	adv, err := app.Discover(ctx, r.b.cfg.DeviceName)
	if err != nil {
		t.Fatalf("App failed to discover the bridge: %v", err)
	}
	if adv.Address != bridgeAddr {
		t.Fatalf("App discovered %s instead of the bridge", adv.Address)
	}
	if err := app.ConnectTo(ctx, adv.Address); err != nil {
		t.Fatalf("App failed to connect: %v", err)
	}
	return app
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fakeScanner records scan calls for controller tests
type fakeScanner struct {
	mu       sync.Mutex
	scanning bool
	startErr error
	starts   int
	stops    int
}

func (f *fakeScanner) StartScan(d time.Duration, obs ble.ScanObserver) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.scanning = true
	return nil
}

func (f *fakeScanner) StopScan() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.scanning = false
	return nil
}

func (f *fakeScanner) IsScanning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanning
}

// recordingNotifier captures handshake bursts
type recordingNotifier struct {
	mu     sync.Mutex
	bursts [][][]byte
	err    error
}

func (r *recordingNotifier) NotifyBurst(msgs [][]byte, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.bursts = append(r.bursts, msgs)
	return nil
}

// recordingListener captures emitted event names
type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingListener) BridgeEvent(name string, state *structpb.Struct) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, name)
}

func (l *recordingListener) has(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == name {
			return true
		}
	}
	return false
}
