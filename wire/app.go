package wire

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/user/spark-bridge/ble"
	"github.com/user/spark-bridge/logger"
	"github.com/user/spark-bridge/spark"
	"github.com/user/spark-bridge/wire/att"
)

// App is a simulated mobile app: it finds a Spark by its advertised service,
// connects, subscribes to notifications and writes requests.
type App struct {
	*Device

	mu            sync.Mutex
	client        ble.Client
	writeChar     ble.RemoteCharacteristic
	notifications [][]byte
	arrived       chan struct{}
	disconnects   int
}

// NewApp creates and powers on an app device
func NewApp(air *Air, addr ble.Address, opts ...DeviceOption) (*App, error) {
	dev, err := NewDevice(air, addr, opts...)
	if err != nil {
		return nil, err
	}
	if err := dev.Init("Spark App"); err != nil {
		return nil, err
	}
	return &App{Device: dev, arrived: make(chan struct{}, 1)}, nil
}

// ScanCollector is a ScanObserver that forwards results to a channel
type ScanCollector struct {
	Results chan ble.Advertisement
	Ended   chan struct{}
}

// NewScanCollector buffers up to n results
func NewScanCollector(n int) *ScanCollector {
	return &ScanCollector{
		Results: make(chan ble.Advertisement, n),
		Ended:   make(chan struct{}, 1),
	}
}

func (s *ScanCollector) OnResult(adv ble.Advertisement) {
	select {
	case s.Results <- adv:
	default:
	}
}

func (s *ScanCollector) OnScanEnded() {
	select {
	case s.Ended <- struct{}{}:
	default:
	}
}

// Discover scans until a device advertising the Spark service (and named
// name, when not empty) shows up
func (a *App) Discover(ctx context.Context, name string) (ble.Advertisement, error) {
	collector := NewScanCollector(16)
	if err := a.StartScan(0, collector); err != nil {
		return ble.Advertisement{}, err
	}
	defer a.StopScan()

	for {
		select {
		case adv := <-collector.Results:
			if !adv.HasServiceUUID(spark.ServiceUUID) {
				continue
			}
			if name != "" && adv.LocalName != name {
				continue
			}
			return adv, nil
		case <-ctx.Done():
			return ble.Advertisement{}, errors.Wrap(ctx.Err(), "wire: discover")
		}
	}
}

// ConnectTo links to the Spark at addr and subscribes to its notifications
func (a *App) ConnectTo(ctx context.Context, addr ble.Address) error {
	client := a.ClientByAddress(addr)
	if client == nil {
		var err error
		if client, err = a.CreateClient(a); err != nil {
			return err
		}
	}
	if err := client.Connect(ctx, addr, true); err != nil {
		return err
	}
	svc, err := client.Service(ctx, spark.ServiceUUID)
	if err != nil {
		return err
	}
	wc, err := svc.Characteristic(spark.WriteCharUUID)
	if err != nil {
		return err
	}
	nc, err := svc.Characteristic(spark.NotifyCharUUID)
	if err != nil {
		return err
	}
	if err := nc.Subscribe(true, a.onNotify); err != nil {
		return err
	}

	a.mu.Lock()
	a.client = client
	a.writeChar = wc
	a.mu.Unlock()
	logger.Info(a.tag(), "📱 Connected to Spark %s", addr)
	return nil
}

func (a *App) OnConnect(c ble.Client) {}

func (a *App) OnDisconnect(c ble.Client, reason error) {
	a.mu.Lock()
	a.disconnects++
	a.mu.Unlock()
}

func (a *App) onNotify(data []byte) {
	a.mu.Lock()
	a.notifications = append(a.notifications, data)
	a.mu.Unlock()
	select {
	case a.arrived <- struct{}{}:
	default:
	}
}

// Write sends one message to the Spark with response
func (a *App) Write(ctx context.Context, data []byte) error {
	a.mu.Lock()
	wc := a.writeChar
	a.mu.Unlock()
	if wc == nil {
		return ble.ErrNotConnected
	}
	return wc.WriteValue(ctx, data, true)
}

// Disconnect drops the link to the Spark
func (a *App) Disconnect() error {
	a.mu.Lock()
	c := a.client
	a.writeChar = nil
	a.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Disconnect()
}

// Disconnects counts links lost or closed
func (a *App) Disconnects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.disconnects
}

// Notifications returns a copy of every notification received so far
func (a *App) Notifications() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]byte, len(a.notifications))
	copy(out, a.notifications)
	return out
}

// ResetNotifications forgets everything received so far
func (a *App) ResetNotifications() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notifications = nil
}

// WaitNotifications blocks until at least n notifications arrived
func (a *App) WaitNotifications(n int, timeout time.Duration) ([][]byte, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		got := a.Notifications()
		if len(got) >= n {
			return got, true
		}
		select {
		case <-a.arrived:
		case <-deadline.C:
			return got, false
		}
	}
}

// Handshake plays the app's bootstrap: each request is written and its
// canned reply awaited before the next one goes out. frameSize is the
// bridge's outbound frame size.
func (a *App) Handshake(ctx context.Context, frameSize int, timeout time.Duration) error {
	a.ResetNotifications()
	expected := 0
	for step, req := range spark.BootstrapRequests() {
		for _, msg := range spark.CannedMessage(step + 1) {
			expected += att.CountFrames(len(msg), frameSize)
		}
		if err := a.Write(ctx, req); err != nil {
			return errors.Wrapf(err, "wire: handshake step %d", step+1)
		}
		if _, ok := a.WaitNotifications(expected, timeout); !ok {
			return errors.Errorf("wire: handshake step %d (%s) timed out", step+1, spark.StepName(step+1))
		}
	}
	logger.Info(a.tag(), "🤝 Handshake complete (%d notifications)", expected)
	return nil
}
