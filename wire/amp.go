package wire

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/user/spark-bridge/ble"
	"github.com/user/spark-bridge/logger"
	"github.com/user/spark-bridge/spark"
	"github.com/user/spark-bridge/wire/att"
)

// Amp is a simulated Spark amplifier: it hosts the Spark service, records
// every write it receives and can push notifications to subscribers.
type Amp struct {
	*Device

	writeChar  *LocalCharacteristic
	notifyChar *LocalCharacteristic

	mu       sync.Mutex
	writes   [][]byte
	arrived  chan struct{}
	centrals []ble.Address
}

// NewAmp creates, powers on and starts advertising an amplifier
func NewAmp(air *Air, addr ble.Address, opts ...DeviceOption) (*Amp, error) {
	dev, err := NewDevice(air, addr, opts...)
	if err != nil {
		return nil, err
	}
	amp := &Amp{Device: dev, arrived: make(chan struct{}, 1)}

	if err := dev.Init("Spark 40 Audio"); err != nil {
		return nil, err
	}
	server, err := dev.CreateServer(amp)
	if err != nil {
		return nil, err
	}
	svc, err := server.CreateService(spark.ServiceUUID)
	if err != nil {
		return nil, err
	}
	wc, err := svc.CreateCharacteristic(spark.WriteCharUUID, ble.PropWrite|ble.PropWriteWithoutResponse, amp)
	if err != nil {
		return nil, err
	}
	nc, err := svc.CreateCharacteristic(spark.NotifyCharUUID, ble.PropRead|ble.PropNotify, amp)
	if err != nil {
		return nil, err
	}
	if err := svc.Start(); err != nil {
		return nil, err
	}
	amp.writeChar = wc.(*LocalCharacteristic)
	amp.notifyChar = nc.(*LocalCharacteristic)

	adv := dev.Advertising()
	adv.SetName("Spark 40 Audio")
	adv.AddServiceUUID(spark.ServiceUUID)
	if err := adv.Start(); err != nil {
		return nil, errors.Wrap(err, "wire: amp advertising")
	}
	return amp, nil
}

func (a *Amp) OnConnect(peer ble.Address) {
	a.mu.Lock()
	a.centrals = append(a.centrals, peer)
	a.mu.Unlock()
	// the amp keeps advertising while linked
	_ = a.adv.Start()
}

func (a *Amp) OnDisconnect(peer ble.Address) {
	_ = a.adv.Start()
}

func (a *Amp) OnWrite(c ble.LocalCharacteristic, peer ble.Address, data []byte) {
	a.mu.Lock()
	a.writes = append(a.writes, data)
	a.mu.Unlock()
	select {
	case a.arrived <- struct{}{}:
	default:
	}
}

func (a *Amp) OnSubscribe(c ble.LocalCharacteristic, peer ble.Address, cccd uint16) {
	logger.Debug(a.tag(), "🔔 %s set CCCD 0x%04X", peer, cccd)
}

// Writes returns a copy of every frame received so far, in order
func (a *Amp) Writes() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]byte, len(a.writes))
	copy(out, a.writes)
	return out
}

// Received returns the concatenation of all frames received so far
func (a *Amp) Received() []byte {
	return att.Join(a.Writes())
}

// Centrals returns every central that ever connected, in order
func (a *Amp) Centrals() []ble.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ble.Address(nil), a.centrals...)
}

// WaitWrites blocks until at least n frames arrived or timeout elapses
func (a *Amp) WaitWrites(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		a.mu.Lock()
		got := len(a.writes)
		a.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-a.arrived:
		case <-deadline.C:
			return false
		}
	}
}

// Subscribed reports whether peer enabled notifications on the amp
func (a *Amp) Subscribed(peer ble.Address) bool {
	return a.notifyChar.cccd.IsNotifyEnabled(string(peer))
}

// Notify pushes data to every subscribed central
func (a *Amp) Notify(data []byte) error {
	a.notifyChar.SetValue(data)
	return a.notifyChar.Notify()
}
