package wire

import (
	"sort"
	"sync"

	"github.com/user/spark-bridge/ble"
	"github.com/user/spark-bridge/logger"
)

// Air is the shared medium every simulated device lives on. Devices find
// each other by address; only advertising devices show up in scans.
type Air struct {
	sim *Simulator

	mu      sync.RWMutex
	devices map[ble.Address]*Device
}

// NewAir creates an empty medium; nil selects DefaultSimulationConfig
func NewAir(cfg *SimulationConfig) *Air {
	return &Air{
		sim:     NewSimulator(cfg),
		devices: make(map[ble.Address]*Device),
	}
}

// Simulator returns the dice roller shared by the devices on this air
func (a *Air) Simulator() *Simulator {
	return a.sim
}

func (a *Air) attach(d *Device) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.devices[d.addr]; exists {
		return ErrDuplicateAddress
	}
	a.devices[d.addr] = d
	logger.Debug("Air", "📻 %s joined the air", d.addr)
	return nil
}

func (a *Air) detach(addr ble.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.devices, addr)
}

func (a *Air) device(addr ble.Address) *Device {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.devices[addr]
}

// advertisers returns the devices currently advertising, ordered by address
func (a *Air) advertisers() []*Device {
	a.mu.RLock()
	out := make([]*Device, 0, len(a.devices))
	for _, d := range a.devices {
		out = append(out, d)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].addr < out[j].addr })
	adv := out[:0]
	for _, d := range out {
		if d.adv.IsAdvertising() {
			adv = append(adv, d)
		}
	}
	return adv
}
