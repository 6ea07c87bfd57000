package ble

import (
	"fmt"
	"time"
)

// ConnParams holds the LE connection parameters a central requests.
type ConnParams struct {
	// Connection interval in units of 1.25ms
	// Range: 6 (7.5ms) to 3200 (4s)
	IntervalMin uint16

	// Maximum connection interval in units of 1.25ms
	IntervalMax uint16

	// Slave latency (number of connection events the peripheral can skip)
	// Range: 0 to 499
	SlaveLatency uint16

	// Supervision timeout in units of 10ms
	// Range: 100ms (10) to 32s (3200)
	// Must be larger than (1 + SlaveLatency) * IntervalMax * 2
	SupervisionTimeout uint16
}

// DefaultConnParams returns typical phone-side connection parameters
func DefaultConnParams() ConnParams {
	return ConnParams{
		IntervalMin:        24,  // 30ms
		IntervalMax:        40,  // 50ms
		SlaveLatency:       0,   // No latency for responsive connection
		SupervisionTimeout: 600, // 6 seconds
	}
}

// Validate checks if connection parameters are within valid BLE ranges
func (p ConnParams) Validate() error {
	if p.IntervalMin < 6 || p.IntervalMin > 3200 {
		return fmt.Errorf("ble: IntervalMin out of range (6-3200): %d", p.IntervalMin)
	}
	if p.IntervalMax < 6 || p.IntervalMax > 3200 {
		return fmt.Errorf("ble: IntervalMax out of range (6-3200): %d", p.IntervalMax)
	}
	if p.IntervalMax < p.IntervalMin {
		return fmt.Errorf("ble: IntervalMax (%d) must be >= IntervalMin (%d)", p.IntervalMax, p.IntervalMin)
	}
	if p.SlaveLatency > 499 {
		return fmt.Errorf("ble: SlaveLatency out of range (0-499): %d", p.SlaveLatency)
	}
	if p.SupervisionTimeout < 10 || p.SupervisionTimeout > 3200 {
		return fmt.Errorf("ble: SupervisionTimeout out of range (10-3200): %d", p.SupervisionTimeout)
	}

	// (1 + latency) * intervalMax * 2, converted from 1.25ms to 10ms units
	minTimeout := (1 + uint32(p.SlaveLatency)) * uint32(p.IntervalMax) * 2 * 125 / 1000
	if uint32(p.SupervisionTimeout) <= minTimeout {
		return fmt.Errorf("ble: SupervisionTimeout (%d * 10ms) must be > (1+latency)*interval*2 (%d * 10ms)",
			p.SupervisionTimeout, minTimeout)
	}

	return nil
}

// IntervalMinDuration returns the minimum connection interval
func (p ConnParams) IntervalMinDuration() time.Duration {
	return time.Duration(p.IntervalMin) * 1250 * time.Microsecond
}

// IntervalMaxDuration returns the maximum connection interval
func (p ConnParams) IntervalMaxDuration() time.Duration {
	return time.Duration(p.IntervalMax) * 1250 * time.Microsecond
}

// SupervisionTimeoutDuration returns the supervision timeout
func (p ConnParams) SupervisionTimeoutDuration() time.Duration {
	return time.Duration(p.SupervisionTimeout) * 10 * time.Millisecond
}

func (p ConnParams) String() string {
	return fmt.Sprintf("interval=%v-%v latency=%d timeout=%v",
		p.IntervalMinDuration(), p.IntervalMaxDuration(), p.SlaveLatency, p.SupervisionTimeoutDuration())
}
