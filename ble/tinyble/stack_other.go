//go:build !linux

// Package tinyble runs the bridge on a real BLE controller through
// tinygo.org/x/bluetooth (BlueZ on Linux).
package tinyble

import (
	"github.com/pkg/errors"

	"github.com/user/spark-bridge/ble"
)

// Options tune the hardware stack
type Options struct {
	MaxConnections int
	Watch          []ble.UUID
}

// Stack is only available on Linux
type Stack struct {
	ble.Stack
}

// New returns a stack whose Init always fails on this platform
func New(opts Options) *Stack {
	return &Stack{}
}

func (s *Stack) Init(deviceName string) error {
	return errors.Wrap(ble.ErrUnsupported, "tinyble: hardware backend requires Linux")
}
