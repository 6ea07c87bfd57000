package tinyble

import (
	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
)

const (
	bluezService   = "org.bluez"
	bluezAdapter   = "org.bluez.Adapter1"
	defaultAdapter = "/org/bluez/hci0"
)

// setAlias renames the adapter; BlueZ advertises the alias as local name
func setAlias(name string) error {
	if name == "" {
		return nil
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return errors.Wrap(err, "tinyble: system bus")
	}
	adapter := conn.Object(bluezService, dbus.ObjectPath(defaultAdapter))
	call := adapter.Call("org.freedesktop.DBus.Properties.Set", 0, bluezAdapter, "Alias", dbus.MakeVariant(name))
	if call.Err != nil {
		return errors.Wrap(call.Err, "tinyble: set alias")
	}
	return nil
}
