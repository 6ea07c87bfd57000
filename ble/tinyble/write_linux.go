package tinyble

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"github.com/user/spark-bridge/ble"
)

const (
	bluezGattService    = "org.bluez.GattService1"
	bluezCharacteristic = "org.bluez.GattCharacteristic1"
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// devicePath is the BlueZ object path of a peer on the default adapter
func devicePath(mac string) dbus.ObjectPath {
	return dbus.ObjectPath(defaultAdapter + "/dev_" + strings.ToUpper(strings.ReplaceAll(mac, ":", "_")))
}

// writeOptions selects the ATT operation BlueZ uses for WriteValue
func writeOptions(withResponse bool) map[string]dbus.Variant {
	if withResponse {
		return map[string]dbus.Variant{"type": dbus.MakeVariant("request")}
	}
	return map[string]dbus.Variant{"type": dbus.MakeVariant("command")}
}

// findCharacteristic looks up the object path of char inside service on device
func findCharacteristic(objs managedObjects, device dbus.ObjectPath, service, char ble.UUID) (dbus.ObjectPath, bool) {
	paths := make([]string, 0, len(objs))
	for p := range objs {
		if strings.HasPrefix(string(p), string(device)+"/") {
			paths = append(paths, string(p))
		}
	}
	sort.Strings(paths)

	for _, p := range paths {
		props, ok := objs[dbus.ObjectPath(p)][bluezCharacteristic]
		if !ok || !sameUUID(props["UUID"], char) {
			continue
		}
		svcPath, ok := props["Service"].Value().(dbus.ObjectPath)
		if !ok {
			continue
		}
		if svc, ok := objs[svcPath][bluezGattService]; ok && sameUUID(svc["UUID"], service) {
			return dbus.ObjectPath(p), true
		}
	}
	return "", false
}

func sameUUID(v dbus.Variant, id ble.UUID) bool {
	s, ok := v.Value().(string)
	return ok && strings.EqualFold(s, id.String())
}

// requestWriter sends acknowledged writes. The backend only exposes write
// commands on Linux, so write requests go to BlueZ directly.
type requestWriter struct {
	device  dbus.ObjectPath
	service ble.UUID
	char    ble.UUID

	mu   sync.Mutex
	path dbus.ObjectPath
}

func (w *requestWriter) resolve(ctx context.Context, conn *dbus.Conn) (dbus.ObjectPath, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.path != "" {
		return w.path, nil
	}
	var objs managedObjects
	call := conn.Object(bluezService, "/").CallWithContext(ctx, "org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0)
	if err := call.Store(&objs); err != nil {
		return "", errors.Wrap(err, "tinyble: managed objects")
	}
	path, ok := findCharacteristic(objs, w.device, w.service, w.char)
	if !ok {
		return "", errors.Wrapf(ble.ErrNotFound, "tinyble: characteristic %s under %s", w.char, w.device)
	}
	w.path = path
	return path, nil
}

func (w *requestWriter) write(ctx context.Context, data []byte) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return errors.Wrap(err, "tinyble: system bus")
	}
	path, err := w.resolve(ctx, conn)
	if err != nil {
		return err
	}
	call := conn.Object(bluezService, path).CallWithContext(ctx, bluezCharacteristic+".WriteValue", 0, data, writeOptions(true))
	return call.Err
}
