package bridge

import (
	"github.com/user/spark-bridge/ble"
	"github.com/user/spark-bridge/spark"
)

// The stack reports events through four observer roles. Each adapter below
// forwards one role into the bridge.

type scanObserver struct{ b *Bridge }

func (o scanObserver) OnResult(adv ble.Advertisement) { o.b.onScanResult(adv) }
func (o scanObserver) OnScanEnded()                   { o.b.onScanEnded() }

type clientObserver struct{ b *Bridge }

func (o clientObserver) OnConnect(c ble.Client) { o.b.onAmpConnected(c) }

func (o clientObserver) OnDisconnect(c ble.Client, reason error) {
	o.b.onAmpDisconnected(c, reason)
}

type serverObserver struct{ b *Bridge }

func (o serverObserver) OnConnect(peer ble.Address)    { o.b.onAppConnected(peer) }
func (o serverObserver) OnDisconnect(peer ble.Address) { o.b.onAppDisconnected(peer) }

type characteristicObserver struct{ b *Bridge }

func (o characteristicObserver) OnWrite(c ble.LocalCharacteristic, peer ble.Address, data []byte) {
	if c.UUID() != spark.WriteCharUUID {
		return
	}
	o.b.onAppWrite(peer, data)
}

func (o characteristicObserver) OnSubscribe(c ble.LocalCharacteristic, peer ble.Address, cccd uint16) {
	o.b.onAppSubscribe(c, peer, cccd)
}
