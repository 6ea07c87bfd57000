package bridge

import (
	"errors"
	"testing"

	"github.com/user/spark-bridge/ble"
	"github.com/user/spark-bridge/spark"
)

func TestScanIgnoresOtherDevices(t *testing.T) {
	scanner := &fakeScanner{}
	s := NewScanController(scanner, spark.ServiceUUID, nil)
	if err := s.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	s.HandleResult(ble.Advertisement{Address: "11:22", LocalName: "Headphones", ServiceUUIDs: []ble.UUID{ble.UUID16(0x180f)}})
	s.HandleResult(ble.Advertisement{Address: "33:44", LocalName: "Beacon"})

	if s.State() != ScanScanning {
		t.Errorf("expected scanning, got %s", s.State())
	}
	if !scanner.IsScanning() {
		t.Error("scan must keep running on non-matching results")
	}
	select {
	case id := <-s.Candidates():
		t.Fatalf("unexpected candidate %+v", id)
	default:
	}
}

func TestScanFindsSpark(t *testing.T) {
	scanner := &fakeScanner{}
	s := NewScanController(scanner, spark.ServiceUUID, nil)
	s.Start(0)

	adv := ble.Advertisement{Address: "F7:01", LocalName: "Spark 40 Audio", RSSI: -40, ServiceUUIDs: []ble.UUID{spark.ServiceUUID}}
	if _, ok := s.HandleResult(adv); !ok {
		t.Fatal("matching advertisement was not taken")
	}
	if s.State() != ScanFound {
		t.Errorf("expected found, got %s", s.State())
	}
	if scanner.IsScanning() {
		t.Error("scan should stop once the Spark is found")
	}

	// the same cycle signals only once
	if _, ok := s.HandleResult(adv); ok {
		t.Error("second result in the same cycle must be ignored")
	}

	// a queued candidate survives Stop
	s.Stop()
	select {
	case id := <-s.Candidates():
		if id.Address != "F7:01" || id.Name != "Spark 40 Audio" || id.RSSI != -40 {
			t.Errorf("unexpected identity %+v", id)
		}
	default:
		t.Fatal("candidate was lost")
	}
	select {
	case <-s.Candidates():
		t.Fatal("candidate signalled twice")
	default:
	}
}

func TestScanStartFailure(t *testing.T) {
	scanner := &fakeScanner{startErr: errors.New("controller busy")}
	s := NewScanController(scanner, spark.ServiceUUID, nil)

	err := s.Start(0)
	if !errors.Is(err, ErrScanStart) {
		t.Fatalf("expected scan start failure, got %v", err)
	}
	if s.State() != ScanIdle {
		t.Errorf("expected idle, got %s", s.State())
	}
	if scanner.starts != 0 {
		t.Error("controller must not retry on its own")
	}
}

func TestScanEndedReturnsToIdle(t *testing.T) {
	scanner := &fakeScanner{}
	s := NewScanController(scanner, spark.ServiceUUID, nil)
	s.Start(0)
	s.HandleScanEnded()
	if s.State() != ScanIdle {
		t.Errorf("expected idle, got %s", s.State())
	}

	// a found cycle stays found until consumed
	s.Start(0)
	s.HandleResult(ble.Advertisement{Address: "F7:01", ServiceUUIDs: []ble.UUID{spark.ServiceUUID}})
	s.HandleScanEnded()
	if s.State() != ScanFound {
		t.Errorf("expected found, got %s", s.State())
	}
	s.Reset()
	if s.State() != ScanIdle {
		t.Errorf("expected idle after reset, got %s", s.State())
	}
}

func TestScanStartIsIdempotent(t *testing.T) {
	scanner := &fakeScanner{}
	s := NewScanController(scanner, spark.ServiceUUID, nil)
	s.Start(0)
	s.Start(0)
	if scanner.starts != 1 {
		t.Errorf("expected 1 scan start, got %d", scanner.starts)
	}
}
