package ble

import (
	"testing"
	"time"
)

func TestUUID16(t *testing.T) {
	if got := UUID16(0x2902).String(); got != "00002902-0000-1000-8000-00805f9b34fb" {
		t.Errorf("UUID16(0x2902) = %s", got)
	}
	if short, ok := Short(UUID16(0xffc0)); !ok || short != 0xffc0 {
		t.Errorf("Short() = %04x, %v", short, ok)
	}
	if _, ok := Short(MustParseUUID("E621E1F8-C36C-495A-93FC-0C247A3E6E5F")); ok {
		t.Error("vendor UUID must not have a short alias")
	}
}

func TestParseUUIDShortForm(t *testing.T) {
	u, err := ParseUUID("ffc1")
	if err != nil {
		t.Fatalf("ParseUUID failed: %v", err)
	}
	if u != UUID16(0xffc1) {
		t.Errorf("ParseUUID(ffc1) = %s", u)
	}
	if _, err := ParseUUID("not-a-uuid"); err == nil {
		t.Error("expected parse error")
	}
}

func TestAdvertisementHasService(t *testing.T) {
	adv := Advertisement{ServiceUUIDs: []UUID{UUID16(0x180f), UUID16(0xffc0)}}
	if !adv.HasServiceUUID(UUID16(0xffc0)) {
		t.Error("expected service match")
	}
	if adv.HasServiceUUID(UUID16(0x1800)) {
		t.Error("unexpected service match")
	}
}

func TestPropertyHelpers(t *testing.T) {
	p := PropRead | PropWrite | PropWriteWithoutResponse
	if !p.CanWrite() || p.CanNotify() {
		t.Errorf("unexpected capabilities for %s", p)
	}
	if (PropRead | PropNotify).String() != "read|notify" {
		t.Errorf("String() = %q", (PropRead | PropNotify).String())
	}
}

func TestConnParamsValidation(t *testing.T) {
	tests := []struct {
		name    string
		params  ConnParams
		wantErr bool
	}{
		{"default parameters", DefaultConnParams(), false},
		{"amp link parameters", ConnParams{IntervalMin: 12, IntervalMax: 12, SlaveLatency: 0, SupervisionTimeout: 51}, false},
		{"IntervalMin too small", ConnParams{IntervalMin: 5, IntervalMax: 40, SupervisionTimeout: 600}, true},
		{"IntervalMax below IntervalMin", ConnParams{IntervalMin: 40, IntervalMax: 24, SupervisionTimeout: 600}, true},
		{"latency too large", ConnParams{IntervalMin: 24, IntervalMax: 40, SlaveLatency: 500, SupervisionTimeout: 600}, true},
		{"timeout shorter than interval budget", ConnParams{IntervalMin: 400, IntervalMax: 400, SupervisionTimeout: 100}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConnParamsDurations(t *testing.T) {
	p := ConnParams{IntervalMin: 12, IntervalMax: 12, SupervisionTimeout: 51}
	if p.IntervalMinDuration() != 15*time.Millisecond {
		t.Errorf("IntervalMinDuration() = %v", p.IntervalMinDuration())
	}
	if p.SupervisionTimeoutDuration() != 510*time.Millisecond {
		t.Errorf("SupervisionTimeoutDuration() = %v", p.SupervisionTimeoutDuration())
	}
}
