package advertising

import (
	"bytes"
	"testing"

	"github.com/user/spark-bridge/ble"
)

var sparkService = ble.UUID16(0xffc0)

func TestEncodeDecodeADStructures(t *testing.T) {
	in := []ADStructure{
		NewFlagsAD(FlagLEGeneralDiscoverableMode | FlagBREDRNotSupported),
		NewLocalNameAD("Spark 40 BLE", -1),
	}
	data, err := EncodeADStructures(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := []byte{0x02, 0x01, 0x06, 0x0D, 0x09}
	if !bytes.Equal(data[:5], want) {
		t.Errorf("header bytes % X, want % X", data[:5], want)
	}

	out, err := DecodeADStructures(append(data, 0x00, 0x00))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(out) != 2 || GetLocalName(out) != "Spark 40 BLE" {
		t.Errorf("decoded %+v", out)
	}
}

func TestDecodeRejectsOverrun(t *testing.T) {
	if _, err := DecodeADStructures([]byte{0x05, 0x09, 'S'}); err == nil {
		t.Error("expected overrun error")
	}
}

func TestEncodeRejectsOversize(t *testing.T) {
	long := NewLocalNameAD(string(bytes.Repeat([]byte{'x'}, 40)), -1)
	if _, err := EncodeADStructures([]ADStructure{long}); err == nil {
		t.Error("expected payload too long")
	}
}

func TestBuildWithScanResponse(t *testing.T) {
	adv, rsp, err := Build("Spark 40 BLE", []ble.UUID{sparkService}, true)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	// flags + one 16-bit service
	if !bytes.Equal(adv, []byte{0x02, 0x01, 0x06, 0x03, 0x03, 0xC0, 0xFF}) {
		t.Errorf("adv = % X", adv)
	}
	report, err := Parse(adv, rsp)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if report.Name != "Spark 40 BLE" {
		t.Errorf("name = %q", report.Name)
	}
	if len(report.Services) != 1 || report.Services[0] != sparkService {
		t.Errorf("services = %v", report.Services)
	}
	if report.Flags != 0x06 {
		t.Errorf("flags = %02X", report.Flags)
	}
}

func TestBuildShortensNameWithoutScanResponse(t *testing.T) {
	custom := ble.MustParseUUID("923bfb18-a711-4923-82a8-988ad38af7c1")
	adv, rsp, err := Build("Spark 40 Bluetooth Bridge", []ble.UUID{custom}, false)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if rsp != nil {
		t.Error("no scan response expected")
	}
	if len(adv) > MaxAdvertisingDataLen {
		t.Fatalf("adv is %d bytes", len(adv))
	}
	structures, _ := DecodeADStructures(adv)
	var shortened bool
	for _, s := range structures {
		if s.Type == ADTypeShortenedLocalName {
			shortened = true
		}
	}
	if !shortened {
		t.Error("name should be shortened")
	}
	report, _ := Parse(adv, nil)
	if len(report.Services) != 1 || report.Services[0] != custom {
		t.Errorf("128-bit service lost: %v", report.Services)
	}
	t.Logf("✅ shortened name %q", report.Name)
}

func TestBuildTooManyServices(t *testing.T) {
	ids := []ble.UUID{
		ble.MustParseUUID("923bfb18-a711-4923-82a8-988ad38af7c1"),
		ble.MustParseUUID("3f33f755-c5a9-4f25-b0ca-8bffef13b905"),
	}
	if _, _, err := Build("", ids, true); err == nil {
		t.Error("two 128-bit services cannot fit")
	}
}
