package logger

import (
	"bytes"
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

func captureOutput(t *testing.T, level LogLevel) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prevLevel := GetLevel()
	SetOutput(buf)
	SetLevel(level)
	t.Cleanup(func() {
		SetLevel(prevLevel)
	})
	return buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"trace", TRACE},
		{"DEBUG", DEBUG},
		{" info ", INFO},
		{"warning", WARN},
		{"Error", ERROR},
		{"bogus", INFO},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t, WARN)

	Info("Central", "should not appear")
	Warn("Central", "link dropped %d", 3)

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("INFO line written at WARN level: %q", out)
	}
	if !strings.Contains(out, "link dropped 3") {
		t.Errorf("WARN line missing: %q", out)
	}
	if !strings.Contains(out, "prefix=Central") {
		t.Errorf("prefix field missing: %q", out)
	}
}

func TestDebugJSONProto(t *testing.T) {
	buf := captureOutput(t, DEBUG)

	s, err := structpb.NewStruct(map[string]interface{}{"amp_connected": true})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	DebugJSON("Bridge", "state", s)

	if !strings.Contains(buf.String(), "amp_connected") {
		t.Errorf("expected protojson output, got %q", buf.String())
	}
}

func TestHex(t *testing.T) {
	if got := Hex([]byte{0x01, 0xFE, 0x0a}); got != "01FE0A" {
		t.Errorf("Hex() = %q", got)
	}
}
