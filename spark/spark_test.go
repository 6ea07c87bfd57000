package spark

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
)

func TestCannedMessageTable(t *testing.T) {
	tests := []struct {
		step     int
		segments int
		lengths  []int
	}{
		{StepFirmware, 1, []int{29}},
		{StepInterim, 1, []int{30}},
		{StepPresetNumber, 1, []int{26}},
		{StepPreset, 7, []int{106, 106, 106, 106, 106, 106, 44}},
		{StepSerial, 1, []int{41}},
		{0, 0, nil},
		{6, 0, nil},
	}

	for _, tt := range tests {
		t.Run(StepName(tt.step), func(t *testing.T) {
			msgs := CannedMessage(tt.step)
			if len(msgs) != tt.segments {
				t.Fatalf("step %d: expected %d segments, got %d", tt.step, tt.segments, len(msgs))
			}
			for i, m := range msgs {
				if len(m) != tt.lengths[i] {
					t.Errorf("segment %d: expected %d bytes, got %d", i, tt.lengths[i], len(m))
				}
				// every canned block carries its own length in byte 6
				if int(m[6]) != len(m) {
					t.Errorf("segment %d: length byte %d != %d", i, m[6], len(m))
				}
				if !bytes.HasPrefix(m, []byte{0x01, 0xFE, 0x00, 0x00, 0x41, 0xFF}) {
					t.Errorf("segment %d: not an amp->app block", i)
				}
			}
		})
	}
}

func TestCannedMessageReturnsCopies(t *testing.T) {
	first := CannedMessage(StepFirmware)
	first[0][0] = 0xAA
	again := CannedMessage(StepFirmware)
	if again[0][0] != 0x01 {
		t.Fatal("canned table was mutated through a returned slice")
	}
}

func TestParseBlock(t *testing.T) {
	block, err := ParseBlock(CannedMessage(StepFirmware)[0])
	if err != nil {
		t.Fatalf("ParseBlock failed: %v", err)
	}
	if block.Direction != DirFromAmp {
		t.Errorf("expected amp->app, got %s", block.Direction)
	}
	if len(block.Chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(block.Chunks))
	}
	c := block.Chunks[0]
	if c.Command != CmdResponse || c.SubCommand != SubFirmwareVer {
		t.Errorf("unexpected chunk %s", c)
	}

	// preset segments start mid-chunk
	seg, err := ParseBlock(CannedMessage(StepPreset)[1])
	if err != nil {
		t.Fatalf("ParseBlock(segment 2) failed: %v", err)
	}
	if len(seg.Chunks) == 0 {
		t.Error("expected chunks in preset segment")
	}
}

func TestParseBlockErrors(t *testing.T) {
	good := BuildRequest(1, SubFirmwareVer)
	badLen := append([]byte(nil), good...)
	badLen[6]++
	badMagic := append([]byte(nil), good...)
	badMagic[1] = 0x00

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", good[:10], ErrShortBlock},
		{"magic", badMagic, ErrBadMagic},
		{"length", badLen, ErrLengthField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBlock(tt.data)
			if errors.Cause(err) != tt.want {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecoderClassifiesBootstrapRequests(t *testing.T) {
	d := NewDecoder()
	for i, req := range BootstrapRequests() {
		if got := d.ProcessInboundMessage(req); got != ResultSessionInitiating {
			t.Errorf("request %d: expected session-initiating, got %s", i, got)
		}
	}

	// a preset change is an ordinary write
	set := BuildBlock(DirToAmp, 9, CmdSet, 0x38, []byte{0x00, 0x02})
	if got := d.ProcessInboundMessage(set); got != ResultNormal {
		t.Errorf("set command: expected normal, got %s", got)
	}
	if got := d.ProcessInboundMessage([]byte{0xde, 0xad}); got != ResultNormal {
		t.Errorf("garbage: expected normal, got %s", got)
	}

	stats := d.Stats()
	if stats.Inbound != 7 || stats.Initiating != 5 || stats.Malformed != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.LastRequest != "serial" {
		t.Errorf("LastRequest = %q", stats.LastRequest)
	}
	t.Logf("✅ decoder stats: %+v", stats)
}

func TestPlaceholder(t *testing.T) {
	p := Placeholder(PlaceholderWrite)
	if len(p) != 173 || p[0] != 0x77 || p[172] != 0x77 {
		t.Errorf("unexpected placeholder %X", p[:4])
	}
}
