package att

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestShouldFragment(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		value    []byte
		expected bool
	}{
		{
			name:     "small value no fragmentation",
			size:     173,
			value:    []byte{1, 2, 3},
			expected: false,
		},
		{
			name:     "exact frame size no fragmentation",
			size:     173,
			value:    make([]byte, 173),
			expected: false,
		},
		{
			name:     "one byte over needs fragmentation",
			size:     173,
			value:    make([]byte, 174),
			expected: true,
		},
		{
			name:     "default size when zero",
			size:     0,
			value:    make([]byte, 174),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ShouldFragment(tt.size, tt.value)
			if result != tt.expected {
				t.Errorf("ShouldFragment() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name           string
		length         int
		size           int
		expectedFrames int
	}{
		{"empty input", 0, 173, 0},
		{"single byte", 1, 173, 1},
		{"firmware message", 29, 173, 1},
		{"exact frame", 173, 173, 1},
		{"frame plus one", 174, 173, 2},
		{"three full frames", 519, 173, 3},
		{"tiny frame size", 10, 1, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := make([]byte, tt.length)
			for i := range msg {
				msg[i] = byte(i)
			}

			frames := Split(msg, tt.size)
			if len(frames) != tt.expectedFrames {
				t.Fatalf("Split() got %d frames, want %d", len(frames), tt.expectedFrames)
			}
			if CountFrames(tt.length, tt.size) != tt.expectedFrames {
				t.Errorf("CountFrames() = %d, want %d", CountFrames(tt.length, tt.size), tt.expectedFrames)
			}

			for i, f := range frames {
				if len(f) == 0 {
					t.Errorf("frame %d is empty", i)
				}
				if i < len(frames)-1 && len(f) != tt.size {
					t.Errorf("frame %d: len = %d, want %d", i, len(f), tt.size)
				}
				if len(f) > tt.size {
					t.Errorf("frame %d exceeds size: %d > %d", i, len(f), tt.size)
				}
			}

			if !bytes.Equal(Join(frames), msg) {
				t.Errorf("Join(Split()) did not reproduce the input")
			}
		})
	}
}

func TestSplitRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		size := 1 + rng.Intn(300)
		msg := make([]byte, rng.Intn(2000))
		rng.Read(msg)

		frames := Split(msg, size)
		if !bytes.Equal(Join(frames), msg) {
			t.Fatalf("round trip failed (len=%d size=%d)", len(msg), size)
		}
		for j := 0; j < len(frames)-1; j++ {
			if len(frames[j]) != size {
				t.Fatalf("non-final frame %d has len %d, want %d", j, len(frames[j]), size)
			}
		}
	}
}

func TestSplitCopiesInput(t *testing.T) {
	msg := []byte{1, 2, 3, 4}
	frames := Split(msg, 2)
	msg[0] = 0xFF

	if frames[0][0] != 1 {
		t.Errorf("frame aliases the input buffer")
	}
}

func TestSplitChecked(t *testing.T) {
	if _, err := SplitChecked([]byte{1}, 0); err == nil {
		t.Error("SplitChecked() expected error for zero size")
	}
	frames, err := SplitChecked([]byte{1, 2, 3}, 2)
	if err != nil {
		t.Fatalf("SplitChecked() unexpected error: %v", err)
	}
	if len(frames) != 2 {
		t.Errorf("SplitChecked() got %d frames, want 2", len(frames))
	}
}

func TestSplitAllKeepsMessageBoundaries(t *testing.T) {
	m1 := bytes.Repeat([]byte{0xA1}, 200)
	m2 := bytes.Repeat([]byte{0xB2}, 5)
	m3 := bytes.Repeat([]byte{0xC3}, 346)

	frames := SplitAll([][]byte{m1, m2, m3}, 173)

	// 200 -> 2 frames, 5 -> 1 frame (not merged with m1's tail), 346 -> 2 frames
	if len(frames) != 5 {
		t.Fatalf("SplitAll() got %d frames, want 5", len(frames))
	}

	lastMsg := -1
	for i, f := range frames {
		if f.Message < lastMsg {
			t.Fatalf("frame %d belongs to message %d after message %d", i, f.Message, lastMsg)
		}
		lastMsg = f.Message
		for _, b := range f.Data {
			want := []byte{0xA1, 0xB2, 0xC3}[f.Message]
			if b != want {
				t.Fatalf("frame %d mixes bytes of different messages", i)
			}
		}
	}

	if frames[1].Index != 1 || !frames[1].Last(2) {
		t.Errorf("second frame of first message has wrong index: %+v", frames[1].Index)
	}
	if frames[2].Message != 1 || len(frames[2].Data) != 5 {
		t.Errorf("second message should start a fresh frame, got %+v", frames[2])
	}
}

func TestSplitAllSkipsEmptyMessages(t *testing.T) {
	frames := SplitAll([][]byte{{}, {1}, nil}, 173)
	if len(frames) != 1 || frames[0].Message != 1 {
		t.Errorf("expected one frame for message 1, got %+v", frames)
	}
}
