package att

import (
	"fmt"
)

// DefaultFrameSize is the largest payload the amplifier link carries in one write.
// Spark messages are produced in 0xAD-byte blocks, so the bridge splits the same way.
const DefaultFrameSize = 173

// Frame is one link-transmissible chunk of a logical message.
// Message is the index of the message in the batch it was split from and
// Index is the position of the frame inside that message.
type Frame struct {
	Message int
	Index   int
	Data    []byte
}

// Last reports whether this is the final frame of its message.
func (f Frame) Last(total int) bool {
	return f.Index == total-1
}

// ShouldFragment returns true if the value does not fit into a single frame
func ShouldFragment(size int, value []byte) bool {
	if size <= 0 {
		size = DefaultFrameSize
	}
	return len(value) > size
}

// Split cuts msg into frames of at most size bytes. Every frame except the last
// is exactly size bytes long; an empty msg yields no frames. The frames copy
// their bytes so callers may reuse msg afterwards.
func Split(msg []byte, size int) [][]byte {
	if len(msg) == 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultFrameSize
	}

	count := (len(msg) + size - 1) / size
	frames := make([][]byte, 0, count)
	for offset := 0; offset < len(msg); offset += size {
		end := offset + size
		if end > len(msg) {
			end = len(msg)
		}
		chunk := make([]byte, end-offset)
		copy(chunk, msg[offset:end])
		frames = append(frames, chunk)
	}
	return frames
}

// SplitChecked is Split with an explicit error for a non-positive frame size.
func SplitChecked(msg []byte, size int) ([][]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("att: frame size must be positive (size=%d)", size)
	}
	return Split(msg, size), nil
}

// SplitAll splits each message on its own and concatenates the results in
// message order, so a message boundary is always a frame boundary.
func SplitAll(msgs [][]byte, size int) []Frame {
	var frames []Frame
	for i, msg := range msgs {
		for j, chunk := range Split(msg, size) {
			frames = append(frames, Frame{
				Message: i,
				Index:   j,
				Data:    chunk,
			})
		}
	}
	return frames
}

// Join reassembles the frames of one message. It is the inverse of Split and
// exists for diagnostics and tests; the bridge never reassembles inbound data.
func Join(frames [][]byte) []byte {
	total := 0
	for _, f := range frames {
		total += len(f)
	}

	result := make([]byte, 0, total)
	for _, f := range frames {
		result = append(result, f...)
	}
	return result
}

// CountFrames returns how many frames a message of n bytes needs.
func CountFrames(n, size int) int {
	if n <= 0 {
		return 0
	}
	if size <= 0 {
		size = DefaultFrameSize
	}
	return (n + size - 1) / size
}
