package spark

// Canned replies the app expects while it bootstraps a session. Each app
// "get" request during the handshake is answered with the next step of the
// table; the preset step is a burst of seven notifications.

// HandshakeSteps is the number of steps in the handshake cycle
const HandshakeSteps = 5

// Step numbers of the handshake cycle
const (
	StepFirmware     = 1
	StepInterim      = 2
	StepPresetNumber = 3
	StepPreset       = 4
	StepSerial       = 5
)

// PresetSegments is the number of notifications emitted by StepPreset
const PresetSegments = 7

var msgFirmware = []byte{
	0x01, 0xFE, 0x00, 0x00, 0x41, 0xFF, 0x1D, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xF0, 0x01, 0x01, 0x29, 0x03, 0x2F, 0x01, 0x4E, 0x01, 0x05, 0x04, 0x66, 0xF7,
}

var msgInterim = []byte{
	0x01, 0xFE, 0x00, 0x00, 0x41, 0xFF, 0x1E, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xF0, 0x01, 0x02, 0x2D, 0x03, 0x2A, 0x0D, 0x14, 0x7D, 0x4C, 0x07, 0x5A, 0x58, 0xF7,
}

var msgPresetNumber = []byte{
	0x01, 0xFE, 0x00, 0x00, 0x41, 0xFF, 0x1A, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xF0, 0x01, 0x03, 0x00, 0x03, 0x10, 0x00, 0x00, 0x00, 0xF7,
}

var msgPreset = [PresetSegments][]byte{
	{
		0x01, 0xFE, 0x00, 0x00, 0x41, 0xFF, 0x6A, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0xF0, 0x01, 0x04, 0x6A, 0x03, 0x01, 0x20, 0x0F, 0x00, 0x19, 0x01, 0x00, 0x59,
		0x24, 0x00, 0x37, 0x34, 0x32, 0x35, 0x32, 0x31, 0x31, 0x00, 0x37,
		0x2D, 0x43, 0x32, 0x41, 0x41, 0x2D, 0x00, 0x34, 0x31, 0x33, 0x35,
		0x2D, 0x38, 0x46, 0xF7, 0xF0, 0x01, 0x04, 0x19, 0x03, 0x01, 0x00,
		0x0F, 0x01, 0x19, 0x39, 0x32, 0x2D, 0x37, 0x00, 0x43, 0x46, 0x44,
		0x41, 0x30, 0x31, 0x46, 0x10, 0x35, 0x31, 0x36, 0x37, 0x27, 0x31,
		0x2D, 0x20, 0x43, 0x6C, 0x65, 0x61, 0x6E, 0x23, 0x30, 0xF7, 0xF0,
		0x01, 0x04, 0x42, 0x03, 0x01, 0x20, 0x0F, 0x02, 0x19, 0x2E, 0x37,
	},
	{
		0x01, 0xFE, 0x00, 0x00, 0x41, 0xFF, 0x6A, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x27, 0x31, 0x40,
		0x2D, 0x43, 0x6C, 0x65, 0x61, 0x6E, 0x28, 0x00, 0x69, 0x63, 0x6F,
		0x6E, 0x2E, 0x70, 0x6E, 0x4A, 0x67, 0x4A, 0x42, 0x70, 0x00, 0x00,
		0x17, 0xF7, 0xF0, 0x01, 0x04, 0x09, 0x03, 0x01, 0x08, 0x0F, 0x03,
		0x19, 0x2E, 0x62, 0x69, 0x61, 0x00, 0x73, 0x2E, 0x6E, 0x6F, 0x69,
		0x73, 0x65, 0x30, 0x67, 0x61, 0x74, 0x65, 0x43, 0x13, 0x00, 0x3B,
		0x11, 0x4A, 0x3D, 0x75, 0x6E, 0x43, 0x01, 0xF7, 0xF0, 0x01, 0x04,
		0x12, 0x03, 0x01, 0x58, 0x0F, 0x04, 0x19, 0x11, 0x4A, 0x3E, 0x29,
		0x59, 0x2F, 0x12, 0x02, 0x11, 0x4A, 0x3F, 0x00, 0x04, 0x00,
	},
	{
		0x01, 0xFE, 0x00, 0x00, 0x41, 0xFF, 0x6A, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x2A, 0x43,
		0x6F, 0x6D, 0x70, 0x40, 0x72, 0x65, 0x73, 0x73, 0x6F, 0x72, 0x43,
		0xF7, 0xF0, 0x01, 0x04, 0x26, 0x03, 0x01, 0x68, 0x0F, 0x05, 0x19,
		0x12, 0x00, 0x11, 0x4A, 0x6E, 0x3E, 0x2A, 0x3B, 0x10, 0x01, 0x11,
		0x4A, 0x14, 0x3F, 0x7F, 0x47, 0x4B, 0x27, 0x42, 0x6F, 0x60, 0x6F,
		0x73, 0x74, 0x65, 0x72, 0x43, 0x11, 0xF7, 0xF0, 0x01, 0x04, 0x1D,
		0x03, 0x01, 0x30, 0x0F, 0x06, 0x19, 0x00, 0x11, 0x4A, 0x3F, 0x08,
		0x0F, 0x1F, 0x78, 0x24, 0x54, 0x77, 0x69, 0x36, 0x6E, 0x43, 0x15,
		0x00, 0x11, 0x4A, 0x3F, 0x34, 0x1D, 0x09, 0x79, 0x01, 0x11,
	},
	{
		0x01, 0xFE, 0x00, 0x00, 0x41, 0xFF, 0x6A, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x4A, 0x3E, 0xF7,
		0xF0, 0x01, 0x04, 0x46, 0x03, 0x01, 0x28, 0x0F, 0x07, 0x19,
		0x61, 0x74, 0x0A, 0x02, 0x1B, 0x11, 0x4A, 0x3E, 0x41, 0x70, 0x54,
		0x03, 0x2B, 0x11, 0x4A, 0x3E, 0x7B, 0x13, 0x49, 0x04, 0x53, 0x11,
		0x4A, 0x3F, 0x20, 0x79, 0x53, 0x2C, 0xF7, 0xF0, 0x01, 0x04, 0x37,
		0x03,
		0x01, 0x00, 0x0F, 0x08, 0x19, 0x43, 0x68, 0x6F, 0x72, 0x00, 0x75,
		0x73, 0x41, 0x6E, 0x61, 0x6C, 0x6F, 0x36, 0x67, 0x42, 0x14,
		0x00, 0x11, 0x4A, 0x3E, 0x35, 0x41, 0x15, 0x32, 0x01, 0x11, 0x4A,
		0x3F, 0xF7, 0xF0, 0x01, 0x04, 0x2C, 0x03, 0x01, 0x00, 0x0F, 0x09,
	},
	{
		0x01, 0xFE, 0x00, 0x00, 0x41, 0xFF, 0x6A, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x19, 0x11, 0x5B,
		0x1E, 0x02, 0x23, 0x11, 0x4A, 0x3E, 0x5D, 0x49, 0x44, 0x03, 0x4B,
		0x11, 0x4A, 0x3E, 0x00, 0x00, 0x00, 0x29, 0x00, 0x44, 0x65, 0x6C,
		0x61, 0x79, 0x4D, 0x6F, 0xF7, 0xF0, 0x01, 0x04, 0x76, 0x03, 0x01,
		0x60, 0x0F, 0x0A, 0x19, 0x6E, 0x6F, 0x43, 0x15, 0x66, 0x00, 0x11,
		0x4A, 0x3E, 0x1F, 0x31, 0x20, 0x66, 0x01, 0x11, 0x4A, 0x3E, 0x6E,
		0x24, 0x61, 0x16, 0x02, 0x11, 0x4A, 0x3E, 0x7B, 0x24, 0x57, 0xF7,
		0xF0, 0x01, 0x04, 0x59, 0x03, 0x01, 0x30, 0x0F, 0x0B, 0x19, 0x03,
		0x11, 0x4A, 0x3F, 0x34, 0x1B, 0x55, 0x6A, 0x04, 0x11, 0x4A,
	},
	{
		0x01, 0xFE, 0x00, 0x00, 0x41, 0xFF, 0x6A, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x3F, 0x09, 0x00,
		0x00, 0x00, 0x2B, 0x62, 0x69, 0x61, 0x00, 0x73, 0x2E, 0x72, 0x65,
		0x76, 0x65, 0x72, 0xF7, 0xF0, 0x01, 0x04, 0x08, 0x03, 0x01, 0x30,
		0x0F, 0x0C, 0x19, 0x62, 0x43, 0x18, 0x00, 0x0B, 0x11, 0x4A, 0x3E,
		0x2D, 0x30, 0x27, 0x01, 0x3B, 0x11, 0x4A, 0x3E, 0x28, 0x19, 0x3B,
		0x02, 0x3B, 0x11, 0x4A, 0x3E, 0x60, 0x17, 0x32, 0x03, 0xF7, 0xF0,
		0x01, 0x04, 0x24, 0x03, 0x01, 0x18, 0x0F, 0x0D, 0x19, 0x11, 0x4A,
		0x3F, 0x31, 0x5B, 0x16, 0x20, 0x04, 0x11, 0x4A, 0x3E, 0x79, 0x5B,
		0x79, 0x7A, 0x05, 0x11, 0x4A, 0x3E, 0x6E, 0x59, 0x4A, 0x38,
	},
	{
		0x01, 0xFE, 0x00, 0x00, 0x41, 0xFF, 0x2C, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x06, 0x11, 0x4A,
		0x3E, 0x19, 0xF7, 0xF0, 0x01, 0x04, 0x68, 0x03, 0x01, 0x58, 0x0F,
		0x0E, 0x0A, 0x19, 0x1A, 0x07, 0x11, 0x05, 0x4A, 0x3F, 0x00, 0x00,
		0x00, 0x5E, 0xF7,
	},
}

// The serial number is fake; the app only checks that one arrives.
var msgSerial = []byte{
	0x01, 0xFE, 0x00, 0x00, 0x41, 0xFF, 0x29, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xF0, 0x01, 0x05, 0x3F, 0x03, 0x23, 0x02, 0x0D, 0x2D, 0x53, 0x39, 0x39, 0x39, 0x43,
	0x00, 0x39, 0x39, 0x39, 0x42, 0x39, 0x39, 0x39, 0x01, 0x77, 0xF7,
}

// StepName returns a short label for a handshake step
func StepName(step int) string {
	switch step {
	case StepFirmware:
		return "firmware"
	case StepInterim:
		return "interim"
	case StepPresetNumber:
		return "preset-number"
	case StepPreset:
		return "preset"
	case StepSerial:
		return "serial"
	default:
		return "none"
	}
}

// CannedMessage returns the payloads emitted by a handshake step, in order.
// Steps outside 1..HandshakeSteps have no payloads. The returned slices are
// copies; the table itself is never handed out.
func CannedMessage(step int) [][]byte {
	switch step {
	case StepFirmware:
		return [][]byte{clone(msgFirmware)}
	case StepInterim:
		return [][]byte{clone(msgInterim)}
	case StepPresetNumber:
		return [][]byte{clone(msgPresetNumber)}
	case StepPreset:
		out := make([][]byte, 0, PresetSegments)
		for _, seg := range msgPreset {
			out = append(out, clone(seg))
		}
		return out
	case StepSerial:
		return [][]byte{clone(msgSerial)}
	default:
		return nil
	}
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
