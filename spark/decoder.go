package spark

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/user/spark-bridge/logger"
)

// Block framing
const (
	BlockHeaderSize = 16
	ChunkStart      = 0xF0
	ChunkEnd        = 0xF7
)

// Direction of a block, taken from header bytes 4 and 5
type Direction int

const (
	DirUnknown Direction = iota
	DirToAmp
	DirFromAmp
)

func (d Direction) String() string {
	switch d {
	case DirToAmp:
		return "app->amp"
	case DirFromAmp:
		return "amp->app"
	default:
		return "unknown"
	}
}

// Commands seen in chunk headers
const (
	CmdGet      = 0x02
	CmdSet      = 0x01
	CmdResponse = 0x03
	CmdAck      = 0x04
)

// Sub-commands of CmdGet the app sends while bootstrapping a session
const (
	SubPreset       = 0x01
	SubPresetNumber = 0x10
	SubSerialNumber = 0x23
	SubChecksum     = 0x2A
	SubFirmwareVer  = 0x2F
)

var sessionRequests = map[byte]string{
	SubFirmwareVer:  "firmware",
	SubChecksum:     "checksum",
	SubPresetNumber: "preset-number",
	SubPreset:       "preset",
	SubSerialNumber: "serial",
}

// ProcessResult is what the decoder reports for an inbound app message
type ProcessResult int

const (
	ResultNormal ProcessResult = iota
	ResultSessionInitiating
)

func (r ProcessResult) String() string {
	if r == ResultSessionInitiating {
		return "session-initiating"
	}
	return "normal"
}

// Chunk is one F0..F7 unit inside a block
type Chunk struct {
	Sequence   byte
	Checksum   byte
	Command    byte
	SubCommand byte
	Payload    []byte
}

func (c Chunk) String() string {
	return fmt.Sprintf("seq=%02X cmd=%02X sub=%02X len=%d", c.Sequence, c.Command, c.SubCommand, len(c.Payload))
}

// Block is a parsed transport block
type Block struct {
	Direction Direction
	Length    int
	Chunks    []Chunk
}

var (
	ErrShortBlock   = errors.New("spark: block shorter than header")
	ErrBadMagic     = errors.New("spark: bad block magic")
	ErrLengthField  = errors.New("spark: length field does not match block size")
	ErrTruncatedChk = errors.New("spark: truncated chunk")
)

// ParseBlock validates the 16-byte header and walks the chunks. Bytes that
// precede the first chunk start belong to a chunk split across blocks and are
// skipped.
func ParseBlock(data []byte) (Block, error) {
	var b Block
	if len(data) < BlockHeaderSize {
		return b, ErrShortBlock
	}
	if data[0] != 0x01 || data[1] != 0xFE || data[2] != 0x00 || data[3] != 0x00 {
		return b, ErrBadMagic
	}
	switch {
	case data[4] == 0x53 && data[5] == 0xFE:
		b.Direction = DirToAmp
	case data[4] == 0x41 && data[5] == 0xFF:
		b.Direction = DirFromAmp
	}
	b.Length = int(data[6])
	if b.Length != len(data) {
		return b, errors.Wrapf(ErrLengthField, "header says %d, got %d", b.Length, len(data))
	}

	body := data[BlockHeaderSize:]
	i := 0
	for i < len(body) && body[i] != ChunkStart {
		i++
	}
	for i < len(body) {
		if body[i] != ChunkStart {
			i++
			continue
		}
		// F0 01 seq chk cmd sub
		if i+6 > len(body) {
			return b, errors.Wrapf(ErrTruncatedChk, "at offset %d", BlockHeaderSize+i)
		}
		c := Chunk{
			Sequence:   body[i+2],
			Checksum:   body[i+3],
			Command:    body[i+4],
			SubCommand: body[i+5],
		}
		j := i + 6
		for j < len(body) && body[j] != ChunkEnd {
			j++
		}
		c.Payload = append([]byte(nil), body[i+6:j]...)
		b.Chunks = append(b.Chunks, c)
		i = j + 1
	}
	return b, nil
}

// Stats counts decoder activity
type Stats struct {
	Inbound     int
	Initiating  int
	AmpBlocks   int
	Malformed   int
	LastRequest string
}

// Decoder interprets app writes and amplifier notifications. It never
// reassembles: every call is treated as one complete unit.
type Decoder struct {
	mu    sync.Mutex
	stats Stats
}

// NewDecoder creates a decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// ProcessInboundMessage classifies an app write. A block holding an app "get"
// for one of the bootstrap requests is session-initiating.
func (d *Decoder) ProcessInboundMessage(data []byte) ProcessResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Inbound++

	block, err := ParseBlock(data)
	if err != nil {
		d.stats.Malformed++
		logger.Debug("Decoder", "inbound %d bytes not a block: %v", len(data), err)
		return ResultNormal
	}
	for _, c := range block.Chunks {
		logger.Trace("Decoder", "⬇️  %s %s", block.Direction, c)
		if c.Command != CmdGet {
			continue
		}
		if name, ok := sessionRequests[c.SubCommand]; ok {
			d.stats.Initiating++
			d.stats.LastRequest = name
			logger.Debug("Decoder", "🤝 app requested %s", name)
			return ResultSessionInitiating
		}
	}
	return ResultNormal
}

// ProcessAmpNotification decodes and logs a notification from the amplifier
func (d *Decoder) ProcessAmpNotification(data []byte) {
	d.mu.Lock()
	d.stats.AmpBlocks++
	d.mu.Unlock()

	block, err := ParseBlock(data)
	if err != nil {
		// continuation blocks carry no header
		logger.Trace("Decoder", "amp fragment %d bytes: %s", len(data), logger.Hex(data))
		return
	}
	for _, c := range block.Chunks {
		logger.Debug("Decoder", "⬆️  %s %s", block.Direction, c)
	}
}

// Stats returns a copy of the counters
func (d *Decoder) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// BuildBlock frames a single chunk into a block travelling in dir
func BuildBlock(dir Direction, seq, cmd, sub byte, payload []byte) []byte {
	var chk byte
	for _, b := range payload {
		chk ^= b
	}
	out := make([]byte, BlockHeaderSize, BlockHeaderSize+7+len(payload))
	out[0], out[1] = 0x01, 0xFE
	if dir == DirFromAmp {
		out[4], out[5] = 0x41, 0xFF
	} else {
		out[4], out[5] = 0x53, 0xFE
	}
	out = append(out, ChunkStart, 0x01, seq, chk, cmd, sub)
	out = append(out, payload...)
	out = append(out, ChunkEnd)
	out[6] = byte(len(out))
	return out
}

// BuildRequest frames an app "get" for sub
func BuildRequest(seq, sub byte) []byte {
	return BuildBlock(DirToAmp, seq, CmdGet, sub, nil)
}

// BootstrapRequests returns the app's session requests in handshake order
func BootstrapRequests() [][]byte {
	subs := []byte{SubFirmwareVer, SubChecksum, SubPresetNumber, SubPreset, SubSerialNumber}
	out := make([][]byte, 0, len(subs))
	for i, sub := range subs {
		out = append(out, BuildRequest(byte(i+1), sub))
	}
	return out
}
