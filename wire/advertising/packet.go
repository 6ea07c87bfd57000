package advertising

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/user/spark-bridge/ble"
)

// AD Types (Advertising Data Types) - EIR/AD format
const (
	ADTypeFlags                        = 0x01 // Flags
	ADTypeIncomplete16BitServiceUUIDs  = 0x02 // Incomplete List of 16-bit Service UUIDs
	ADTypeComplete16BitServiceUUIDs    = 0x03 // Complete List of 16-bit Service UUIDs
	ADTypeIncomplete128BitServiceUUIDs = 0x06 // Incomplete List of 128-bit Service UUIDs
	ADTypeComplete128BitServiceUUIDs   = 0x07 // Complete List of 128-bit Service UUIDs
	ADTypeShortenedLocalName           = 0x08 // Shortened Local Name
	ADTypeCompleteLocalName            = 0x09 // Complete Local Name
	ADTypeTxPowerLevel                 = 0x0A // Tx Power Level
)

// Advertising Flags (used in ADTypeFlags)
const (
	FlagLELimitedDiscoverableMode = 0x01 // LE Limited Discoverable Mode
	FlagLEGeneralDiscoverableMode = 0x02 // LE General Discoverable Mode
	FlagBREDRNotSupported         = 0x04 // BR/EDR Not Supported
)

// MaxAdvertisingDataLen is the legacy advertising (and scan response) limit
const MaxAdvertisingDataLen = 31

// ErrPayloadTooLong is returned when AD structures do not fit one PDU
var ErrPayloadTooLong = errors.New("advertising: payload exceeds 31 bytes")

// ADStructure represents a single AD structure: [Length] [Type] [Data]
type ADStructure struct {
	Type byte
	Data []byte
}

func (s ADStructure) size() int { return 2 + len(s.Data) }

// EncodeADStructures encodes multiple AD structures into a single advertising data payload
func EncodeADStructures(structures []ADStructure) ([]byte, error) {
	var buf []byte
	for _, s := range structures {
		length := 1 + len(s.Data)
		if length > 255 {
			return nil, errors.Errorf("advertising: AD structure too long: %d bytes", length)
		}
		buf = append(buf, byte(length), s.Type)
		buf = append(buf, s.Data...)
	}
	if len(buf) > MaxAdvertisingDataLen {
		return nil, errors.Wrapf(ErrPayloadTooLong, "%d bytes", len(buf))
	}
	return buf, nil
}

// DecodeADStructures parses advertising data into individual AD structures.
// A zero length byte ends the payload (padding).
func DecodeADStructures(data []byte) ([]ADStructure, error) {
	var structures []ADStructure
	offset := 0
	for offset < len(data) {
		length := int(data[offset])
		if length == 0 {
			break
		}
		offset++
		if offset+length > len(data) {
			return nil, errors.Errorf("advertising: AD structure length exceeds data: length=%d, remaining=%d", length, len(data)-offset)
		}
		adData := make([]byte, length-1)
		copy(adData, data[offset+1:offset+length])
		structures = append(structures, ADStructure{Type: data[offset], Data: adData})
		offset += length
	}
	return structures, nil
}

// NewFlagsAD creates a flags AD structure
func NewFlagsAD(flags byte) ADStructure {
	return ADStructure{Type: ADTypeFlags, Data: []byte{flags}}
}

// NewLocalNameAD creates a complete local name, or a shortened one when
// limit cuts it
func NewLocalNameAD(name string, limit int) ADStructure {
	if limit >= 0 && len(name) > limit {
		return ADStructure{Type: ADTypeShortenedLocalName, Data: []byte(name[:limit])}
	}
	return ADStructure{Type: ADTypeCompleteLocalName, Data: []byte(name)}
}

// NewServiceUUIDsAD lists services in their shortest on-air form. Mixed
// lists produce one structure per width.
func NewServiceUUIDsAD(ids []ble.UUID) []ADStructure {
	var short, long []byte
	for _, id := range ids {
		if s, ok := ble.Short(id); ok {
			short = binary.LittleEndian.AppendUint16(short, s)
			continue
		}
		// 128-bit UUIDs travel little-endian
		for i := len(id) - 1; i >= 0; i-- {
			long = append(long, id[i])
		}
	}
	var out []ADStructure
	if len(short) > 0 {
		out = append(out, ADStructure{Type: ADTypeComplete16BitServiceUUIDs, Data: short})
	}
	if len(long) > 0 {
		out = append(out, ADStructure{Type: ADTypeComplete128BitServiceUUIDs, Data: long})
	}
	return out
}

// GetLocalName extracts the local name from AD structures (complete or shortened)
func GetLocalName(structures []ADStructure) string {
	for _, s := range structures {
		if s.Type == ADTypeCompleteLocalName || s.Type == ADTypeShortenedLocalName {
			return string(s.Data)
		}
	}
	return ""
}

// GetFlags extracts the flags from AD structures
func GetFlags(structures []ADStructure) (byte, bool) {
	for _, s := range structures {
		if s.Type == ADTypeFlags && len(s.Data) > 0 {
			return s.Data[0], true
		}
	}
	return 0, false
}

// GetServiceUUIDs extracts every 16-bit and 128-bit service UUID
func GetServiceUUIDs(structures []ADStructure) []ble.UUID {
	var ids []ble.UUID
	for _, s := range structures {
		switch s.Type {
		case ADTypeComplete16BitServiceUUIDs, ADTypeIncomplete16BitServiceUUIDs:
			for i := 0; i+2 <= len(s.Data); i += 2 {
				ids = append(ids, ble.UUID16(binary.LittleEndian.Uint16(s.Data[i:])))
			}
		case ADTypeComplete128BitServiceUUIDs, ADTypeIncomplete128BitServiceUUIDs:
			for i := 0; i+16 <= len(s.Data); i += 16 {
				var id ble.UUID
				for j := 0; j < 16; j++ {
					id[j] = s.Data[i+15-j]
				}
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Build lays out the advertising and scan response payloads. Flags and
// services go in the advertisement; the name goes in the scan response when
// enabled, otherwise into whatever room is left (shortened if needed).
func Build(name string, services []ble.UUID, scanResponse bool) (adv, rsp []byte, err error) {
	structures := []ADStructure{NewFlagsAD(FlagLEGeneralDiscoverableMode | FlagBREDRNotSupported)}
	structures = append(structures, NewServiceUUIDsAD(services)...)

	used := 0
	for _, s := range structures {
		used += s.size()
	}

	if name != "" {
		if scanResponse {
			rsp, err = EncodeADStructures([]ADStructure{NewLocalNameAD(name, MaxAdvertisingDataLen-2)})
			if err != nil {
				return nil, nil, err
			}
		} else if room := MaxAdvertisingDataLen - used - 2; room > 0 {
			structures = append(structures, NewLocalNameAD(name, room))
		}
	}

	adv, err = EncodeADStructures(structures)
	if err != nil {
		return nil, nil, err
	}
	return adv, rsp, nil
}

// Report is what an active scanner learns from both payloads
type Report struct {
	Flags    byte
	Name     string
	Services []ble.UUID
}

// Parse decodes an advertisement and its optional scan response
func Parse(adv, rsp []byte) (Report, error) {
	structures, err := DecodeADStructures(adv)
	if err != nil {
		return Report{}, err
	}
	if len(rsp) > 0 {
		more, err := DecodeADStructures(rsp)
		if err != nil {
			return Report{}, errors.Wrap(err, "advertising: scan response")
		}
		structures = append(structures, more...)
	}
	flags, _ := GetFlags(structures)
	return Report{
		Flags:    flags,
		Name:     GetLocalName(structures),
		Services: GetServiceUUIDs(structures),
	}, nil
}
