package logblock

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// VariableType identifies the wire representation of a single log or
// parameter variable.
type VariableType uint8

const (
	TypeUint8  VariableType = 1
	TypeUint16 VariableType = 2
	TypeUint32 VariableType = 3
	TypeInt8   VariableType = 4
	TypeInt16  VariableType = 5
	TypeInt32  VariableType = 6
	TypeFloat  VariableType = 7
	TypeFP16   VariableType = 8
)

// Length returns the number of bytes a single value of this type occupies
// on the wire.
func (t VariableType) Length() int {
	switch t {
	case TypeUint8, TypeInt8:
		return 1
	case TypeUint16, TypeInt16, TypeFP16:
		return 2
	case TypeUint32, TypeInt32, TypeFloat:
		return 4
	default:
		return 0
	}
}

func (t VariableType) String() string {
	switch t {
	case TypeUint8:
		return "uint8"
	case TypeUint16:
		return "uint16"
	case TypeUint32:
		return "uint32"
	case TypeInt8:
		return "int8"
	case TypeInt16:
		return "int16"
	case TypeInt32:
		return "int32"
	case TypeFloat:
		return "float"
	case TypeFP16:
		return "fp16"
	default:
		return fmt.Sprintf("type-%d", uint8(t))
	}
}

// DecodeValue parses a single value of this type from data, returning it
// as a float64 so that every numeric type can flow through one channel.
// fp16 values are returned as their raw signed 16-bit magnitude, matching
// the firmware's Q-format convention of leaving fixed-point conversion to
// the caller.
func (t VariableType) DecodeValue(data []byte) (float64, error) {
	if len(data) < t.Length() {
		return 0, fmt.Errorf("logblock: short value for type %s", t)
	}
	switch t {
	case TypeUint8:
		return float64(data[0]), nil
	case TypeInt8:
		return float64(int8(data[0])), nil
	case TypeUint16:
		return float64(binary.LittleEndian.Uint16(data)), nil
	case TypeInt16, TypeFP16:
		return float64(int16(binary.LittleEndian.Uint16(data))), nil
	case TypeUint32:
		return float64(binary.LittleEndian.Uint32(data)), nil
	case TypeInt32:
		return float64(int32(binary.LittleEndian.Uint32(data))), nil
	case TypeFloat:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data))), nil
	default:
		return 0, fmt.Errorf("logblock: unknown variable type %d", uint8(t))
	}
}

// VariableSpec describes one entry of a log or parameter TOC: a typed,
// dotted "group.name" variable exposed by the peer.
type VariableSpec struct {
	ID    uint16
	Type  VariableType
	Group string
	Name  string
}

// FullName returns the dotted "group.name" identifier of the variable.
func (v VariableSpec) FullName() string {
	return v.Group + "." + v.Name
}

// DecodeVariableSpec parses the data section of a GET_ITEM_V2 response
// (the type nibble followed by a NUL-terminated group and name) into a
// VariableSpec for the given id.
func DecodeVariableSpec(id uint16, data []byte) (VariableSpec, error) {
	if len(data) < 1 {
		return VariableSpec{}, fmt.Errorf("logblock: empty variable description for id %d", id)
	}
	typ := VariableType(data[0] & 0x0F)

	parts := bytes.SplitN(data[1:], []byte{0x00}, 3)
	if len(parts) < 2 {
		return VariableSpec{}, fmt.Errorf("logblock: invalid variable description for id %d", id)
	}

	return VariableSpec{ID: id, Type: typ, Group: string(parts[0]), Name: string(parts[1])}, nil
}

// EncodeVariableSpec re-serializes spec the way DecodeVariableSpec expects
// it, used when round-tripping entries through the TOC cache.
func EncodeVariableSpec(spec VariableSpec) []byte {
	out := []byte{byte(spec.Type) & 0x0F}
	out = append(out, []byte(spec.Group)...)
	out = append(out, 0x00)
	out = append(out, []byte(spec.Name)...)
	out = append(out, 0x00)
	return out
}

// Item is one variable entry inside a log block specification: the
// variable to sample and the type it should be fetched as over the wire,
// which need not match the type it is stored as in firmware.
type Item struct {
	Name     string
	ID       uint16
	FetchAs  VariableType
	StoredAs VariableType
}

// ToBytes returns this item's representation inside a CREATE_BLOCK_V2 or
// APPEND_BLOCK_V2 request body.
func (i Item) ToBytes() []byte {
	header := ((uint8(i.FetchAs) << 4) & 0xF0) | (uint8(i.StoredAs) & 0x0F)
	return []byte{header, byte(i.ID), byte(i.ID >> 8)}
}
