package logblock

import (
	"encoding/binary"
	"fmt"
)

// MaxDataPacketSize is the largest payload a single log data packet can
// carry; a block specification whose values would not fit is rejected at
// submission time rather than silently truncated by the peer.
const MaxDataPacketSize = 28

// Block is a log block specification: an ordered list of variables to
// sample together at a shared period. Blocks are built with AddVariable
// and become active once submitted through Log.Create.
type Block struct {
	items []Item
	id    *uint8
}

// NewBlock returns an empty, unsubmitted log block.
func NewBlock() *Block {
	return &Block{}
}

// AddVariable appends spec, fetched over the wire as fetchAs (or as its
// own stored type if fetchAs is zero), to the block.
func (b *Block) AddVariable(spec VariableSpec, fetchAs VariableType) {
	if fetchAs == 0 {
		fetchAs = spec.Type
	}
	b.items = append(b.items, Item{Name: spec.FullName(), ID: spec.ID, FetchAs: fetchAs, StoredAs: spec.Type})
}

// Items returns the variables currently in the block, in sampling order.
func (b *Block) Items() []Item {
	return append([]Item(nil), b.items...)
}

// ID returns the block's numeric ID once submitted, or false before that.
func (b *Block) ID() (uint8, bool) {
	if b.id == nil {
		return 0, false
	}
	return *b.id, true
}

// PacketSize returns the total number of bytes a single sample of this
// block would occupy on the wire.
func (b *Block) PacketSize() int {
	size := 0
	for _, item := range b.items {
		size += item.FetchAs.Length()
	}
	return size
}

// Validate reports an error if the block's sampled values would not fit
// into a single log data packet.
func (b *Block) Validate() error {
	if size := b.PacketSize(); size > MaxDataPacketSize {
		return fmt.Errorf("logblock: block too large (%d bytes, max %d)", size, MaxDataPacketSize)
	}
	return nil
}

// ToBytes returns the block's representation for a CREATE_BLOCK_V2 or
// APPEND_BLOCK_V2 request body.
func (b *Block) ToBytes() []byte {
	out := make([]byte, 0, 3*len(b.items))
	for _, item := range b.items {
		out = append(out, item.ToBytes()...)
	}
	return out
}

// Sample is one decoded log message: the monotonic firmware timestamp (in
// milliseconds) the sample was taken at, and the decoded values in the
// same order the block's variables were added.
type Sample struct {
	Timestamp uint32
	Values    []float64
}

// decodeSample parses a DATA-channel packet body (block ID byte, 3-byte
// little-endian timestamp, then one encoded value per item) into a
// Sample.
func (b *Block) decodeSample(data []byte) (Sample, error) {
	if len(data) < 4 {
		return Sample{}, fmt.Errorf("logblock: log sample too short")
	}

	var tsBuf [4]byte
	copy(tsBuf[:3], data[1:4])
	timestamp := binary.LittleEndian.Uint32(tsBuf[:])

	values := make([]float64, 0, len(b.items))
	offset := 4
	for _, item := range b.items {
		length := item.FetchAs.Length()
		if offset+length > len(data) {
			return Sample{}, fmt.Errorf("logblock: truncated log sample for %s", item.Name)
		}
		value, err := item.FetchAs.DecodeValue(data[offset : offset+length])
		if err != nil {
			return Sample{}, err
		}
		values = append(values, value)
		offset += length
	}

	return Sample{Timestamp: timestamp, Values: values}, nil
}
