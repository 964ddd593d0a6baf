// Package logblock implements the CRTP logging subsystem: the typed
// variable table of contents, the lifecycle of log block specifications
// (create/start/stop/delete/reset) and decoding of the periodic
// log-data samples a running block produces.
package logblock

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"crtplink/internal/device"
	"crtplink/internal/toc"
	"crtplink/pkg/crtp"
)

// Channels of the logging service.
const (
	channelTOC     uint8 = 0
	channelControl uint8 = 1
	channelData    uint8 = 2
)

// TOC commands, valid on channelTOC.
const (
	tocGetItemV2 uint8 = 2
	tocGetInfoV2 uint8 = 3
)

// Control commands, valid on channelControl.
const (
	controlCreateBlock   uint8 = 0
	controlAppendBlock   uint8 = 1
	controlDeleteBlock   uint8 = 2
	controlStartLogging  uint8 = 3
	controlStopLogging   uint8 = 4
	controlReset         uint8 = 5
	controlCreateBlockV2 uint8 = 6
	controlAppendBlockV2 uint8 = 7
)

// Log drives the logging subsystem of a single connection: fetching the
// variable TOC, and creating, starting, stopping and deleting log blocks.
// Every control command is guarded by one mutex, exactly like a single
// Crazyflie's firmware only processes one outstanding logging control
// request at a time.
type Log struct {
	dev   *device.Device
	cache toc.Cache

	operationMu sync.Mutex
	nextBlockID uint32

	variables   []VariableSpec
	variableMap map[string]VariableSpec
}

// New returns a Log service driving commands through dev. cache may be
// toc.NullCache{} to disable TOC caching across reconnects.
func New(dev *device.Device, cache toc.Cache) *Log {
	if cache == nil {
		cache = toc.NullCache{}
	}
	return &Log{dev: dev, cache: cache}
}

func commandOpts() device.CommandOptions {
	return device.CommandOptions{}
}

// Validate downloads the variable TOC (from cache if available) and
// resets the logging subsystem, unless it has already been validated.
func (l *Log) Validate(ctx context.Context) error {
	if l.variables != nil {
		return nil
	}

	variables, err := toc.FetchGracefully(ctx, l.cache, l.tocInfo, l.tocItem)
	if err != nil {
		return fmt.Errorf("logblock: failed to fetch log TOC: %w", err)
	}

	specs := make([]VariableSpec, len(variables))
	byName := make(map[string]VariableSpec, len(variables))
	for i, raw := range variables {
		spec, err := DecodeVariableSpec(uint16(i), raw)
		if err != nil {
			return err
		}
		specs[i] = spec
		byName[spec.FullName()] = spec
	}

	if err := l.Reset(ctx); err != nil {
		return err
	}

	l.variables = specs
	l.variableMap = byName
	return nil
}

// Variable looks up a variable by its "group.name" identifier.
func (l *Log) Variable(name string) (VariableSpec, bool) {
	spec, ok := l.variableMap[name]
	return spec, ok
}

func (l *Log) tocInfo(ctx context.Context) (int, uint32, error) {
	resp, err := l.dev.RunCommand(ctx, crtp.PortLog, channelTOC, []byte{tocGetInfoV2}, nil, commandOpts())
	if err != nil {
		return 0, 0, fmt.Errorf("logblock: failed to query TOC info: %w", err)
	}
	if len(resp) < 8 {
		return 0, 0, fmt.Errorf("logblock: %w: short TOC info response", crtp.ErrInvalidResponse)
	}
	count := binary.LittleEndian.Uint16(resp[0:2])
	checksum := binary.LittleEndian.Uint32(resp[2:6])
	return int(count), checksum, nil
}

func (l *Log) tocItem(ctx context.Context, index int) ([]byte, error) {
	id := uint16(index)
	resp, err := l.dev.RunCommand(ctx, crtp.PortLog, channelTOC, []byte{tocGetItemV2, byte(id), byte(id >> 8)}, nil, commandOpts())
	if err != nil {
		return nil, fmt.Errorf("logblock: failed to fetch variable %d: %w", index, err)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("logblock: %w: variable index %d", crtp.ErrNotFound, index)
	}
	return resp, nil
}

// Reset clears every log block on the peer and resets the block ID
// generator, so the next block created gets ID 0 again.
func (l *Log) Reset(ctx context.Context) error {
	l.operationMu.Lock()
	_, err := l.dev.RunCommand(ctx, crtp.PortLog, channelControl, []byte{controlReset}, nil, commandOpts())
	l.operationMu.Unlock()
	if err != nil {
		return fmt.Errorf("logblock: failed to reset logging subsystem: %w", err)
	}
	atomic.StoreUint32(&l.nextBlockID, 0)
	return nil
}

// Create submits block to the peer, assigning it the next available ID.
// The block must already have its variables added via AddVariable.
func (l *Log) Create(ctx context.Context, block *Block) error {
	if err := l.Validate(ctx); err != nil {
		return err
	}
	if err := block.Validate(); err != nil {
		return err
	}

	id := uint8(atomic.AddUint32(&l.nextBlockID, 1) - 1)

	l.operationMu.Lock()
	resp, err := l.dev.RunCommand(ctx, crtp.PortLog, channelControl, []byte{controlCreateBlockV2, id}, block.ToBytes(), commandOpts())
	l.operationMu.Unlock()
	if err != nil {
		return fmt.Errorf("logblock: failed to create log block: %w", err)
	}
	if len(resp) < 1 || resp[0] != 0 {
		return fmt.Errorf("logblock: %w: create block returned status %v", crtp.ErrCommand, resp)
	}

	block.id = &id
	return nil
}

// Start begins streaming samples for block at the given period, specified
// in units of 10ms (so a value of 10 samples every 100ms).
func (l *Log) Start(ctx context.Context, block *Block, periodTicks uint8) error {
	id, ok := block.ID()
	if !ok {
		return fmt.Errorf("logblock: block has not been created yet")
	}

	l.operationMu.Lock()
	resp, err := l.dev.RunCommand(ctx, crtp.PortLog, channelControl, []byte{controlStartLogging, id}, []byte{periodTicks}, commandOpts())
	l.operationMu.Unlock()
	if err != nil {
		return fmt.Errorf("logblock: failed to start log block %d: %w", id, err)
	}
	if len(resp) < 1 || resp[0] != 0 {
		return fmt.Errorf("logblock: %w: start block %d returned status %v", crtp.ErrCommand, id, resp)
	}
	return nil
}

// Stop stops streaming samples for block without deleting it from the
// peer; Start can resume it later.
func (l *Log) Stop(ctx context.Context, block *Block) error {
	id, ok := block.ID()
	if !ok {
		return fmt.Errorf("logblock: block has not been created yet")
	}

	l.operationMu.Lock()
	resp, err := l.dev.RunCommand(ctx, crtp.PortLog, channelControl, []byte{controlStopLogging, id}, nil, commandOpts())
	l.operationMu.Unlock()
	if err != nil {
		return fmt.Errorf("logblock: failed to stop log block %d: %w", id, err)
	}
	if len(resp) < 1 || resp[0] != 0 {
		return fmt.Errorf("logblock: %w: stop block %d returned status %v", crtp.ErrCommand, id, resp)
	}
	return nil
}

// Delete removes block from the peer entirely; it must be created again
// via Create before it can be started.
func (l *Log) Delete(ctx context.Context, block *Block) error {
	id, ok := block.ID()
	if !ok {
		return nil
	}

	l.operationMu.Lock()
	resp, err := l.dev.RunCommand(ctx, crtp.PortLog, channelControl, []byte{controlDeleteBlock, id}, nil, commandOpts())
	l.operationMu.Unlock()
	if err != nil {
		return fmt.Errorf("logblock: failed to delete log block %d: %w", id, err)
	}
	if len(resp) < 1 || resp[0] != 0 {
		return fmt.Errorf("logblock: %w: delete block %d returned status %v", crtp.ErrCommand, id, resp)
	}

	block.id = nil
	return nil
}

// Stream subscribes to decoded samples from block as they arrive, via a
// buffered channel. The returned function unsubscribes and must be called
// once the caller is done, typically alongside Stop.
func (l *Log) Stream(block *Block, capacity int) (<-chan Sample, func()) {
	if capacity <= 0 {
		capacity = 16
	}
	ch := make(chan Sample, capacity)

	port := crtp.PortLog
	unregister := l.dev.Dispatcher().Register(&port, true, func(pkt crtp.Packet) {
		id, ok := block.ID()
		if !ok || pkt.Channel != channelData&0x3 || len(pkt.Data) < 1 || pkt.Data[0] != id {
			return
		}
		sample, err := block.decodeSample(pkt.Data)
		if err != nil {
			return
		}
		select {
		case ch <- sample:
		default:
		}
	})

	return ch, func() {
		unregister()
		close(ch)
	}
}
