package bootloader

import (
	"context"
	"fmt"
	"time"

	"crtplink/internal/device"
	"crtplink/pkg/crtp"
)

// defaultAttempts/defaultTimeout match run_bootloader_command's own
// override of the device layer's defaults: the bootloader firmware is
// slower to answer than a running application, so commands get more
// attempts at a longer interval than device.RunCommand's defaults.
const (
	defaultAttempts = 5
	defaultTimeout  = time.Second
)

// Bootloader drives a single device held in bootloader mode: discovering
// its flashable targets (STM32 application processor, and on CF2 boards
// the NRF51 radio co-processor) and rebooting it back into firmware or
// into bootloader mode.
type Bootloader struct {
	dev     *device.Device
	targets []*Target
}

// New returns a Bootloader driving commands through dev. Call GetTargets
// (or FindTarget) before issuing any flash operation.
func New(dev *device.Device) *Bootloader {
	return &Bootloader{dev: dev}
}

// GetTargets returns the bootloader's flashable targets, fetching them
// from the device on first call and caching the result afterwards.
func (b *Bootloader) GetTargets(ctx context.Context) ([]*Target, error) {
	if b.targets != nil {
		return b.targets, nil
	}

	stm32, err := b.getTargetInfo(ctx, TargetSTM32)
	if err != nil {
		return nil, err
	}
	targets := []*Target{stm32}

	if stm32.ProtocolVersion == ProtocolCF2 {
		nrf51, err := b.getTargetInfo(ctx, TargetNRF51)
		if err != nil {
			return nil, err
		}
		targets = append(targets, nrf51)
	}

	b.targets = targets
	return targets, nil
}

// FindTarget returns the first target of the given type, fetching the
// target list if necessary.
func (b *Bootloader) FindTarget(ctx context.Context, id TargetType) (*Target, error) {
	targets, err := b.GetTargets(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range targets {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("bootloader: %w: no target of type %s", crtp.ErrNotFound, id)
}

func (b *Bootloader) getTargetInfo(ctx context.Context, id TargetType) (*Target, error) {
	command := []byte{byte(id), cmdGetTargetInfo}
	resp, err := b.runBootloaderCommand(ctx, command, nil, device.CommandOptions{})
	if err != nil {
		return nil, fmt.Errorf("bootloader: failed to query target %s: %w", id, err)
	}
	return decodeTarget(b, id, resp)
}

// Reboot reinitializes the radio co-processor and either returns the
// device to bootloader mode (toFirmware false) or boots the firmware
// that was just flashed (toFirmware true).
func (b *Bootloader) Reboot(ctx context.Context, toFirmware bool) error {
	if _, err := b.runBootloaderCommand(ctx, []byte{byte(TargetNRF51), cmdResetInit}, nil, device.CommandOptions{}); err != nil {
		return fmt.Errorf("bootloader: reset-init failed: %w", err)
	}

	toFirmwareByte := byte(0)
	if toFirmware {
		toFirmwareByte = 1
	}
	if err := b.sendBootloaderPacket(ctx, []byte{byte(TargetNRF51), cmdReset, toFirmwareByte}); err != nil {
		return fmt.Errorf("bootloader: reset failed: %w", err)
	}

	// The outbound link worker sends asynchronously; give it a moment
	// to flush the reset packet before the caller tears down the link.
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// runBootloaderCommand is run_bootloader_command: device.RunCommand
// with the port and channel pinned to the values the bootloader listens
// on, and with bootloader-appropriate retry defaults applied whenever
// opts leaves them unset.
func (b *Bootloader) runBootloaderCommand(ctx context.Context, command, data []byte, opts device.CommandOptions) ([]byte, error) {
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return b.dev.RunCommand(ctx, crtp.PortLinkControl, uint8(crtp.LinkControlBootloader), command, data, opts)
}

// sendBootloaderPacket is send_bootloader_packet: a fire-and-forget
// send on the bootloader's port/channel, used for commands (like
// LOAD_BUFFER and the final RESET) that never elicit a matching
// response.
func (b *Bootloader) sendBootloaderPacket(ctx context.Context, data []byte) error {
	pkt := crtp.NewPacket(crtp.PortLinkControl, uint8(crtp.LinkControlBootloader), data)
	return b.dev.Send(ctx, pkt)
}
