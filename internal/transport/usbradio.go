//go:build !mips && !mipsle
// +build !mips,!mipsle

package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"

	"crtplink/pkg/crtp"
)

// Crazyradio USB identity and vendor control request op-codes, unchanged
// from the dongle's own firmware protocol.
const (
	radioVendorID  = 0x1915
	radioProductID = 0x7777

	reqSetRadioChannel = 0x01
	reqSetRadioAddress = 0x02
	reqSetDataRate     = 0x03
	reqSetRadioPower   = 0x04
	reqSetRadioARD     = 0x05
	reqSetRadioARC     = 0x06
	reqAckEnable       = 0x10
	reqScanChannels    = 0x21
	reqLaunchBootloader = 0xFF

	endpointOut = 0x01
	endpointIn  = 0x81

	defaultARC = 3
)

// USBRadio is a Transport backed by a physical Crazyradio dongle accessed
// directly over USB, bypassing any kernel driver.
type USBRadio struct {
	ctx    *gousb.Context
	device *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	epOut  *gousb.OutEndpoint
	epIn   *gousb.InEndpoint
	arc    int
}

// OpenUSBRadio opens the Crazyradio dongle at position index among those
// found on the bus (0 is the first).
func OpenUSBRadio(index int) (*USBRadio, error) {
	ctx := gousb.NewContext()

	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(radioVendorID) && desc.Product == gousb.ID(radioProductID)
	})
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("transport: failed to enumerate USB devices: %w", err)
	}
	if index < 0 || index >= len(devices) {
		for _, d := range devices {
			d.Close()
		}
		ctx.Close()
		return nil, fmt.Errorf("transport: %w: no Crazyradio at index %d", crtp.ErrNotFound, index)
	}

	device := devices[index]
	for i, d := range devices {
		if i != index {
			d.Close()
		}
	}

	config, err := device.Config(1)
	if err != nil {
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("transport: failed to set USB config: %w", err)
	}

	intf, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("transport: failed to claim USB interface: %w", err)
	}

	epOut, err := intf.OutEndpoint(endpointOut)
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("transport: failed to open OUT endpoint: %w", err)
	}

	epIn, err := intf.InEndpoint(endpointIn)
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("transport: failed to open IN endpoint: %w", err)
	}

	return &USBRadio{
		ctx:    ctx,
		device: device,
		config: config,
		intf:   intf,
		epOut:  epOut,
		epIn:   epIn,
		arc:    defaultARC,
	}, nil
}

func (r *USBRadio) controlWrite(ctx context.Context, request uint8, value, index uint16, data []byte) error {
	_, err := r.device.Control(0x40, request, value, index, data)
	if err != nil {
		return fmt.Errorf("transport: vendor request 0x%02x failed: %w", request, err)
	}
	return nil
}

// Configure pushes the channel, address, data rate and auto-retry-count
// for a logical connection down to the dongle via vendor control
// transfers, exactly as the physical Crazyradio firmware expects.
func (r *USBRadio) Configure(ctx context.Context, cfg crtp.RadioConfig) error {
	if err := r.controlWrite(ctx, reqSetRadioChannel, uint16(cfg.Channel), 0, nil); err != nil {
		return err
	}
	if err := r.controlWrite(ctx, reqSetDataRate, uint16(cfg.DataRate), 0, nil); err != nil {
		return err
	}
	if err := r.controlWrite(ctx, reqSetRadioAddress, 0, 0, cfg.Address[:]); err != nil {
		return err
	}
	if err := r.controlWrite(ctx, reqSetRadioARC, uint16(r.arc), 0, nil); err != nil {
		return err
	}
	if err := r.controlWrite(ctx, reqAckEnable, 1, 0, nil); err != nil {
		return err
	}
	return nil
}

// SendAndReceive writes payload to the bulk OUT endpoint and reads the
// dongle's acknowledgment frame from the bulk IN endpoint, decoding the
// ack/retry-count/power-detector bits exactly as Acknowledgment.from_array
// does in the original driver.
func (r *USBRadio) SendAndReceive(ctx context.Context, payload []byte) (Acknowledgment, error) {
	if _, err := r.epOut.WriteContext(ctx, payload); err != nil {
		return Acknowledgment{}, fmt.Errorf("transport: USB write failed: %w", crtp.ErrIO)
	}

	buf := make([]byte, 33)
	n, err := r.epIn.ReadContext(ctx, buf)
	if err != nil {
		return Acknowledgment{}, fmt.Errorf("transport: USB read failed: %w", crtp.ErrIO)
	}
	if n == 0 {
		return Acknowledgment{Ack: false, RetryCount: r.arc}, nil
	}

	status := buf[0]
	ack := Acknowledgment{
		Ack:                 status&0x01 != 0,
		PowerDetectorStatus: status&0x02 != 0,
		RetryCount:          int(status >> 4),
	}
	if status == 0 {
		ack.RetryCount = r.arc
	}
	if n > 1 {
		ack.Data = append([]byte(nil), buf[1:n]...)
	}
	return ack, nil
}

// ScanChannels asks the dongle's firmware to scan every channel at the
// given data rate and report which ones produced an acknowledgment.
func (r *USBRadio) ScanChannels(ctx context.Context, rate crtp.DataRate) ([]int, error) {
	if err := r.controlWrite(ctx, reqSetDataRate, uint16(rate), 0, nil); err != nil {
		return nil, err
	}

	resultBuf := make([]byte, 64)
	n, err := r.device.Control(0xC0, reqScanChannels, 0, uint16(rate), resultBuf)
	if err != nil {
		return nil, fmt.Errorf("transport: channel scan failed: %w", err)
	}

	var found []int
	for _, ch := range resultBuf[:n] {
		found = append(found, int(ch))
	}
	return found, nil
}

// LaunchBootloader asks the radio to restart the peer into bootloader
// mode and returns immediately; the caller is expected to reconnect on the
// bootloader's address space afterwards.
func (r *USBRadio) LaunchBootloader(ctx context.Context) error {
	return r.controlWrite(ctx, reqLaunchBootloader, 0, 0, nil)
}

// Close releases the USB interface, configuration, device handle and
// context, in that order, tolerating a nil value at each step so it can be
// called during partially-initialized cleanup.
func (r *USBRadio) Close() error {
	if r.intf != nil {
		r.intf.Close()
	}
	if r.config != nil {
		r.config.Close()
	}
	if r.device != nil {
		r.device.Close()
	}
	if r.ctx != nil {
		r.ctx.Close()
	}
	return nil
}

// waitForDrain gives the dongle firmware time to flush its internal FIFO
// after a configuration change, matching the small settle delay the
// original driver waits after a LAUNCH_BOOTLOADER or ARC change.
func waitForDrain() {
	time.Sleep(2 * time.Millisecond)
}
