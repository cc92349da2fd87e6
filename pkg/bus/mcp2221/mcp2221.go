// Package mcp2221 talks to the sensor through a Microchip MCP2221A USB to
// I²C bridge, using its HID interface.
package mcp2221

import (
	"time"

	"github.com/pkg/errors"
	"github.com/womat/debug"
	"rafaelmartins.com/p/usbhid"
)

const (
	VendorID  = 0x04d8
	ProductID = 0x00dd

	// every report to and from the bridge has this size
	msgSize = 64
	// payload bytes of one write or get data report
	maxChunk = 60

	cmdStatus     = 0x10
	cmdI2CWrite   = 0x90
	cmdI2CRead    = 0x91
	cmdI2CGetData = 0x40

	cancelTransfer = 0x10

	stateIdle         = 0x00
	stateAddrNACK     = 0x25
	statePartialData  = 0x41
	stateReadPartial  = 0x54
	stateReadComplete = 0x55
	stateReadError    = 0x7f

	retries    = 50
	retryDelay = 500 * time.Microsecond
)

const (
	InvalidParameter = "invalid parameter"
	DeviceNotFound   = "no MCP2221 found"
	TooManyRetries   = "too many retries"
)

// HID is a report based connection to the bridge. *usbhid.Device
// satisfies it.
type HID interface {
	SetOutputReport(id byte, data []byte) error
	GetInputReport() (byte, []byte, error)
	Close() error
}

// Bridge addresses one I²C slave behind a MCP2221A.
type Bridge struct {
	hid  HID
	addr byte
}

// Open opens the index-th MCP2221A connected to the host.
func Open(index int, addr uint16) (*Bridge, error) {
	isBridge := func(d *usbhid.Device) bool {
		return d.VendorId() == VendorID && d.ProductId() == ProductID
	}

	devs, err := usbhid.Enumerate(isBridge)
	if err != nil {
		return nil, errors.Wrap(err, "mcp2221.Open")
	}
	if index < 0 || index >= len(devs) {
		return nil, errors.Errorf("mcp2221.Open: %s (index %d, found %d)", DeviceNotFound, index, len(devs))
	}

	path := devs[index].Path()
	d, err := usbhid.Get(func(d *usbhid.Device) bool { return d.Path() == path }, true, false)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %v", path)
	}

	debug.DebugLog.Printf("mcp2221 opened at %v", path)
	return New(d, addr), nil
}

// New uses an already opened HID device.
func New(hid HID, addr uint16) *Bridge {
	return &Bridge{hid: hid, addr: byte(addr << 1)}
}

// Write sends p as one I²C write with stop condition and waits until the
// bridge has finished it.
func (b *Bridge) Write(p []byte) (int, error) {
	if len(p) == 0 || len(p) > maxChunk {
		return 0, errors.Errorf("mcp2221.Write: %s: %d bytes", InvalidParameter, len(p))
	}

	if err := b.idle(); err != nil {
		return 0, err
	}

	cmd := make([]byte, msgSize)
	cmd[1] = byte(len(p))
	cmd[2] = byte(len(p) >> 8)
	cmd[3] = b.addr
	copy(cmd[4:], p)

	for retry := 0; ; retry++ {
		rsp, err := b.transfer(cmdI2CWrite, cmd)
		if err != nil {
			return 0, err
		}
		if rsp[1] == 0 {
			break
		}
		if retry == retries {
			return 0, errors.Errorf("mcp2221.Write: %s", TooManyRetries)
		}
		time.Sleep(retryDelay)
	}

	for retry := 0; retry < retries; retry++ {
		state, err := b.state()
		if err != nil {
			return 0, err
		}

		switch state {
		case stateIdle:
			return len(p), nil
		case stateAddrNACK:
			return 0, errors.Errorf("mcp2221: NACK from address 0x%02x", b.addr>>1)
		}
		time.Sleep(retryDelay)
	}
	return 0, errors.Errorf("mcp2221.Write: %s", TooManyRetries)
}

// Read reads len(p) bytes in one I²C read.
func (b *Bridge) Read(p []byte) (int, error) {
	if len(p) == 0 || len(p) > maxChunk {
		return 0, errors.Errorf("mcp2221.Read: %s: %d bytes", InvalidParameter, len(p))
	}

	if err := b.idle(); err != nil {
		return 0, err
	}

	cmd := make([]byte, msgSize)
	cmd[1] = byte(len(p))
	cmd[2] = byte(len(p) >> 8)
	cmd[3] = b.addr | 1

	rsp, err := b.transfer(cmdI2CRead, cmd)
	if err != nil {
		return 0, err
	}
	if rsp[1] != 0 {
		return 0, errors.Errorf("mcp2221.Read: bridge busy (0x%02x)", rsp[1])
	}

	var n int
	for retry := 0; n < len(p); retry++ {
		if retry == retries {
			return n, errors.Errorf("mcp2221.Read: %s after %d of %d bytes", TooManyRetries, n, len(p))
		}

		rsp, err := b.transfer(cmdI2CGetData, make([]byte, msgSize))
		if err != nil {
			return n, err
		}

		switch {
		case rsp[1] == statePartialData || rsp[3] == stateReadError:
			time.Sleep(retryDelay)
			continue
		case rsp[2] == stateAddrNACK:
			return n, errors.Errorf("mcp2221: NACK from address 0x%02x", b.addr>>1)
		case rsp[2] == stateReadPartial || rsp[2] == stateReadComplete:
			c := int(rsp[3])
			if c > maxChunk {
				c = maxChunk
			}
			n += copy(p[n:], rsp[4:4+c])
		default:
			time.Sleep(retryDelay)
		}
	}

	debug.TraceLog.Printf("mcp2221 read (%v bytes): [% x]", n, p[:n])
	return n, nil
}

func (b *Bridge) Close() error {
	return b.hid.Close()
}

// idle cancels a transfer left over from an earlier failure.
func (b *Bridge) idle() error {
	state, err := b.state()
	if err != nil || state == stateIdle {
		return err
	}

	debug.WarningLog.Printf("mcp2221 i2c engine busy (state 0x%02x), cancel transfer", state)
	cmd := make([]byte, msgSize)
	cmd[2] = cancelTransfer
	if _, err := b.transfer(cmdStatus, cmd); err != nil {
		return err
	}
	time.Sleep(300 * time.Microsecond)
	return nil
}

// state returns the state of the I²C engine of the bridge.
func (b *Bridge) state() (byte, error) {
	rsp, err := b.transfer(cmdStatus, make([]byte, msgSize))
	if err != nil {
		return 0, err
	}
	return rsp[8], nil
}

// transfer sends one command report and returns the matching response.
func (b *Bridge) transfer(cmd byte, msg []byte) ([]byte, error) {
	msg[0] = cmd
	if err := b.hid.SetOutputReport(0, msg); err != nil {
		return nil, errors.Wrapf(err, "mcp2221 write [cmd=0x%02x]", cmd)
	}

	_, rsp, err := b.hid.GetInputReport()
	if err != nil {
		return nil, errors.Wrapf(err, "mcp2221 read [cmd=0x%02x]", cmd)
	}
	if len(rsp) < msgSize {
		return nil, errors.Errorf("mcp2221 read [cmd=0x%02x]: short report (%d of %d bytes)", cmd, len(rsp), msgSize)
	}
	if rsp[0] != cmd {
		return nil, errors.Errorf("mcp2221 read [cmd=0x%02x]: response to 0x%02x", cmd, rsp[0])
	}
	return rsp, nil
}
