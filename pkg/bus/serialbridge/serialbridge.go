// Package serialbridge talks to the sensor through an NXP SC18IM700
// UART to I²C bridge.
package serialbridge

import (
	"fmt"
	"io"
	"time"

	"github.com/albenik/go-serial"
	"github.com/pkg/errors"
	"github.com/womat/debug"
)

const (
	cmdStart    = 'S'
	cmdStop     = 'P'
	cmdReadReg  = 'R'
	regI2CStat  = 0x0A
	i2cOK       = 0xF0
	i2cNackAddr = 0xF1
	i2cNackData = 0xF2
	i2cTimeOut  = 0xF8

	// delay between two polls of the receive buffer
	pollDelay = 5 * time.Millisecond
	// timeout to receive a response
	timeOut = 1 * time.Second
	// Error Message for time out
	errTimeOut = "time out"
)

const (
	InvalidParameter = "invalid parameter"
	InvalidStatus    = "unexpected bridge status"
)

// Port is the part of a serial port the bridge needs.
type Port interface {
	io.ReadWriteCloser
	ReadyToRead() (uint32, error)
	ResetInputBuffer() error
}

// Bridge addresses one I²C slave behind the bridge.
type Bridge struct {
	port    Port
	addr    byte
	timeout time.Duration
}

// Open opens the serial device of the bridge.
// usage of parameter connection: device baudrate parity databits stopbits
// eg:"/dev/ttyUSB0 9600 n 8 1"
func Open(connection string, addr uint16) (*Bridge, error) {
	var port, p, st string
	var b, d int

	parity := map[string]serial.Parity{
		"n": serial.NoParity,
		"o": serial.OddParity,
		"e": serial.EvenParity,
		"m": serial.MarkParity,
		"s": serial.SpaceParity,
	}

	stop := map[string]serial.StopBits{
		"1":   serial.OneStopBit,
		"1.5": serial.OnePointFiveStopBits,
		"2":   serial.TwoStopBits,
	}

	if _, err := fmt.Sscanf(connection, "%s %d %s %d %s", &port, &b, &p, &d, &st); err != nil {
		return nil, errors.Wrapf(err, "serialbridge.Open: %s %q", InvalidParameter, connection)
	}
	if _, ok := parity[p]; !ok {
		return nil, errors.New("serialbridge.Open: " + InvalidParameter)
	}
	if _, ok := stop[st]; !ok {
		return nil, errors.New("serialbridge.Open: " + InvalidParameter)
	}

	mode := &serial.Mode{
		BaudRate: b,
		Parity:   parity[p],
		DataBits: d,
		StopBits: stop[st],
	}

	s, err := serial.Open(port, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %v", port)
	}

	return New(s, addr), nil
}

// New uses an already opened port.
func New(port Port, addr uint16) *Bridge {
	return &Bridge{
		port:    port,
		addr:    byte(addr << 1),
		timeout: timeOut,
	}
}

// Write sends p as one I²C write and checks the bridge status afterwards.
func (b *Bridge) Write(p []byte) (int, error) {
	if len(p) == 0 || len(p) > 255 {
		return 0, errors.Errorf("serialbridge.Write: %s: %d bytes", InvalidParameter, len(p))
	}

	frame := make([]byte, 0, len(p)+4)
	frame = append(frame, cmdStart, b.addr, byte(len(p)))
	frame = append(frame, p...)
	frame = append(frame, cmdStop)

	if err := b.send(frame); err != nil {
		return 0, err
	}

	if err := b.status(); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read reads len(p) bytes in one I²C read.
func (b *Bridge) Read(p []byte) (int, error) {
	if len(p) == 0 || len(p) > 255 {
		return 0, errors.Errorf("serialbridge.Read: %s: %d bytes", InvalidParameter, len(p))
	}

	if err := b.send([]byte{cmdStart, b.addr | 1, byte(len(p)), cmdStop}); err != nil {
		return 0, err
	}

	return b.receive(p)
}

func (b *Bridge) Close() error {
	return b.port.Close()
}

// status reads the I2CStat register of the bridge
func (b *Bridge) status() error {
	if err := b.send([]byte{cmdReadReg, regI2CStat, cmdStop}); err != nil {
		return err
	}

	stat := make([]byte, 1)
	if _, err := b.receive(stat); err != nil {
		return err
	}

	switch stat[0] {
	case i2cOK:
		return nil
	case i2cNackAddr:
		return errors.Errorf("serialbridge: NACK on address 0x%02x", b.addr>>1)
	case i2cNackData:
		return errors.Errorf("serialbridge: NACK on data")
	case i2cTimeOut:
		return errors.Errorf("serialbridge: bus time out")
	}
	return errors.Errorf("serialbridge: %s 0x%02x", InvalidStatus, stat[0])
}

func (b *Bridge) send(frame []byte) error {
	// drop anything left over from an aborted transfer
	if err := b.port.ResetInputBuffer(); err != nil {
		return err
	}

	debug.TraceLog.Printf("bridge request: [% x]", frame)
	if _, err := b.port.Write(frame); err != nil {
		debug.TraceLog.Printf("error to write serial interface: %v", err)
		return errors.Wrap(err, "serialbridge write")
	}
	return nil
}

// receive collects len(p) bytes from the port or fails after b.timeout
func (b *Bridge) receive(p []byte) (int, error) {
	deadline := time.Now().Add(b.timeout)

	var n int
	for n < len(p) {
		if time.Now().After(deadline) {
			debug.TraceLog.Printf("error to read serial interface: %v", errTimeOut)
			return n, errors.Errorf("serialbridge: %s after %d of %d bytes", errTimeOut, n, len(p))
		}

		ready, err := b.port.ReadyToRead()
		if err != nil {
			return n, err
		}
		if ready == 0 {
			time.Sleep(pollDelay)
			continue
		}

		i, err := b.port.Read(p[n:])
		n += i
		if err != nil {
			return n, errors.Wrap(err, "serialbridge read")
		}
	}

	debug.TraceLog.Printf("bridge response (%v bytes): [% x]", n, p[:n])
	return n, nil
}
