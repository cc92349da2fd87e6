package hm3301

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/womat/debug"
	"github.com/womat/hm3301/pkg/bus/i2cdev"
	"github.com/womat/hm3301/pkg/bus/mcp2221"
	"github.com/womat/hm3301/pkg/bus/serialbridge"
	"github.com/womat/hm3301/pkg/protocol"
	"github.com/womat/hm3301/pkg/session"
)

// DefaultAddress is the I²C address of the sensor.
const DefaultAddress = 0x69

// Transports of a connection string
const (
	I2C     = "i2c"
	Serial  = "serial"
	MCP2221 = "mcp2221"
)

const InvalidConnection = "invalid connection"

// Connection describes how the sensor is attached to the host.
type Connection struct {
	Transport string
	// Target is the I²C bus name, the serial mode string
	// ("/dev/ttyUSB0 9600 n 8 1") or the MCP2221 index.
	Target string
	Addr   uint16
}

// ParseConnection parses a connection string.
// usage:
//
//	i2c <bus> [addr]                                          eg: "i2c /dev/i2c-1 0x69"
//	serial <port> <baud> <parity> <databits> <stopbits> [addr] eg: "serial /dev/ttyUSB0 9600 n 8 1"
//	mcp2221 <index> [addr]                                    eg: "mcp2221 0"
func ParseConnection(s string) (c Connection, err error) {
	f := strings.Fields(s)
	if len(f) == 0 {
		return c, errors.Errorf("hm3301.ParseConnection: %s %q", InvalidConnection, s)
	}

	var n int
	switch c.Transport = strings.ToLower(f[0]); c.Transport {
	case I2C, MCP2221:
		n = 1
	case Serial:
		n = 5
	default:
		return c, errors.Errorf("hm3301.ParseConnection: unknown transport %q", f[0])
	}

	args := f[1:]
	if len(args) != n && len(args) != n+1 {
		return c, errors.Errorf("hm3301.ParseConnection: %s %q", InvalidConnection, s)
	}

	c.Target = strings.Join(args[:n], " ")
	c.Addr = DefaultAddress
	if len(args) == n+1 {
		a, err := strconv.ParseUint(args[n], 0, 7)
		if err != nil {
			return c, errors.Wrapf(err, "hm3301.ParseConnection: invalid address %q", args[n])
		}
		c.Addr = uint16(a)
	}

	if c.Transport == MCP2221 {
		if _, err := strconv.Atoi(c.Target); err != nil {
			return c, errors.Wrapf(err, "hm3301.ParseConnection: invalid device index %q", c.Target)
		}
	}
	return c, nil
}

func (c Connection) String() string {
	return c.Transport + " " + c.Target + " 0x" + strconv.FormatUint(uint64(c.Addr), 16)
}

// Dial opens the transport of c.
func (c Connection) Dial() (bus io.ReadWriteCloser, err error) {
	switch c.Transport {
	case I2C:
		var d *i2cdev.Device
		if d, err = i2cdev.Open(c.Target, c.Addr); err == nil {
			bus = d
		}
	case Serial:
		var b *serialbridge.Bridge
		if b, err = serialbridge.Open(c.Target, c.Addr); err == nil {
			bus = b
		}
	case MCP2221:
		var i int
		if i, err = strconv.Atoi(c.Target); err != nil {
			return nil, errors.Wrapf(err, "invalid device index %q", c.Target)
		}
		var b *mcp2221.Bridge
		if b, err = mcp2221.Open(i, c.Addr); err == nil {
			bus = b
		}
	default:
		err = errors.Errorf("unknown transport %q", c.Transport)
	}
	return
}

// Open connects to the sensor, resets it and reads its serial number.
// e.g. Open("i2c /dev/i2c-1")
func Open(connection string, opts ...session.Option) (*session.Session, error) {
	c, err := ParseConnection(connection)
	if err != nil {
		return nil, err
	}

	debug.TraceLog.Printf("open %v", c)
	bus, err := c.Dial()
	if err != nil {
		return nil, err
	}

	s := session.New(bus, opts...)
	if _, err = s.Init(); err != nil {
		_ = bus.Close()
		return nil, err
	}
	return s, nil
}

// CurrentData reads all four channels.
// e.g. CurrentData("serial /dev/ttyUSB0 9600 n 8 1")
func CurrentData(connection string) (m session.Measurement, err error) {
	s, err := Open(connection)
	if err != nil {
		return
	}
	defer s.Close()

	debug.TraceLog.Print("start to read current data")
	return s.Measure(context.Background(), protocol.Channels)
}

// SerialNumber returns the serial number of the sensor.
func SerialNumber(connection string) (string, error) {
	s, err := Open(connection)
	if err != nil {
		return "", err
	}
	defer s.Close()

	return s.SerialNumber()
}

// CleaningPeriod returns the automatic fan cleaning interval in seconds.
func CleaningPeriod(connection string) (uint32, error) {
	s, err := Open(connection)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	return s.CleaningPeriod()
}

// SetCleaningPeriod sets the automatic fan cleaning interval in seconds.
func SetCleaningPeriod(connection string, seconds int) (*session.Warning, error) {
	s, err := Open(connection)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	debug.TraceLog.Printf("set cleaning period to %ds", seconds)
	return s.SetCleaningPeriod(seconds)
}

// StartCleaning starts a manual fan cleaning.
func StartCleaning(connection string) error {
	s, err := Open(connection)
	if err != nil {
		return err
	}
	defer s.Close()

	debug.TraceLog.Print("start fan cleaning")
	return s.StartCleaning(1)
}
