// Package i2cdev talks to the sensor through a host I²C bus such as
// /dev/i2c-1.
package i2cdev

import (
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Device is one I²C slave. Write and Read are separate bus transactions,
// each ending with a stop condition.
type Device struct {
	bus i2c.Bus
	dev *i2c.Dev
}

// Open initializes the host drivers and opens the named bus ("" selects the
// first one available).
func Open(name string, addr uint16) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize periph")
	}

	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open I2C bus %q", name)
	}

	return New(bus, addr), nil
}

// New uses an already opened bus.
func New(bus i2c.Bus, addr uint16) *Device {
	return &Device{
		bus: bus,
		dev: &i2c.Dev{Bus: bus, Addr: addr},
	}
}

func (d *Device) Write(p []byte) (int, error) {
	if err := d.dev.Tx(p, nil); err != nil {
		return 0, errors.Wrapf(err, "i2c write to 0x%02x", d.dev.Addr)
	}
	return len(p), nil
}

func (d *Device) Read(p []byte) (int, error) {
	if err := d.dev.Tx(nil, p); err != nil {
		return 0, errors.Wrapf(err, "i2c read from 0x%02x", d.dev.Addr)
	}
	return len(p), nil
}

// Close closes the bus if it was opened by Open.
func (d *Device) Close() error {
	if c, ok := d.bus.(i2c.BusCloser); ok {
		return c.Close()
	}
	return nil
}

func (d *Device) String() string { return d.dev.String() }
