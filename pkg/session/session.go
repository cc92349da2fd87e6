package session

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/womat/debug"
	"github.com/womat/hm3301/pkg/protocol"
)

// State is the measurement state of the sensor.
type State int

const (
	// StateReset is the state after power-on and after every reset.
	StateReset State = iota
	// StateMeasuring is entered once measurement has been started.
	StateMeasuring
)

func (s State) String() string {
	if s == StateMeasuring {
		return "measuring"
	}
	return "reset"
}

// Session drives one sensor over a bus.
// The bus must implement a plain write and a plain read; the sensor does not
// support repeated start, so a command is always sent as one write followed
// by one read.
type Session struct {
	bus    io.ReadWriter
	config Config

	// sleep is used for the fixed delays after reset and configuration writes
	sleep func(time.Duration)

	// mu must be held whenever a sequence of commands is executed
	mu    sync.Mutex
	state State
}

// Measurement is a prefix of the mass concentration channels
// PM1, PM2.5, PM4 and PM10.
type Measurement struct {
	Time   time.Time
	Values []protocol.Value
}

// Value returns the reading of channel c if it was requested.
func (m Measurement) Value(c protocol.Channel) (protocol.Value, bool) {
	if c < 0 || int(c) >= len(m.Values) {
		return 0, false
	}
	return m.Values[c], true
}

// New generates a session handler for the sensor behind bus.
func New(bus io.ReadWriter, opts ...Option) *Session {
	if bus == nil {
		panic("bus cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Session{
		bus:    bus,
		config: cfg,
		sleep:  time.Sleep,
		state:  StateReset,
	}
}

// Init resets the sensor and returns its serial number.
func (s *Session) Init() (serial string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.reset(); err != nil {
		debug.ErrorLog.Printf("failed to reset device: %v", err)
		return
	}

	if serial, err = s.serialNumber(); err != nil {
		debug.ErrorLog.Printf("failed to read serial number: %v", err)
		return
	}

	debug.DebugLog.Printf("serial number: %s", serial)
	return
}

// Close stops measuring and closes the bus if it can be closed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.request(protocol.StopMeasurement()); err != nil {
		debug.WarningLog.Printf("failed to stop measurement: %v", err)
	}
	s.state = StateReset

	if c, ok := s.bus.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// State returns the current measurement state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Measure reads the first channels mass concentrations (1 to 4). Measurement
// is started first if the sensor is in reset state. Cancelling ctx aborts
// the wait for new data.
func (s *Session) Measure(ctx context.Context, channels int) (Measurement, error) {
	if channels < 1 || channels > protocol.Channels {
		return Measurement{}, protocol.InvalidArgumentError("Measure", "%s: %d channels, valid range is 1-%d", protocol.InvalidParameter, channels, protocol.Channels)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.measure(ctx, channels)
}

// Reset resets the sensor. The sensor is back in reset state afterwards even
// if the reset command failed.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.reset()
}

// SerialNumber returns the serial number of the sensor.
func (s *Session) SerialNumber() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.serialNumber()
}

// serialNumber cuts the serial at its NUL terminator
func (s *Session) serialNumber() (string, error) {
	data, err := s.request(protocol.ReadSerial())
	if err != nil {
		return "", err
	}

	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return string(data), nil
}
