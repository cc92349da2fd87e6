package session

import (
	"encoding/binary"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/womat/debug"
	"github.com/womat/hm3301/pkg/protocol"
)

// fakeSensor emulates the sensor side of the bus and records every frame.
type fakeSensor struct {
	mu sync.Mutex

	frames    [][]byte
	readSizes []int
	last      uint16

	// readyAfter is the number of not-ready answers before the flag is
	// set, negative means never
	readyAfter   int
	readyQueries int

	values [protocol.Channels]float32
	period uint32
	serial string

	writeErr map[protocol.Opcode]error
	readErr  map[protocol.Opcode]error
	corrupt  map[protocol.Opcode]bool
	short    map[protocol.Opcode]bool

	closed bool
}

func newFakeSensor() *fakeSensor {
	return &fakeSensor{
		values:   [protocol.Channels]float32{1.5, 12.34, 100, 4000},
		period:   604800,
		serial:   "3A1B2C3D4E5F6071",
		writeErr: make(map[protocol.Opcode]error),
		readErr:  make(map[protocol.Opcode]error),
		corrupt:  make(map[protocol.Opcode]bool),
		short:    make(map[protocol.Opcode]bool),
	}
}

func (f *fakeSensor) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.frames = append(f.frames, append([]byte(nil), p...))
	f.last = binary.BigEndian.Uint16(p)

	if err := f.writeErr[f.opcode(p)]; err != nil {
		return 0, err
	}

	if f.last == uint16(protocol.OpCleaningPeriod) && len(p) == 8 {
		f.period = binary.BigEndian.Uint32([]byte{p[2], p[3], p[5], p[6]})
	}
	return len(p), nil
}

func (f *fakeSensor) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.readSizes = append(f.readSizes, len(p))
	op := protocol.Opcode(f.last)
	if err := f.readErr[op]; err != nil {
		return 0, err
	}

	var data []byte
	switch op {
	case protocol.OpReadDataReady:
		f.readyQueries++
		var flag byte
		if f.readyAfter >= 0 && f.readyQueries > f.readyAfter {
			flag = 1
		}
		data = []byte{0x00, flag}
	case protocol.OpReadData:
		for _, v := range f.values {
			data = binary.BigEndian.AppendUint32(data, math.Float32bits(v))
		}
	case protocol.OpReadSerial:
		data = make([]byte, 32)
		copy(data, f.serial)
	case protocol.OpCleaningPeriod:
		data = binary.BigEndian.AppendUint32(nil, f.period)
	}

	raw := words(data)
	if len(raw) > len(p) {
		raw = raw[:len(p)]
	}
	if f.corrupt[op] {
		raw[len(raw)-1] ^= 0xff
	}
	if f.short[op] {
		raw = raw[:len(raw)-1]
	}

	return copy(p, raw), nil
}

func (f *fakeSensor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// opcode names frames the way the session does, telling a cleaning period
// write apart from a read
func (f *fakeSensor) opcode(frame []byte) protocol.Opcode {
	op := protocol.Opcode(binary.BigEndian.Uint16(frame))
	if op == protocol.OpCleaningPeriod && len(frame) == 2 {
		return protocol.OpReadCleaningPeriod
	}
	return op
}

func (f *fakeSensor) ops() []protocol.Opcode {
	f.mu.Lock()
	defer f.mu.Unlock()

	ops := make([]protocol.Opcode, len(f.frames))
	for i, frame := range f.frames {
		ops[i] = f.opcode(frame)
	}
	return ops
}

func (f *fakeSensor) count(op protocol.Opcode) (n int) {
	for _, o := range f.ops() {
		if o == op {
			n++
		}
	}
	return
}

// words adds a checksum after every two bytes of data
func words(data []byte) []byte {
	raw := make([]byte, 0, len(data)/2*3)
	for i := 0; i+1 < len(data); i += 2 {
		raw = protocol.AppendWord(raw, data[i], data[i+1])
	}
	return raw
}

// sleepRecorder replaces the fixed delays of a session
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newTestSession(t *testing.T, f *fakeSensor, opts ...Option) (*Session, *sleepRecorder) {
	t.Helper()
	debug.SetDebug(os.Stderr, debug.Full)

	opts = append([]Option{WithPollInterval(time.Millisecond)}, opts...)
	s := New(f, opts...)

	r := &sleepRecorder{}
	s.sleep = r.sleep
	return s, r
}
