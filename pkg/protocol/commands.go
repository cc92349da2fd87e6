package protocol

import (
	"encoding/binary"
	"fmt"
)

// Opcode is a 16-bit sensor command.
type Opcode uint16

const (
	OpStartMeasurement Opcode = 0x0010
	OpStopMeasurement  Opcode = 0x0104
	OpReset            Opcode = 0xd304
	OpReadDataReady    Opcode = 0x0202
	OpReadData         Opcode = 0x0300
	OpReadSerial       Opcode = 0xd033
	OpStartFanCleaning Opcode = 0x5607
	OpCleaningPeriod   Opcode = 0x8004
	// OpReadCleaningPeriod is not a sensor command, it only tells a
	// cleaning period read apart from a write. It goes out as
	// OpCleaningPeriod.
	OpReadCleaningPeriod Opcode = 0x8005
)

const (
	// startMeasurementMode selects big-endian float output.
	startMeasurementMode = 0x03

	serialSize = 32
)

func (op Opcode) String() string {
	switch op {
	case OpStartMeasurement:
		return "StartMeasurement"
	case OpStopMeasurement:
		return "StopMeasurement"
	case OpReset:
		return "Reset"
	case OpReadDataReady:
		return "ReadDataReady"
	case OpReadData:
		return "ReadData"
	case OpReadSerial:
		return "ReadSerial"
	case OpStartFanCleaning:
		return "StartFanCleaning"
	case OpCleaningPeriod:
		return "WriteCleaningPeriod"
	case OpReadCleaningPeriod:
		return "ReadCleaningPeriod"
	}
	return fmt.Sprintf("Opcode(0x%04x)", uint16(op))
}

// wire returns the opcode as sent on the bus.
func (op Opcode) wire() uint16 {
	if op == OpReadCleaningPeriod {
		return uint16(OpCleaningPeriod)
	}
	return uint16(op)
}

// Channel is a mass concentration channel in read order.
type Channel int

const (
	PM1 Channel = iota
	PM2P5
	PM4
	PM10

	// Channels is the number of mass concentration channels.
	Channels = 4
)

func (c Channel) String() string {
	switch c {
	case PM1:
		return "pm1"
	case PM2P5:
		return "pm2p5"
	case PM4:
		return "pm4"
	case PM10:
		return "pm10"
	}
	return fmt.Sprintf("Channel(%d)", int(c))
}

// Command is one sensor operation: the opcode, the data words written after
// it and the number of data bytes it answers with.
type Command struct {
	op       Opcode
	payload  []byte
	dataSize int
}

func StartMeasurement() Command {
	return Command{op: OpStartMeasurement, payload: []byte{startMeasurementMode, 0x00}}
}

func StopMeasurement() Command { return Command{op: OpStopMeasurement} }

func Reset() Command { return Command{op: OpReset} }

func StartFanCleaning() Command { return Command{op: OpStartFanCleaning} }

// ReadDataReady answers with one word; the second byte is 1 when new
// measurements are available.
func ReadDataReady() Command { return Command{op: OpReadDataReady, dataSize: WordSize} }

// ReadData reads the first channels mass concentrations, two words each.
func ReadData(channels int) (Command, error) {
	if channels < 1 || channels > Channels {
		return Command{}, InvalidArgumentError("ReadData", "%s: %d channels, valid range is 1-%d", InvalidParameter, channels, Channels)
	}
	return Command{op: OpReadData, dataSize: 4 * channels}, nil
}

// ReadSerial reads the NUL terminated serial number string.
func ReadSerial() Command { return Command{op: OpReadSerial, dataSize: serialSize} }

func ReadCleaningPeriod() Command { return Command{op: OpReadCleaningPeriod, dataSize: 4} }

func WriteCleaningPeriod(seconds uint32) Command {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, seconds)
	return Command{op: OpCleaningPeriod, payload: payload}
}

func (c Command) Opcode() Opcode { return c.op }

// Frame returns the bytes written to the bus, checksums freshly computed.
func (c Command) Frame() []byte {
	frame := make([]byte, 2, 2+len(c.payload)/WordSize*GroupSize)
	binary.BigEndian.PutUint16(frame, c.op.wire())
	for i := 0; i+1 < len(c.payload); i += WordSize {
		frame = AppendWord(frame, c.payload[i], c.payload[i+1])
	}
	return frame
}

// DataSize is the number of data bytes left after stripping the response.
func (c Command) DataSize() int { return c.dataSize }

// ResponseSize is the number of raw bytes to read, 0 for write-only commands.
func (c Command) ResponseSize() int { return c.dataSize + c.dataSize/WordSize }

func (c Command) String() string { return c.op.String() }
