package session

import (
	"encoding/binary"

	"github.com/womat/debug"
	"github.com/womat/hm3301/pkg/protocol"
)

const (
	// dataReady is the value of the data-ready flag once new values exist
	dataReady = 1
)

// ensureMeasuring starts measurement if the sensor is in reset state
func (s *Session) ensureMeasuring() error {
	if s.state != StateReset {
		return nil
	}

	if _, err := s.request(protocol.StartMeasurement()); err != nil {
		return err
	}

	debug.TraceLog.Print("measurement started")
	s.state = StateMeasuring
	return nil
}

// dataReady asks whether a new measurement is available
func (s *Session) dataReady() (bool, error) {
	data, err := s.request(protocol.ReadDataReady())
	if err != nil {
		return false, err
	}

	return data[1] == dataReady, nil
}

// readData reads and decodes the first channels mass concentrations
func (s *Session) readData(channels int) ([]protocol.Value, error) {
	cmd, err := protocol.ReadData(channels)
	if err != nil {
		return nil, err
	}

	data, err := s.request(cmd)
	if err != nil {
		return nil, err
	}

	values := make([]protocol.Value, channels)
	for i := range values {
		values[i] = protocol.DecodeFloat(data[4*i : 4*i+4])
	}

	debug.DebugLog.Printf("measurement %v [% x]", values, data)
	return values, nil
}

// stopMeasurement is also used to put some data on the bus after a reset
func (s *Session) stopMeasurement() error {
	_, err := s.request(protocol.StopMeasurement())
	return err
}

func (s *Session) startFanCleaning() error {
	_, err := s.request(protocol.StartFanCleaning())
	return err
}

func (s *Session) readCleaningPeriod() (uint32, error) {
	data, err := s.request(protocol.ReadCleaningPeriod())
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint32(data), nil
}

func (s *Session) writeCleaningPeriod(seconds uint32) error {
	_, err := s.request(protocol.WriteCleaningPeriod(seconds))
	return err
}
