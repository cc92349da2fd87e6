package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/womat/debug"
	"github.com/womat/hm3301/pkg/protocol"
)

// measure waits for the data-ready flag and reads channels values.
// The caller must hold s.mu.
func (s *Session) measure(ctx context.Context, channels int) (m Measurement, err error) {
	if err = s.ensureMeasuring(); err != nil {
		return
	}

	if err = s.waitDataReady(ctx); err != nil {
		return
	}

	if m.Values, err = s.readData(channels); err != nil {
		return
	}

	m.Time = time.Now()
	return
}

// waitDataReady polls the data-ready flag up to PollAttempts times
func (s *Session) waitDataReady(ctx context.Context) error {
	for attempt := 1; attempt <= s.config.PollAttempts; attempt++ {
		ready, err := s.dataReady()
		if err != nil {
			return err
		}
		if ready {
			return nil
		}

		if attempt == s.config.PollAttempts {
			break
		}

		debug.TraceLog.Printf("data not ready (attempt %d of %d), retry in %vms", attempt, s.config.PollAttempts, s.config.PollInterval.Milliseconds())
		if err := wait(ctx, s.config.PollInterval); err != nil {
			return &protocol.Error{Op: "Measure", Kind: protocol.KindTimeout, Err: errors.Wrap(err, protocol.Cancelled)}
		}
	}

	return &protocol.Error{
		Op:   "Measure",
		Kind: protocol.KindTimeout,
		Err:  errors.Errorf("%s after %d attempts", protocol.NotReady, s.config.PollAttempts),
	}
}

// reset resets the sensor and leaves it in reset state.
// The caller must hold s.mu.
func (s *Session) reset() error {
	_, err := s.request(protocol.Reset())
	s.sleep(s.config.ResetDelay)

	// the sensor glitches the bus while it restarts and some bus masters are
	// stuck until the next transfer; stop is harmless in reset state
	if serr := s.stopMeasurement(); serr != nil {
		debug.TraceLog.Printf("bus recovery after reset: %v", serr)
	}
	s.state = StateReset

	return err
}
