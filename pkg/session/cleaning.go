package session

import (
	"fmt"

	"github.com/womat/debug"
	"github.com/womat/hm3301/pkg/protocol"
)

// Limits of the auto-cleaning period in seconds, 0 disables auto-cleaning.
const (
	CleaningPeriodMin  = 0
	CleaningPeriodStep = 1
	CleaningPeriodMax  = 604800
)

// startCleaningTrigger is the only value accepted by StartCleaning
const startCleaningTrigger = 1

// Warning reports a cleaning period that was written but may not be
// visible yet.
type Warning struct {
	Seconds uint32
	Err     error
}

func (w *Warning) String() string {
	return fmt.Sprintf("cleaning period changed to %ds but reads will return the old value: %v", w.Seconds, w.Err)
}

// CleaningPeriod returns the auto-cleaning period in seconds.
func (s *Session) CleaningPeriod() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readCleaningPeriod()
}

// SetCleaningPeriod writes the auto-cleaning period and resets the sensor,
// which only reports the new period after a reset. The write is kept even
// if that reset fails; the returned Warning then tells that reads may
// return the old value until a later reset succeeds.
func (s *Session) SetCleaningPeriod(seconds int) (*Warning, error) {
	if seconds < CleaningPeriodMin || seconds > CleaningPeriodMax {
		return nil, protocol.InvalidArgumentError("SetCleaningPeriod", "%s: %d, valid range is [%d %d %d]",
			protocol.InvalidParameter, seconds, CleaningPeriodMin, CleaningPeriodStep, CleaningPeriodMax)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeCleaningPeriod(uint32(seconds)); err != nil {
		return nil, err
	}

	s.sleep(s.config.SettleDelay)

	if err := s.reset(); err != nil {
		w := &Warning{Seconds: uint32(seconds), Err: err}
		debug.WarningLog.Print(w)
		return w, nil
	}

	debug.TraceLog.Printf("cleaning period set to %ds", seconds)
	return nil, nil
}

// StartCleaning starts fan cleaning. trigger must be 1.
func (s *Session) StartCleaning(trigger int) error {
	if trigger != startCleaningTrigger {
		return protocol.InvalidArgumentError("StartCleaning", "%s: trigger %d, only %d is accepted", protocol.InvalidParameter, trigger, startCleaningTrigger)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.startFanCleaning()
}
