package session

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/womat/hm3301/pkg/protocol"
	"github.com/womat/tools"
)

var errBus = errors.New("remote I/O error")

func TestNewSessionIsReset(t *testing.T) {
	s, _ := newTestSession(t, newFakeSensor())

	assert.Equal(t, StateReset, s.State())
}

func TestMeasureStartsMeasurementOnce(t *testing.T) {
	f := newFakeSensor()
	s, _ := newTestSession(t, f)

	m, err := s.Measure(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []protocol.Value{150, 1234, 10000, protocol.MaxValue}, m.Values)
	assert.False(t, m.Time.IsZero())
	assert.Equal(t, StateMeasuring, s.State())
	assert.Equal(t, []protocol.Opcode{
		protocol.OpStartMeasurement,
		protocol.OpReadDataReady,
		protocol.OpReadData,
	}, f.ops())

	_, err = s.Measure(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(protocol.OpStartMeasurement))
	assert.Equal(t, 2, f.count(protocol.OpReadData))
}

func TestMeasureReadsRequestedChannelsOnly(t *testing.T) {
	for channels := 1; channels <= protocol.Channels; channels++ {
		f := newFakeSensor()
		s, _ := newTestSession(t, f)

		m, err := s.Measure(context.Background(), channels)
		require.NoError(t, err)
		assert.Len(t, m.Values, channels)

		// data-ready word, then two checksummed words per channel
		assert.Equal(t, []int{3, 6 * channels}, f.readSizes)

		v, ok := m.Value(protocol.Channel(channels - 1))
		assert.True(t, ok)
		assert.Equal(t, m.Values[channels-1], v)
		_, ok = m.Value(protocol.Channel(channels))
		assert.False(t, ok)
	}
}

func TestMeasurePollsUntilReady(t *testing.T) {
	f := newFakeSensor()
	f.readyAfter = 3
	s, _ := newTestSession(t, f)

	_, err := s.Measure(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 4, f.count(protocol.OpReadDataReady))
	assert.Equal(t, 1, f.count(protocol.OpReadData))
}

func TestMeasureTimeout(t *testing.T) {
	f := newFakeSensor()
	f.readyAfter = -1
	s, _ := newTestSession(t, f)

	m, err := s.Measure(context.Background(), 4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrTimeout))
	assert.False(t, errors.Is(err, protocol.ErrIO))
	assert.Nil(t, m.Values)
	assert.Equal(t, 5, f.count(protocol.OpReadDataReady))
	assert.Equal(t, 0, f.count(protocol.OpReadData))
}

func TestMeasurePollAttemptsOption(t *testing.T) {
	f := newFakeSensor()
	f.readyAfter = -1
	s, _ := newTestSession(t, f, WithPollAttempts(2))

	_, err := s.Measure(context.Background(), 1)
	assert.True(t, errors.Is(err, protocol.ErrTimeout))
	assert.Equal(t, 2, f.count(protocol.OpReadDataReady))
}

func TestMeasureCancel(t *testing.T) {
	f := newFakeSensor()
	f.readyAfter = -1
	s, _ := newTestSession(t, f, WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := s.Measure(ctx, 1)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.True(t, errors.Is(err, protocol.ErrTimeout))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, f.count(protocol.OpReadDataReady))
	assert.Equal(t, 0, f.count(protocol.OpReadData))
}

func TestMeasureStartFailure(t *testing.T) {
	f := newFakeSensor()
	f.writeErr[protocol.OpStartMeasurement] = errBus
	s, _ := newTestSession(t, f)

	_, err := s.Measure(context.Background(), 4)
	require.Error(t, err)
	assert.Equal(t, protocol.KindIO, protocol.KindOf(err))
	assert.True(t, errors.Is(err, errBus))
	assert.Equal(t, StateReset, s.State())
	assert.Equal(t, []protocol.Opcode{protocol.OpStartMeasurement}, f.ops())

	// the next call tries to start again
	delete(f.writeErr, protocol.OpStartMeasurement)
	_, err = s.Measure(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 2, f.count(protocol.OpStartMeasurement))
}

func TestMeasureChecksumMismatch(t *testing.T) {
	tests := []struct {
		name string
		op   protocol.Opcode
		ops  []protocol.Opcode
	}{
		{
			name: "data ready",
			op:   protocol.OpReadDataReady,
			ops:  []protocol.Opcode{protocol.OpStartMeasurement, protocol.OpReadDataReady},
		},
		{
			name: "data",
			op:   protocol.OpReadData,
			ops:  []protocol.Opcode{protocol.OpStartMeasurement, protocol.OpReadDataReady, protocol.OpReadData},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeSensor()
			f.corrupt[tt.op] = true
			s, _ := newTestSession(t, f)

			m, err := s.Measure(context.Background(), 4)
			require.Error(t, err)
			assert.True(t, errors.Is(err, protocol.ErrIntegrity))
			assert.Nil(t, m.Values)
			assert.Equal(t, tt.ops, f.ops())
			assert.Len(t, f.readSizes, len(tt.ops)-1)
		})
	}
}

func TestMeasureShortRead(t *testing.T) {
	f := newFakeSensor()
	f.short[protocol.OpReadData] = true
	s, _ := newTestSession(t, f)

	_, err := s.Measure(context.Background(), 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrIO))
	assert.Contains(t, err.Error(), protocol.InvalidDataLength)
}

func TestMeasureReadError(t *testing.T) {
	f := newFakeSensor()
	f.readErr[protocol.OpReadDataReady] = errBus
	s, _ := newTestSession(t, f)

	_, err := s.Measure(context.Background(), 1)
	assert.True(t, errors.Is(err, protocol.ErrIO))
	assert.True(t, errors.Is(err, errBus))
	assert.Equal(t, 1, f.count(protocol.OpReadDataReady))
}

func TestMeasureInvalidChannels(t *testing.T) {
	for _, channels := range []int{-1, 0, 5} {
		f := newFakeSensor()
		s, _ := newTestSession(t, f)

		_, err := s.Measure(context.Background(), channels)
		assert.True(t, errors.Is(err, protocol.ErrInvalidArgument))
		assert.Empty(t, f.ops())
	}
}

func TestReset(t *testing.T) {
	f := newFakeSensor()
	s, r := newTestSession(t, f)

	_, err := s.Measure(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StateMeasuring, s.State())

	require.NoError(t, s.Reset())
	assert.Equal(t, StateReset, s.State())
	assert.Equal(t, []protocol.Opcode{protocol.OpReset, protocol.OpStopMeasurement}, f.ops()[3:])
	assert.Equal(t, []time.Duration{300 * time.Millisecond}, r.recorded())
}

func TestResetIgnoresRecoveryFailure(t *testing.T) {
	f := newFakeSensor()
	f.writeErr[protocol.OpStopMeasurement] = errBus
	s, _ := newTestSession(t, f)

	assert.NoError(t, s.Reset())
	assert.Equal(t, StateReset, s.State())
}

func TestResetFailure(t *testing.T) {
	f := newFakeSensor()
	s, r := newTestSession(t, f)

	_, err := s.Measure(context.Background(), 1)
	require.NoError(t, err)

	f.writeErr[protocol.OpReset] = errBus
	err = s.Reset()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBus))
	assert.Equal(t, StateReset, s.State())
	assert.Equal(t, 1, f.count(protocol.OpStopMeasurement))
	assert.Len(t, r.recorded(), 1)
}

func TestSerialNumber(t *testing.T) {
	f := newFakeSensor()
	s, _ := newTestSession(t, f)

	serial, err := s.SerialNumber()
	require.NoError(t, err)
	assert.Equal(t, "3A1B2C3D4E5F6071", serial)
	assert.Equal(t, []int{protocol.MaxReadSize}, f.readSizes)
}

func TestSerialNumberChecksumMismatch(t *testing.T) {
	f := newFakeSensor()
	f.corrupt[protocol.OpReadSerial] = true
	s, _ := newTestSession(t, f)

	_, err := s.SerialNumber()
	assert.True(t, errors.Is(err, protocol.ErrIntegrity))
}

func TestInit(t *testing.T) {
	f := newFakeSensor()
	s, _ := newTestSession(t, f)

	serial, err := s.Init()
	require.NoError(t, err)
	assert.True(t, tools.In(serial, "3A1B2C3D4E5F6071"))
	assert.Equal(t, []protocol.Opcode{protocol.OpReset, protocol.OpStopMeasurement, protocol.OpReadSerial}, f.ops())
}

func TestInitResetFailure(t *testing.T) {
	f := newFakeSensor()
	f.writeErr[protocol.OpReset] = errBus
	s, _ := newTestSession(t, f)

	_, err := s.Init()
	assert.True(t, errors.Is(err, protocol.ErrIO))
	assert.Equal(t, 0, f.count(protocol.OpReadSerial))
}

func TestClose(t *testing.T) {
	f := newFakeSensor()
	f.writeErr[protocol.OpStopMeasurement] = errBus
	s, _ := newTestSession(t, f)

	_, err := s.Measure(context.Background(), 1)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.True(t, f.closed)
	assert.Equal(t, StateReset, s.State())
	assert.Equal(t, protocol.OpStopMeasurement, f.ops()[len(f.ops())-1])
}

// TestConcurrentOperations checks that measurements and cleaning period
// writes from different goroutines never interleave on the bus.
func TestConcurrentOperations(t *testing.T) {
	f := newFakeSensor()
	s, _ := newTestSession(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := s.Measure(context.Background(), 4)
				assert.NoError(t, err)
			}
		}()
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_, err := s.SetCleaningPeriod(i*1000 + j)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	letters := map[protocol.Opcode]string{
		protocol.OpStartMeasurement: "S",
		protocol.OpReadDataReady:    "D",
		protocol.OpReadData:         "R",
		protocol.OpCleaningPeriod:   "W",
		protocol.OpReset:            "X",
		protocol.OpStopMeasurement:  "P",
	}

	var seq strings.Builder
	for _, op := range f.ops() {
		seq.WriteString(letters[op])
	}

	assert.Regexp(t, regexp.MustCompile(`^(S?DR|WXP)+$`), seq.String())
	assert.Equal(t, 80, f.count(protocol.OpReadData))
	assert.Equal(t, 40, f.count(protocol.OpCleaningPeriod))
}
