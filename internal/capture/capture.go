// Package capture reads the sensor periodically.
package capture

import (
	"context"
	"time"

	"github.com/womat/debug"
	"github.com/womat/hm3301/pkg/protocol"
	"github.com/womat/hm3301/pkg/session"
)

// Sensor is the part of a session the capturer needs.
type Sensor interface {
	Measure(ctx context.Context, channels int) (session.Measurement, error)
}

// Scan is one reading of all channels.
type Scan struct {
	Time   time.Time
	Values [protocol.Channels]protocol.Value
}

// Capturer reads all channels of a sensor at a fixed interval.
type Capturer struct {
	sensor Sensor

	// OnError is called for every failed read, if set.
	OnError func(error)
}

func New(sensor Sensor) *Capturer {
	return &Capturer{sensor: sensor}
}

// Run starts reading every interval until ctx is done. Failed reads are
// logged and skipped. The returned channel is closed when Run stops.
func (c *Capturer) Run(ctx context.Context, interval time.Duration) <-chan Scan {
	scans := make(chan Scan, 1)

	go func() {
		defer close(scans)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			scan, err := c.Read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				debug.WarningLog.Printf("skip scan: %v", err)
				if c.OnError != nil {
					c.OnError(err)
				}
				continue
			}

			select {
			case scans <- scan:
			case <-ctx.Done():
				return
			}
		}
	}()

	return scans
}

// Read takes a single scan.
func (c *Capturer) Read(ctx context.Context) (Scan, error) {
	m, err := c.sensor.Measure(ctx, protocol.Channels)
	if err != nil {
		return Scan{}, err
	}

	scan := Scan{Time: m.Time}
	copy(scan.Values[:], m.Values)
	debug.DebugLog.Printf("scan: pm1 %v, pm2.5 %v, pm4 %v, pm10 %v", scan.Values[0], scan.Values[1], scan.Values[2], scan.Values[3])
	return scan, nil
}
