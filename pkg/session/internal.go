package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/womat/debug"
	"github.com/womat/hm3301/pkg/protocol"
)

// request writes the command frame and, if the command is answered, reads
// the response and strips its checksums
func (s *Session) request(cmd protocol.Command) ([]byte, error) {
	op := cmd.String()
	frame := cmd.Frame()

	start := time.Now()
	debug.TraceLog.Printf("request %v: [% x]", op, frame)

	n, err := s.bus.Write(frame)
	if err != nil {
		debug.TraceLog.Printf("error to write bus: %v", err)
		return nil, protocol.IOError(op, errors.Wrap(err, "write"))
	}
	if n != len(frame) {
		return nil, protocol.IOError(op, errors.Errorf("short write: %d of %d bytes", n, len(frame)))
	}

	size := cmd.ResponseSize()
	if size == 0 {
		return nil, nil
	}

	response := make([]byte, size)
	if n, err = s.bus.Read(response); err != nil {
		debug.TraceLog.Printf("error to read bus: %v", err)
		return nil, protocol.IOError(op, errors.Wrap(err, "read"))
	}
	debug.TraceLog.Printf("response (%v bytes): [% x]", n, response[:n])
	if n != size {
		return nil, protocol.IOError(op, errors.Errorf("%s: read %d of %d bytes", protocol.InvalidDataLength, n, size))
	}

	data, err := protocol.Strip(response)
	if err != nil {
		debug.ErrorLog.Printf("%v: %v", op, err)
		return nil, err
	}

	debug.TraceLog.Printf("request runtime: %vms", time.Since(start).Milliseconds())
	return data, nil
}

// wait blocks for d unless ctx is done first
func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
