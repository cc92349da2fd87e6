package protocol

import (
	"github.com/pkg/errors"
)

const (
	InvalidChecksum   = "invalid checksum"
	InvalidDataLength = "wrong response data length"
	InvalidParameter  = "invalid parameter"
	NotReady          = "data not ready"
	Cancelled         = "wait cancelled"
)

// Kind classifies every error the driver returns.
type Kind int

const (
	// KindIO covers short writes/reads and transport failures.
	KindIO Kind = iota + 1
	// KindIntegrity is a checksum mismatch in a response group.
	KindIntegrity
	// KindTimeout is an exhausted (or cancelled) data-ready poll.
	KindTimeout
	// KindInvalidArgument is a value rejected before any bus activity.
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "i/o error"
	case KindIntegrity:
		return "data integrity check failed"
	case KindTimeout:
		return "timed out"
	case KindInvalidArgument:
		return "invalid argument"
	}
	return "unknown error"
}

// Error is returned by the codec and by every session operation.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	msg := "hm3301"
	if e.Op != "" {
		msg += "." + e.Op
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrIO              = &Error{Kind: KindIO}
	ErrIntegrity       = &Error{Kind: KindIntegrity}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
)

// KindOf returns the kind of err, or 0 if err was not produced by this driver.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IOError wraps a transport failure of op.
func IOError(op string, err error) error {
	return &Error{Op: op, Kind: KindIO, Err: err}
}

// InvalidArgumentError rejects value for op.
func InvalidArgumentError(op string, format string, args ...interface{}) error {
	return &Error{Op: op, Kind: KindInvalidArgument, Err: errors.Errorf(format, args...)}
}
