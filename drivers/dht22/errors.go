package dht22

import (
	"errors"
	"strconv"
)

// Kind classifies why a Read produced no Reading.
type Kind uint8

const (
	KindTimeout  Kind = iota + 1 // a pulse did not flip within 255 µs
	KindIO                       // the pin failed to read or drive
	KindChecksum                 // frame sampled but failed validation
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindIO:
		return "io"
	case KindChecksum:
		return "checksum"
	default:
		return "unknown"
	}
}

// Error is the closed error type returned by Read and Decode.
//
// For KindIO, Err holds the pin's native error; errors.As and IOCause reach
// it without this package knowing the concrete pin type. For KindChecksum,
// Actual is the computed sum of bytes 0..3 and Expected is the received
// checksum byte.
type Error struct {
	Kind     Kind
	Err      error
	Actual   uint8
	Expected uint8
}

// ErrTimeout is the single timeout value; errors.Is(err, ErrTimeout) matches.
var ErrTimeout error = &Error{Kind: KindTimeout}

func ioError(err error) error { return &Error{Kind: KindIO, Err: err} }

func checksumError(actual, expected uint8) error {
	return &Error{Kind: KindChecksum, Actual: actual, Expected: expected}
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTimeout:
		return "dht22: timeout"
	case KindIO:
		if e.Err == nil {
			return "dht22: io error"
		}
		return "dht22: io error: " + e.Err.Error()
	case KindChecksum:
		return "dht22: checksum mismatch: actual " + strconv.Itoa(int(e.Actual)) +
			", expected " + strconv.Itoa(int(e.Expected))
	default:
		return "dht22: error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTimeout) hold for every timeout value.
func (e *Error) Is(target error) bool {
	return target == ErrTimeout && e.Kind == KindTimeout
}

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsTimeout reports whether err is a DHT22 timeout.
func IsTimeout(err error) bool { return kindOf(err) == KindTimeout }

// IsIO reports whether err wraps a pin failure.
func IsIO(err error) bool { return kindOf(err) == KindIO }

// IsChecksum reports whether err is a checksum mismatch.
func IsChecksum(err error) bool { return kindOf(err) == KindChecksum }

// IOCause extracts the pin's native error of type E from an I/O failure.
func IOCause[E error](err error) (E, bool) {
	var zero E
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindIO || e.Err == nil {
		return zero, false
	}
	var cause E
	if errors.As(e.Err, &cause) {
		return cause, true
	}
	return zero, false
}
