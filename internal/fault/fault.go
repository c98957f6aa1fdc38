// internal/fault/fault.go
package fault

import (
	"errors"
	"fmt"
	"net"
	"os"
)

// Category discriminates device errors independently of their message text.
type Category uint8

const (
	Unknown Category = iota
	Connect
	Timeout
	Malformed
	Busy
	IO
	Invalid
)

func (c Category) String() string {
	switch c {
	case Connect:
		return "connect"
	case Timeout:
		return "timeout"
	case Malformed:
		return "malformed"
	case Busy:
		return "busy"
	case IO:
		return "io"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Code is the register-friendly code of the category.
// 0 is reserved for "no error".
func (c Category) Code() uint16 { return uint16(c) + 1 }

// Error is a categorized device error.
// Op names the failing step ("fms connect", "mks read", ...).
type Error struct {
	Cat Category
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Cat)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Code exposes the category code to status consumers.
func (e *Error) Code() uint16 { return e.Cat.Code() }

// New builds a categorized error from a message.
func New(cat Category, op, msg string) error {
	return &Error{Cat: cat, Op: op, Err: errors.New(msg)}
}

// Wrap categorizes err. Returns nil when err is nil.
func Wrap(cat Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Cat: cat, Op: op, Err: err}
}

// FromNet categorizes a transport error: deadline expiry becomes Timeout,
// everything else falls back to cat.
func FromNet(cat Category, op string, err error) error {
	if err == nil {
		return nil
	}
	if IsTimeout(err) {
		return &Error{Cat: Timeout, Op: op, Err: err}
	}
	return &Error{Cat: cat, Op: op, Err: err}
}

// IsTimeout reports whether err is a deadline/timeout error.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// CategoryOf returns the category of the outermost *Error in err's chain.
func CategoryOf(err error) Category {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Cat
	}
	return Unknown
}

// Is reports whether err carries category cat.
func Is(err error, cat Category) bool {
	return err != nil && CategoryOf(err) == cat
}
