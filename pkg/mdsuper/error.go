package mdsuper

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorClass is the closed error taxonomy of spec §7: a small set of
// categories the core must distinguish, independent of the underlying
// Go error type. Every operation that can fail in more than one of
// these ways wraps its error in an Error carrying the class, the way
// the teacher mixes github.com/pkg/errors stack-carrying wraps with
// plain fmt.Errorf("%w", ...) pass-through (pkg/vkern/manager-compound.go,
// pkg/vconvert/handler.go).
type ErrorClass int

const (
	// ClassConfig: bad user argument, bad config line, forbidden
	// combination.
	ClassConfig ErrorClass = iota
	// ClassTransientIO: EBUSY/EAGAIN on a device; retried with bounded
	// backoff before becoming terminal.
	ClassTransientIO
	// ClassPermanentIO: bad sector, unreadable device during load; the
	// disk is recorded failed but assembly may still proceed on quorum.
	ClassPermanentIO
	// ClassMetadataInvariant: checksum, signature, or attribute bits
	// outside SUPPORTED|IGNORED; the super is rejected as absent.
	ClassMetadataInvariant
	// ClassGeometry: the request does not fit platform or disk
	// constraints; create/reshape aborts before any metadata write.
	ClassGeometry
	// ClassKernelRPC: an ioctl returned an error code.
	ClassKernelRPC
	// ClassReshapeAbort: degradation exceeded tolerance, or the worker
	// was signalled; the last checkpoint remains on disk.
	ClassReshapeAbort
)

func (c ErrorClass) String() string {
	switch c {
	case ClassConfig:
		return "config"
	case ClassTransientIO:
		return "transient-io"
	case ClassPermanentIO:
		return "permanent-io"
	case ClassMetadataInvariant:
		return "metadata-invariant"
	case ClassGeometry:
		return "geometry"
	case ClassKernelRPC:
		return "kernel-rpc"
	case ClassReshapeAbort:
		return "reshape-abort"
	default:
		return "unknown"
	}
}

// Error is the core's wrapped error type: a class tag over an
// underlying cause. Classify and Is let upper layers branch on class
// without caring how deep the cause chain runs.
type Error struct {
	Class ErrorClass
	Op    string // operation that raised it, e.g. "load_super", "create"
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Class, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// Wrap tags err with class and op, attaching a stack trace via
// github.com/pkg/errors when err does not already carry one (matching
// the teacher's mixed stack-then-pass-through usage).
func Wrap(class ErrorClass, op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(stackTracer); !ok {
		err = errors.WithStack(err)
	}
	return &Error{Class: class, Op: op, cause: err}
}

// Errorf builds a new classed Error directly, with a stack trace.
func Errorf(class ErrorClass, op, format string, args ...interface{}) error {
	return &Error{Class: class, Op: op, cause: errors.WithStack(fmt.Errorf(format, args...))}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Classify extracts the ErrorClass from err, walking the Unwrap chain;
// the second return is false when no *Error is found anywhere in it.
func Classify(err error) (ErrorClass, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Class, true
	}
	return 0, false
}

// Is reports whether err's class (anywhere in its chain) equals class.
func Is(err error, class ErrorClass) bool {
	c, ok := Classify(err)
	return ok && c == class
}
