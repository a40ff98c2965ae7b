// Package hosterr defines the error-kind taxonomy used throughout the
// host-kernel integration core (spec §7): Kernel, NotFound, Invalid and
// Fatal. Callers classify errors with errors.Is against the sentinels
// below rather than inspecting error strings.
package hosterr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Wrap an underlying error with Wrap(kind, ...) and test
// with errors.Is(err, hosterr.NotFound) etc.
var (
	// Kernel marks a syscall or netlink error. The caller of the specific
	// mutator sees it; a reconciliation sweep continues past it.
	Kernel = errors.New("kernel operation failed")

	// NotFound marks an attempted delete of an object the kernel has
	// already purged (e.g. a race with link removal). Downgraded to a
	// warning by callers, never treated as a sweep-aborting failure.
	NotFound = errors.New("object not found")

	// Invalid marks malformed input, such as an unparsable address
	// reported by the kernel. The offending event is dropped.
	Invalid = errors.New("invalid input")

	// Fatal marks an error with no safe local recovery: the process
	// cannot allocate a netlink socket, cannot open /dev/net/tun, or the
	// cache-manager poll itself failed.
	Fatal = errors.New("fatal error")
)

// wrapped couples an underlying error to one of the sentinel kinds above
// so errors.Is/As work through fmt.Errorf("%w") chains.
type wrapped struct {
	kind error
	err  error
}

func (w *wrapped) Error() string {
	if w.err == nil {
		return w.kind.Error()
	}
	return fmt.Sprintf("%s: %s", w.kind, w.err)
}

func (w *wrapped) Unwrap() []error {
	return []error{w.kind, w.err}
}

// Wrap annotates err with kind (one of Kernel, NotFound, Invalid, Fatal).
// If err is nil, Wrap returns nil.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{kind: kind, err: err}
}

// Wrapf is Wrap applied to fmt.Errorf(format, args...), so a %w verb in
// format keeps the underlying error reachable through errors.Is/As.
func Wrapf(kind error, format string, args ...any) error {
	return Wrap(kind, fmt.Errorf(format, args...))
}

// IsNotFound reports whether err is, or wraps, NotFound.
func IsNotFound(err error) bool { return errors.Is(err, NotFound) }

// IsFatal reports whether err is, or wraps, Fatal.
func IsFatal(err error) bool { return errors.Is(err, Fatal) }
