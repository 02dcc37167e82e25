package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// configuration errors
	ErrConfig = errors.New("invalid configuration")
	ErrLocked = errors.New("another run holds the lock")

	// session errors
	ErrConnection    = errors.New("connection failed")
	ErrAuth          = errors.New("authentication rejected")
	ErrFolder        = errors.New("folder selection rejected")
	ErrFetch         = errors.New("fetch failed")
	ErrStore         = errors.New("flag store failed")
	ErrSessionClosed = errors.New("session is closed")
	ErrNotSelected   = errors.New("no folder selected")
)

// Kind classifies how far a fault is allowed to propagate.
type Kind int

const (
	KindUnknown Kind = iota
	// KindStartup aborts the run before any transfer and fails the process.
	KindStartup
	// KindPerMessage skips one message.
	KindPerMessage
	// KindPurge is logged; the tally is unaffected.
	KindPurge
	// KindInterrupt ends the run early; unprocessed messages stay in place.
	KindInterrupt
	// KindCleanup is logged and swallowed.
	KindCleanup
)

func (k Kind) String() string {
	switch k {
	case KindStartup:
		return "startup"
	case KindPerMessage:
		return "per-message"
	case KindPurge:
		return "purge"
	case KindInterrupt:
		return "interrupt"
	case KindCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}

// Fault is an error tagged with its Kind and the operation that raised it.
type Fault struct {
	Kind Kind
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s fault in %s", f.Kind, f.Op)
	}
	return fmt.Sprintf("%s fault in %s: %v", f.Kind, f.Op, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Cause lets errors.Cause walk through a Fault.
func (f *Fault) Cause() error { return f.Err }

func newFault(kind Kind, op string, err error) error {
	return &Fault{Kind: kind, Op: op, Err: err}
}

func Startup(op string, err error) error    { return newFault(KindStartup, op, err) }
func PerMessage(op string, err error) error { return newFault(KindPerMessage, op, err) }
func Purge(op string, err error) error      { return newFault(KindPurge, op, err) }
func Interrupt(op string, err error) error  { return newFault(KindInterrupt, op, err) }
func Cleanup(op string, err error) error    { return newFault(KindCleanup, op, err) }

// KindOf returns the Kind of the outermost Fault in err's chain.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnknown
}

func IsStartup(err error) bool   { return KindOf(err) == KindStartup }
func IsInterrupt(err error) bool { return KindOf(err) == KindInterrupt }
