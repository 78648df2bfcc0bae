package tool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// Fault tags a handler error with a kind name used both for the
// model-visible "Error: <Kind>: <msg>" string and for retry
// classification. Handlers that know their failure mode wrap with
// Connection, Timeout or IO; anything untagged is classified by
// inspecting the error chain.
type Fault struct {
	Kind string
	Err  error
}

func (f *Fault) Error() string {
	return f.Err.Error()
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Transient fault kinds, retried by the registry.
const (
	KindConnection = "ConnectionError"
	KindTimeout    = "TimeoutError"
	KindOS         = "OSError"
)

// Connection marks err as a transient connection failure.
func Connection(err error) error {
	return &Fault{Kind: KindConnection, Err: err}
}

// Timeout marks err as a transient timeout.
func Timeout(err error) error {
	return &Fault{Kind: KindTimeout, Err: err}
}

// IO marks err as a transient OS-level I/O failure.
func IO(err error) error {
	return &Fault{Kind: KindOS, Err: err}
}

// Faultf builds a non-transient fault with an explicit kind.
func Faultf(kind, format string, args ...any) error {
	return &Fault{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// classify returns the kind name for err and whether it is transient.
func classify(err error) (string, bool) {
	var fault *Fault
	if errors.As(err, &fault) {
		switch fault.Kind {
		case KindConnection, KindTimeout, KindOS:
			return fault.Kind, true
		}
		return fault.Kind, false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout, true
		}
		return KindConnection, true
	}
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return KindOS, true
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return KindOS, true
	}
	return "ToolError", false
}

// formatError renders a handler failure as model-visible text.
func formatError(err error) string {
	kind, _ := classify(err)
	return fmt.Sprintf("Error: %s: %v", kind, err)
}
