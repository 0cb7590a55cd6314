package parallel

import (
	"errors"
	"fmt"
)

// ErrWorkerFault marks scans aborted by a failing worker.
var ErrWorkerFault = errors.New("parallel worker fault")

// maxFaultDepth bounds DescribeFault's unwrapping.
const maxFaultDepth = 8

const unknownFault = "unknown fault"

// WorkerFaultError reports the worker that failed. It matches
// ErrWorkerFault.
type WorkerFaultError struct {
	Worker  int
	Message string
}

func (e *WorkerFaultError) Error() string {
	return fmt.Sprintf("worker %d: %s", e.Worker, e.Message)
}

func (e *WorkerFaultError) Unwrap() error {
	return ErrWorkerFault
}

// Fault wraps a value recovered from a worker panic.
type Fault struct {
	Worker  int
	Payload any
	Stack   []byte
}

func (f *Fault) Error() string {
	return DescribeFault(f.Payload)
}

// DescribeFault returns a displayable message for a recovered panic value.
// Wrappers are unwrapped until a non-empty message turns up; values that
// yield none within a bounded depth are reported as an unknown fault.
func DescribeFault(v any) string {
	return describeFault(v, 0)
}

func describeFault(v any, depth int) string {
	if depth >= maxFaultDepth {
		return unknownFault
	}
	switch f := v.(type) {
	case *Fault:
		if f == nil {
			return unknownFault
		}
		return describeFault(f.Payload, depth+1)
	case *WorkerFaultError:
		if f == nil || f.Message == "" {
			return unknownFault
		}
		return f.Message
	case string:
		if f != "" {
			return f
		}
	case error:
		if msg := f.Error(); msg != "" {
			return msg
		}
		if inner := errors.Unwrap(f); inner != nil {
			return describeFault(inner, depth+1)
		}
	case fmt.Stringer:
		if s := f.String(); s != "" {
			return s
		}
	}
	return unknownFault
}
