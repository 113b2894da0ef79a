package dwl

import (
	"fmt"

	"github.com/pkg/errors"
)

// FaultKind is the closed set of parser-level failure reasons (spec
// §7). Mirrors the teacher's SDOAbortCode pattern: a small integer
// enum with a description table and a String() method, so the
// downloader state machine can switch on Kind without string matching.
type FaultKind uint8

const (
	// FaultUnsupportedPkgType covers unknown magic, unknown/unaccepted
	// section tag, an out-of-order section, and an unsupported
	// upckType.
	FaultUnsupportedPkgType FaultKind = iota
	// FaultVerifyError covers CRC mismatch, SHA-1 verification
	// failure, and hash backend failures.
	FaultVerifyError
	// FaultCommunicationError covers reassembly buffer exhaustion and
	// other local stream-handling faults surfaced by the parser.
	FaultCommunicationError
)

var faultDescriptions = map[FaultKind]string{
	FaultUnsupportedPkgType: "unsupported package type",
	FaultVerifyError:        "package verification failed",
	FaultCommunicationError: "communication error",
}

func (k FaultKind) String() string {
	if d, ok := faultDescriptions[k]; ok {
		return d
	}
	return "unknown fault"
}

// Fault is the error type returned by Parser.Feed. Cause, when set,
// wraps the underlying error (a hash backend failure, a stream buffer
// overflow) with github.com/pkg/errors so the original error chain
// survives the closed-enum classification.
type Fault struct {
	Kind   FaultKind
	Reason string
	Cause  error
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("dwl: %s: %s: %v", f.Kind, f.Reason, f.Cause)
	}
	return fmt.Sprintf("dwl: %s: %s", f.Kind, f.Reason)
}

func (f *Fault) Unwrap() error {
	return f.Cause
}

func unsupported(reason string) *Fault {
	return &Fault{Kind: FaultUnsupportedPkgType, Reason: reason}
}

func verifyFailed(reason string, cause error) *Fault {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Fault{Kind: FaultVerifyError, Reason: reason, Cause: cause}
}

func commError(reason string, cause error) *Fault {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Fault{Kind: FaultCommunicationError, Reason: reason, Cause: cause}
}
