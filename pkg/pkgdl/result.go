package pkgdl

import (
	"errors"
	"fmt"

	"github.com/oma-lwm2m/pkgdl/pkg/dwl"
)

// ResultKind is the closed set of update-results the core persists
// and maps onto a download-end errorCode (spec §4.1, §7). Mirrors the
// teacher's SDOAbortCode: a small integer enum, a description table,
// and a String() method.
type ResultKind uint8

const (
	ResultNormal ResultKind = iota
	ResultNoStorageSpace
	ResultOutOfMemory
	ResultVerifyError
	ResultUnsupportedPkgType
	ResultInvalidURI
	ResultCommunicationError
	ResultUnsupportedProtocol
)

var resultDescriptions = map[ResultKind]string{
	ResultNormal:              "default-normal",
	ResultNoStorageSpace:      "no-storage-space",
	ResultOutOfMemory:         "out-of-memory",
	ResultVerifyError:         "verify-error",
	ResultUnsupportedPkgType:  "unsupported-pkg-type",
	ResultInvalidURI:          "invalid-uri",
	ResultCommunicationError:  "communication-error",
	ResultUnsupportedProtocol: "unsupported-protocol",
}

func (r ResultKind) String() string {
	if d, ok := resultDescriptions[r]; ok {
		return d
	}
	return "unknown-result"
}

// errorCode is the download-end wire value for each ResultKind (spec
// §4.1 mapping table).
func (r ResultKind) errorCode() string {
	switch r {
	case ResultNormal:
		return ""
	case ResultNoStorageSpace, ResultOutOfMemory:
		return "insufficient-memory"
	case ResultVerifyError:
		return "failed-validation"
	case ResultUnsupportedPkgType:
		return "unsupported-package"
	case ResultInvalidURI:
		return "invalid-uri"
	default:
		return "alternate-download-error"
	}
}

// Fault is the error type Run and ReceiveData return once a run has
// aborted. Kind classifies the failure for callers that want to
// branch on it without string matching; Reason is human-readable;
// Cause, when set, is the wrapped underlying error.
type Fault struct {
	Kind   ResultKind
	Reason string
	Cause  error
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("pkgdl: %s: %s: %v", f.Kind, f.Reason, f.Cause)
	}
	return fmt.Sprintf("pkgdl: %s: %s", f.Kind, f.Reason)
}

func (f *Fault) Unwrap() error { return f.Cause }

func fault(kind ResultKind, reason string, cause error) *Fault {
	return &Fault{Kind: kind, Reason: reason, Cause: cause}
}

// Sentinel errors a host callback can wrap (with fmt.Errorf("...: %w",
// ErrInvalidURI) or errors.Join) to steer which ResultKind a callback
// failure maps onto, instead of every callback error collapsing onto
// communication-error (spec §7).
var (
	ErrInvalidURI          = errors.New("pkgdl: invalid uri")
	ErrUnsupportedProtocol = errors.New("pkgdl: unsupported protocol")
	ErrNoStorageSpace      = errors.New("pkgdl: no storage space")
	ErrOutOfMemory         = errors.New("pkgdl: out of memory")
)

// classifyCallbackError maps a plain callback error onto a ResultKind,
// recognizing the sentinels above and defaulting to
// ResultCommunicationError otherwise (spec §7 "communication-error:
// callback returns fault").
func classifyCallbackError(err error) ResultKind {
	switch {
	case errors.Is(err, ErrInvalidURI):
		return ResultInvalidURI
	case errors.Is(err, ErrUnsupportedProtocol):
		return ResultUnsupportedProtocol
	case errors.Is(err, ErrNoStorageSpace):
		return ResultNoStorageSpace
	case errors.Is(err, ErrOutOfMemory):
		return ResultOutOfMemory
	default:
		return ResultCommunicationError
	}
}

// missingCallback reports a pre-flight configuration error (spec §9:
// "Required members must be checked at entry; treat a missing member
// as a programmer error distinct from a runtime fault"). It is never
// wrapped in a Fault: callers must distinguish it with errors.Is from
// anything the machine itself can raise mid-run.
var errMissingCallback = errors.New("pkgdl: required callback not set")

func missingCallback(name string) error {
	return fmt.Errorf("%w: %s", errMissingCallback, name)
}

// resultForDWLFault maps a pkg/dwl.Fault (raised by the parser) onto
// the DSM's own result taxonomy (spec §7: unsupported-pkg-type,
// verify-error and communication-error all originate in the parser or
// the stream buffer it drives).
func resultForDWLFault(f *dwl.Fault) ResultKind {
	switch f.Kind {
	case dwl.FaultUnsupportedPkgType:
		return ResultUnsupportedPkgType
	case dwl.FaultVerifyError:
		return ResultVerifyError
	default:
		return ResultCommunicationError
	}
}
