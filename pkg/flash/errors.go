package flash

import (
	"errors"
	"fmt"
)

// Kind categorises everything that can go wrong during an operation. The
// filesystem and OS errors underneath are kept as the wrapped Err.
type Kind int

const (
	KindDeviceNotFound Kind = iota + 1
	KindMissingAsset
	KindVolumeNotWritable
	KindCopyVerificationFailed
	KindReenumerationFailed
	KindRuntimeNotConfirmed
	KindModeNotConfirmed
	KindPlatformUnsupported
	KindConcurrentOperation
)

func (k Kind) String() string {
	switch k {
	case KindDeviceNotFound:
		return "DeviceNotFound"
	case KindMissingAsset:
		return "MissingAsset"
	case KindVolumeNotWritable:
		return "VolumeNotWritable"
	case KindCopyVerificationFailed:
		return "CopyVerificationFailed"
	case KindReenumerationFailed:
		return "ReenumerationFailed"
	case KindRuntimeNotConfirmed:
		return "RuntimeNotConfirmed"
	case KindModeNotConfirmed:
		return "ModeNotConfirmed"
	case KindPlatformUnsupported:
		return "PlatformUnsupported"
	case KindConcurrentOperation:
		return "ConcurrentOperationRejected"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Soft reports whether the kind is a warning attached to a successful
// operation rather than a failure.
func (k Kind) Soft() bool {
	return k == KindRuntimeNotConfirmed || k == KindModeNotConfirmed
}

type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of detail.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrDeviceNotFound         = &Error{Kind: KindDeviceNotFound}
	ErrMissingAsset           = &Error{Kind: KindMissingAsset}
	ErrVolumeNotWritable      = &Error{Kind: KindVolumeNotWritable}
	ErrCopyVerificationFailed = &Error{Kind: KindCopyVerificationFailed}
	ErrReenumerationFailed    = &Error{Kind: KindReenumerationFailed}
	ErrRuntimeNotConfirmed    = &Error{Kind: KindRuntimeNotConfirmed}
	ErrModeNotConfirmed       = &Error{Kind: KindModeNotConfirmed}
	ErrPlatformUnsupported    = &Error{Kind: KindPlatformUnsupported}
	ErrConcurrentOperation    = &Error{Kind: KindConcurrentOperation}
)

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// NewError builds a categorised error for callers outside the sequencer,
// e.g. the CLI reporting a degraded volume probe.
func NewError(kind Kind, err error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// Exit codes of the command line tool.
const (
	ExitOK          = 0
	ExitValidation  = 1
	ExitCopy        = 2
	ExitSoftWarning = 3
)

// ExitCode maps an operation outcome to a process exit code. Errors that
// are not *Error count as validation failures.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var fe *Error
	if !errors.As(err, &fe) {
		return ExitValidation
	}
	switch fe.Kind {
	case KindRuntimeNotConfirmed, KindModeNotConfirmed:
		return ExitSoftWarning
	case KindVolumeNotWritable, KindCopyVerificationFailed, KindReenumerationFailed:
		return ExitCopy
	}
	return ExitValidation
}
