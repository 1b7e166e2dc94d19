// Package errs defines the error values shared by every urlstate package.
//
// Callers match failures with errors.Is against the sentinels below. Where a
// failure carries data the caller needs (which dictionary a link expects, how
// far over budget a state is) a typed error is returned; each typed error
// matches its sentinel through errors.Is and can be unpacked with errors.As.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Dictionary errors.
var (
	// ErrDictionaryIntegrity reports a malformed or ambiguous dictionary. It is fatal:
	// no encode or decode is attempted with such a dictionary.
	ErrDictionaryIntegrity = errors.New("dictionary integrity violation")
	// ErrDictionaryNotFound reports that a resolver has no dictionary for the requested id and version.
	ErrDictionaryNotFound = errors.New("dictionary not found")
	// ErrDictionaryMismatch reports a fragment that references a dictionary the current content pack lacks.
	ErrDictionaryMismatch = errors.New("fragment was encoded for a different dictionary")
)

// Envelope and payload errors.
var (
	// ErrFrame reports an unknown format version or a corrupt alphabet/payload in a fragment.
	ErrFrame = errors.New("invalid fragment envelope")
	// ErrCorruptPayload reports a payload that framed cleanly but fails decompression,
	// checksum verification or detokenization.
	ErrCorruptPayload = errors.New("corrupt fragment payload")
	// ErrPayloadTooLarge reports a payload that decompresses beyond the configured ceiling.
	ErrPayloadTooLarge = errors.New("decompressed payload exceeds limit")
)

// State errors.
var (
	// ErrCorruptState reports canonical state text that cannot be reconstructed.
	ErrCorruptState = errors.New("corrupt canonical state")
	// ErrSchemaDrift marks a non-fatal warning: unknown fields were ignored during reconstruction.
	ErrSchemaDrift = errors.New("canonical state contains unknown fields")
	// ErrUnknownSetting reports a settings key that the active schema does not pin.
	ErrUnknownSetting = errors.New("unknown settings key")
	// ErrInvalidSetting reports a settings value that cannot be canonicalized.
	ErrInvalidSetting = errors.New("invalid settings value")
	// ErrInvalidPlan reports an essay plan whose arena is not a forest
	// (duplicate ids, dangling parents or cycles).
	ErrInvalidPlan = errors.New("invalid essay plan")
	// ErrInvalidMessage reports a chat turn with an unsupported role.
	ErrInvalidMessage = errors.New("invalid chat message")
	// ErrStateTooLarge reports that the overflow policy could not bring the fragment under budget.
	ErrStateTooLarge = errors.New("state too large for fragment budget")
)

// Configuration errors.
var (
	// ErrInvalidConfig reports a configuration value out of range.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrSchedulerClosed reports a call on a scheduler whose loop has exited.
	ErrSchedulerClosed = errors.New("scheduler is not running")
)

// FrameError describes why a fragment was rejected before any payload was decoded.
type FrameError struct {
	Reason string
	Err    error
}

// NewFrameError creates a FrameError with a formatted reason.
func NewFrameError(format string, args ...any) *FrameError {
	return &FrameError{Reason: fmt.Sprintf(format, args...)}
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrFrame.Error(), e.Reason, e.Err)
	}

	return fmt.Sprintf("%s: %s", ErrFrame.Error(), e.Reason)
}

// Unwrap returns the underlying cause, if any.
func (e *FrameError) Unwrap() error { return e.Err }

// Is matches ErrFrame.
func (e *FrameError) Is(target error) bool { return target == ErrFrame }

// DictionaryMismatchError carries the dictionary identity a fragment was encoded with.
type DictionaryMismatchError struct {
	// WantID and WantVersion are the identity recorded in the fragment.
	WantID      string
	WantVersion uint64
	// HaveID is the content pack the decoder is bound to.
	HaveID string
}

func (e *DictionaryMismatchError) Error() string {
	return fmt.Sprintf("%s: link needs %s v%d, current content pack is %s",
		ErrDictionaryMismatch.Error(), e.WantID, e.WantVersion, e.HaveID)
}

// Is matches ErrDictionaryMismatch.
func (e *DictionaryMismatchError) Is(target error) bool { return target == ErrDictionaryMismatch }

// StateTooLargeError reports the smallest fragment the overflow policy could produce.
type StateTooLargeError struct {
	Size    int      // length of the last attempted fragment
	Budget  int      // configured ceiling
	Applied []string // degradation steps that were applied before giving up
}

func (e *StateTooLargeError) Error() string {
	if len(e.Applied) == 0 {
		return fmt.Sprintf("%s: %d > %d", ErrStateTooLarge.Error(), e.Size, e.Budget)
	}

	return fmt.Sprintf("%s: %d > %d after %s",
		ErrStateTooLarge.Error(), e.Size, e.Budget, strings.Join(e.Applied, ", "))
}

// Is matches ErrStateTooLarge.
func (e *StateTooLargeError) Is(target error) bool { return target == ErrStateTooLarge }

// SchemaDriftWarning lists the element paths that reconstruction ignored.
// It is returned as a value next to a successful result, never as the failure of a call.
type SchemaDriftWarning struct {
	Paths []string
}

func (w SchemaDriftWarning) Error() string {
	return fmt.Sprintf("%s: %s", ErrSchemaDrift.Error(), strings.Join(w.Paths, ", "))
}

// Is matches ErrSchemaDrift.
func (w SchemaDriftWarning) Is(target error) bool { return target == ErrSchemaDrift }
