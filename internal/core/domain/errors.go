// Package domain defines the core domain models for SeqMesh.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain error with a structured error code.
//
// Codes have the form SM-<AREA>-<NNNN>. Two DomainErrors are considered
// equal by errors.Is when their codes match, so sentinel values below can be
// compared against errors decorated with WithDetails or WithCause.
type DomainError struct {
	Code    string // Error code (e.g., "SM-STORE-5030")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithDetailsf is WithDetails with fmt.Sprintf formatting.
func (e *DomainError) WithDetailsf(format string, args ...any) *DomainError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Store Errors (STORE)
// ============================================================================

var (
	// ErrStoreUnavailable indicates the shared store could not be reached,
	// was closed, or did not answer before the deadline.
	ErrStoreUnavailable = NewDomainError("SM-STORE-5030", "store unavailable")

	// ErrCorruptStore indicates an entry that must exist after provisioning
	// (the creation time) is missing or unreadable.
	ErrCorruptStore = NewDomainError("SM-STORE-5001", "corrupt store")
)

// ============================================================================
// Cluster Errors (CLUS)
// ============================================================================

var (
	// ErrNotLeader indicates a cluster operation reached a node that is not
	// the Raft leader. Details carry the leader's serve address when known.
	ErrNotLeader = NewDomainError("SM-CLUS-5031", "not the cluster leader")
)

// ============================================================================
// Configuration Errors (CONF)
// ============================================================================

var (
	// ErrConfiguration indicates a construction-time failure. It is not
	// recoverable by retrying.
	ErrConfiguration = NewDomainError("SM-CONF-5000", "configuration error")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("SM-ARG-1001", "invalid argument")

	// ErrSeqNumOutOfRange indicates a sequence number outside [MinSeqNum, MaxSeqNum].
	ErrSeqNumOutOfRange = NewDomainError("SM-ARG-1002", "sequence number out of range")
)

// knownErrors indexes the sentinels by code so that errors received over the
// wire can be mapped back to their sentinel.
var knownErrors = map[string]*DomainError{
	ErrStoreUnavailable.Code: ErrStoreUnavailable,
	ErrCorruptStore.Code:     ErrCorruptStore,
	ErrNotLeader.Code:        ErrNotLeader,
	ErrConfiguration.Code:    ErrConfiguration,
	ErrInvalidArgument.Code:  ErrInvalidArgument,
	ErrSeqNumOutOfRange.Code: ErrSeqNumOutOfRange,
}

// LookupError returns the sentinel registered for code.
func LookupError(code string) (*DomainError, bool) {
	e, ok := knownErrors[code]
	return e, ok
}

// IsUnavailable reports whether err means the store could not serve the call.
// A request that reached a non-leader cluster node counts as unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrNotLeader)
}

// IsCorrupt reports whether err is ErrCorruptStore.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorruptStore)
}
