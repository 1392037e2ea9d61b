// Package codecerr defines the error taxonomy shared by every codec
// instance (spec.md §7). Each Kind maps to a stable, host-idiomatic wire
// name so an embedder can re-surface it the way a browser would surface a
// DOMException name.
package codecerr

import "fmt"

// Kind names one of the seven error categories spec.md §7 defines.
type Kind string

const (
	// KindType: detached input, missing required callbacks, structurally
	// invalid config.
	KindType Kind = "type"
	// KindInvalidState: API call on closed, encode/decode on unconfigured,
	// reset on closed.
	KindInvalidState Kind = "invalid-state"
	// KindNotSupported: config the backend declines at configure time.
	KindNotSupported Kind = "not-supported"
	// KindData: first non-key chunk after decoder configure, orientation
	// mismatch on a video encoder.
	KindData Kind = "data"
	// KindEncoding: backend-reported fatal error during encoder
	// input/output processing.
	KindEncoding Kind = "encoding"
	// KindDecoding: backend-reported fatal error during decoder
	// input/output processing.
	KindDecoding Kind = "decoding"
	// KindAbort: flush waiter rejected by a concurrent reset or close.
	KindAbort Kind = "abort"
	// KindQuotaExceeded: resource-manager reclamation.
	KindQuotaExceeded Kind = "quota-exceeded"
)

// wireName returns the DOMException-style name a host binding would use.
func (k Kind) wireName() string {
	switch k {
	case KindType:
		return "TypeError"
	case KindInvalidState:
		return "InvalidStateError"
	case KindNotSupported:
		return "NotSupportedError"
	case KindData:
		return "EncodingError" // data errors surface through the same DOM name as backend failures
	case KindEncoding:
		return "EncodingError"
	case KindDecoding:
		return "EncodingError"
	case KindAbort:
		return "AbortError"
	case KindQuotaExceeded:
		return "QuotaExceededError"
	default:
		return "Error"
	}
}

// CodecError is the error type every codec-core failure path returns.
type CodecError struct {
	Kind       Kind
	InstanceID string
	Message    string
	Cause      error
}

// New builds a CodecError with no wrapped cause.
func New(kind Kind, instanceID, message string) *CodecError {
	return &CodecError{Kind: kind, InstanceID: instanceID, Message: message}
}

// Wrap builds a CodecError that wraps an underlying cause (typically a
// *backend.Error reported by the Codec Backend).
func Wrap(kind Kind, instanceID, message string, cause error) *CodecError {
	return &CodecError{Kind: kind, InstanceID: instanceID, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *CodecError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s) [instance=%s]: %s: %v", e.Kind.wireName(), e.Kind, e.InstanceID, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s) [instance=%s]: %s", e.Kind.wireName(), e.Kind, e.InstanceID, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *CodecError) Unwrap() error {
	return e.Cause
}

// WireName returns the DOMException-style name for this error's kind.
func (e *CodecError) WireName() string {
	return e.Kind.wireName()
}

// IsKind reports whether err, or any error in its Unwrap chain, is a
// *CodecError of the given kind, so callers can write
// IsKind(err, codecerr.KindAbort) where errors.Is would need a sentinel.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if c, ok := err.(*CodecError); ok && c != nil && c.Kind == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
