// Package backend defines the Codec Backend contract (spec.md §6.3): an
// opaque, single-threaded-per-instance native codec engine. This package
// treats the backend purely as the interface the core consumes; concrete
// implementations (an FFmpeg subprocess, or a remote process reached over
// gRPC) live in sibling packages.
package backend

import (
	"context"
	"errors"
)

// ErrorKind classifies a backend failure so the core can map it onto the
// right codecerr.Kind without this package importing codecerr (avoids a
// dependency cycle; codecore does the mapping).
type ErrorKind int

const (
	// ErrKindFatal: unrecoverable encoding/decoding failure.
	ErrKindFatal ErrorKind = iota
	// ErrKindNotSupported: configure() declined the given config.
	ErrKindNotSupported
	// ErrKindConfiguration: configure() rejected malformed parameters.
	ErrKindConfiguration
)

// Error is returned by Backend methods on failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// ErrSaturated is returned by SubmitInput when the backend cannot accept
// more input right now; the caller must retry after the next PollOutput.
var ErrSaturated = errors.New("backend saturated")

// Output is one unit the backend has finished producing: an encoded chunk
// (encoders) or a decoded frame (decoders), plus whatever side information
// DeriveOutput needs to build host-facing metadata.
type Output struct {
	// Data is the raw payload: compressed bitstream for an encoder output,
	// raw samples/pixels for a decoder output.
	Data []byte
	// IsKeyframe classifies encoder output as key vs delta (spec.md
	// "the core trusts the backend's classification of key vs delta
	// output", §1 Non-goals).
	IsKeyframe bool
	// Timestamp/Duration are copied from the originating input unless the
	// backend reports its own (e.g. reordered output timestamps).
	PresentationTimestamp int64 // microseconds
	Duration               int64 // microseconds
	// Extradata carries codec-specific out-of-band bytes (e.g. AVCC/HVCC
	// SPS/PPS) a decoder config derivation needs.
	Extradata []byte
	// AlphaSideData carries the alpha-channel bitstream when requested and
	// produced (video encoders with alpha:"keep").
	AlphaSideData []byte
	// TemporalLayerID is set when the backend is operating a multi-layer
	// scalability mode.
	TemporalLayerID int
}

// Backend is the opaque native codec engine a codec instance drives from
// its dedicated worker. Every method below is called strictly serially by
// that one worker (spec.md invariant 8: "at most one outstanding
// submit_input/poll_output/signal_eof/reset call per backend at any time").
// Backend implementations are not required to be goroutine-safe beyond
// that guarantee.
type Backend interface {
	// Configure applies a structurally-validated config. May fail with
	// ErrKindNotSupported or ErrKindConfiguration.
	Configure(ctx context.Context, config any) error

	// SubmitInput synchronously hands one input to the backend. Returns
	// ErrSaturated if the backend cannot accept more input until the next
	// PollOutput call drains some, or an *Error with ErrKindFatal on
	// unrecoverable failure.
	SubmitInput(ctx context.Context, input any, options any) error

	// PollOutput returns the next ready output, or (nil, nil) if none is
	// ready right now. Non-blocking.
	PollOutput(ctx context.Context) (*Output, error)

	// WouldSaturate is a cheap, non-authoritative predicate used to decide
	// whether to mark the instance saturated before the next SubmitInput
	// (spec.md §9 "Design Notes": saturation probe policy (b)). pending is
	// the number of inputs currently queued for this backend.
	WouldSaturate(pending int) bool

	// SignalEOF flushes the backend's internal pipeline; after this,
	// PollOutput eventually returns every remaining output.
	SignalEOF(ctx context.Context) error

	// Reset discards internal state but retains the last applied config.
	Reset(ctx context.Context) error

	// Close releases all system resources. Idempotent.
	Close() error
}
