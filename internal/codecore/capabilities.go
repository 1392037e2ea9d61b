package codecore

import (
	"log/slog"

	"github.com/codecbridge/webcodecs/internal/backend"
	"github.com/codecbridge/webcodecs/internal/codecerr"
)

// ActiveState bundles the type-specific slots spec.md §3.1 assigns to a
// codec instance: the last successfully applied configuration, the decoder
// config last emitted in encoder metadata (used to deduplicate per
// invariant 4), and the orientation lock (video encoders only). Concrete
// types vary per codec kind, so these are carried as `any` and type-asserted
// by the owning Capabilities implementation — the core never inspects them.
type ActiveState struct {
	Config       any
	OutputConfig any
	Orientation  any
}

// Capabilities is the per-codec-kind strategy bundle spec.md's Design Notes
// call for: "a generic codec core parameterized over a capability bundle:
// {validate-input, derive-output-metadata, backend-factory}". One
// implementation exists per concrete type (VideoEncoder, VideoDecoder,
// AudioEncoder, AudioDecoder); Instance holds exactly one and never
// branches on codec kind itself.
type Capabilities interface {
	// Kind names the codec type for logs and the resource manager
	// ("video-encoder", "video-decoder", "audio-encoder", "audio-decoder").
	Kind() string

	// FatalErrorKind is the codecerr.Kind a backend-reported fatal error
	// maps to: KindEncoding for the two encoders, KindDecoding for the two
	// decoders (spec.md §7).
	FatalErrorKind() codecerr.Kind

	// ValidateConfig performs the structural validation spec.md §6.2
	// requires before a Configure control message is enqueued.
	ValidateConfig(config any) error

	// Accept validates and clones one input (frame or chunk) at the API
	// boundary, before queue_size is incremented and the control message
	// is enqueued (spec.md §4.2, §4.3, §4.4). It both type-checks
	// detachment/orientation/key-first requirements and performs the
	// invariant-7 clone, updating active.Orientation on first accept for
	// video encoders. A non-nil error must already be a *codecerr.CodecError
	// with the correct Kind.
	Accept(instanceID string, active *ActiveState, input any, options any) (cloned any, err error)

	// NewBackend constructs the Codec Backend for this instance when the
	// first ConfigureBackend work item runs (spec.md §6.3).
	NewBackend(logger *slog.Logger, config any) (backend.Backend, error)

	// DeriveOutput turns one backend.Output into a host-facing chunk or
	// frame plus its metadata, updating active.OutputConfig when the
	// derived decoder config changes (spec.md §4.3 metadata derivation,
	// invariant 4). Decoders return nil metadata.
	DeriveOutput(active *ActiveState, out backend.Output) (output any, metadata any)
}
