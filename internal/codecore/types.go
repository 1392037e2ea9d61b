// Package codecore implements the codec processing model shared by all
// four WebCodecs instance types: the two-tier control-message/work-item
// queueing architecture, the unconfigured/configured/closed state machine,
// saturation backpressure, flush/reset/close semantics, and epoch-tagged
// cancellation (spec.md §2-§5, §9).
//
// The four concrete codec types (VideoEncoder, VideoDecoder, AudioEncoder,
// AudioDecoder) each provide a Capabilities implementation; this package
// supplies everything that is identical across all four (spec.md Design
// Notes: "model this as a generic codec core parameterized over a
// capability bundle").
package codecore

// ControlKind tags a ControlMessage's variant (spec.md §3.2).
type ControlKind int

const (
	ControlConfigure ControlKind = iota
	ControlInput
	ControlFlush
)

func (k ControlKind) String() string {
	switch k {
	case ControlConfigure:
		return "Configure"
	case ControlInput:
		return "Input"
	case ControlFlush:
		return "Flush"
	default:
		return "Unknown"
	}
}

// ControlMessage is a FIFO-ordered host-thread operation (spec.md §3.2).
// At most one of Config/Input is populated, depending on Kind; a flush
// message carries neither and sets WaiterID instead.
type ControlMessage struct {
	Kind     ControlKind
	Config   any // populated for ControlConfigure
	Input    any // populated for ControlInput (*media.VideoFrame, *media.AudioData, *media.EncodedVideoChunk, or *media.EncodedAudioChunk)
	Options  any // populated for ControlInput on encoders (media.VideoEncodeOptions); nil otherwise
	WaiterID string // populated for ControlFlush
}

// WorkKind tags a WorkItem's variant (spec.md §3.3).
type WorkKind int

const (
	WorkConfigureBackend WorkKind = iota
	WorkSubmitInput
	WorkDrain
	WorkShutdown
)

func (k WorkKind) String() string {
	switch k {
	case WorkConfigureBackend:
		return "ConfigureBackend"
	case WorkSubmitInput:
		return "SubmitInput"
	case WorkDrain:
		return "Drain"
	case WorkShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// WorkItem is a worker-thread operation derived from a ControlMessage
// (spec.md §3.3), tagged with the epoch it was dispatched under so a
// worker that is mid-flight when reset/close happens can have its result
// discarded by the host (spec.md §9 "Epoch-tagging for cancellation").
type WorkItem struct {
	Kind     WorkKind
	Config   any
	Input    any
	Options  any
	WaiterID string
	Epoch    uint64
}
