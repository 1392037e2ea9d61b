// Package videodecoder implements the VideoDecoder codec instance (spec.md
// §4.4).
package videodecoder

import (
	"log/slog"
	"time"

	"github.com/codecbridge/webcodecs/internal/backend"
	"github.com/codecbridge/webcodecs/internal/codecerr"
	"github.com/codecbridge/webcodecs/internal/codecore"
	"github.com/codecbridge/webcodecs/internal/media"
)

// BackendFactory constructs the Codec Backend for a given applied config.
type BackendFactory func(logger *slog.Logger, config *media.VideoDecoderConfig) (backend.Backend, error)

// Decoder is a VideoDecoder instance.
type Decoder struct {
	*codecore.Instance
}

// Options configures a new Decoder.
type Options struct {
	ID         string
	GroupID    string
	Logger     *slog.Logger
	Factory    BackendFactory
	OnOutput   func(frame *media.VideoFrame)
	OnError    codecore.ErrorCallback
	OnDequeue  codecore.DequeueCallback
	OnActivity codecore.ActivityCallback
}

// New constructs a VideoDecoder in the unconfigured state.
func New(opts Options) (*Decoder, error) {
	if opts.OnOutput == nil {
		return nil, codecerr.New(codecerr.KindType, opts.ID, "output callback is required")
	}
	caps := &capabilities{factory: opts.Factory}
	inst, err := codecore.New(codecore.Options{
		ID:           opts.ID,
		GroupID:      opts.GroupID,
		Capabilities: caps,
		Logger:       opts.Logger,
		OnOutput: func(output any, _ any) {
			frame, _ := output.(*media.VideoFrame)
			opts.OnOutput(frame)
		},
		OnError:    opts.OnError,
		OnDequeue:  opts.OnDequeue,
		OnActivity: opts.OnActivity,
	})
	if err != nil {
		return nil, err
	}
	return &Decoder{Instance: inst}, nil
}

// Configure applies a new decoder configuration.
func (d *Decoder) Configure(config *media.VideoDecoderConfig) error {
	return d.Instance.Configure(config)
}

// Decode queues one encoded chunk for decoding.
func (d *Decoder) Decode(chunk *media.EncodedVideoChunk) error {
	return d.Instance.SubmitInput(chunk, nil)
}

type capabilities struct {
	factory BackendFactory
}

func (c *capabilities) Kind() string { return "video-decoder" }

func (c *capabilities) FatalErrorKind() codecerr.Kind { return codecerr.KindDecoding }

func (c *capabilities) ValidateConfig(config any) error {
	cfg, ok := config.(*media.VideoDecoderConfig)
	if !ok || cfg == nil {
		return codecerr.New(codecerr.KindType, "", "configure requires a *media.VideoDecoderConfig")
	}
	return cfg.Validate()
}

func (c *capabilities) Accept(instanceID string, active *codecore.ActiveState, input any, _ any) (any, error) {
	chunk, ok := input.(*media.EncodedVideoChunk)
	if !ok || chunk == nil {
		return nil, codecerr.New(codecerr.KindType, instanceID, "decode requires a *media.EncodedVideoChunk")
	}
	if chunk.Detached() {
		return nil, codecerr.New(codecerr.KindType, instanceID, "decode: chunk is already detached")
	}

	_, sawFirst := active.OutputConfig.(firstChunkSeen)
	if !sawFirst && chunk.Type != media.ChunkKey {
		return nil, codecerr.New(codecerr.KindData, instanceID, "decode: first chunk after configure must be a key chunk")
	}
	active.OutputConfig = firstChunkSeen{}

	if !chunk.Detach() {
		return nil, codecerr.New(codecerr.KindType, instanceID, "decode: chunk was concurrently detached")
	}
	clone := &media.EncodedVideoChunk{
		Type:      chunk.Type,
		Data:      append([]byte(nil), chunk.Data...),
		Timestamp: chunk.Timestamp,
		Duration:  chunk.Duration,
	}
	return clone, nil
}

// firstChunkSeen is a sentinel stashed in active.OutputConfig; video
// decoders do not dedupe a derived config the way encoders do, so this slot
// is repurposed to track the key-frame-first invariant across configure
// calls (spec.md §4.4 edge case).
type firstChunkSeen struct{}

func (c *capabilities) NewBackend(logger *slog.Logger, config any) (backend.Backend, error) {
	cfg, ok := config.(*media.VideoDecoderConfig)
	if !ok {
		return nil, codecerr.New(codecerr.KindType, "", "configure requires a *media.VideoDecoderConfig")
	}
	if c.factory == nil {
		return nil, codecerr.New(codecerr.KindNotSupported, "", "no backend factory configured for video-decoder")
	}
	return c.factory(logger, cfg)
}

func (c *capabilities) DeriveOutput(_ *codecore.ActiveState, out backend.Output) (any, any) {
	frame := media.NewVideoFrame(
		out.Data,
		time.Duration(out.PresentationTimestamp)*time.Microsecond,
		time.Duration(out.Duration)*time.Microsecond,
		0, 0, 0, 0,
		media.Orientation{},
	)
	return frame, nil
}
