// Package videoencoder implements the VideoEncoder codec instance: the
// codecore.Capabilities bundle plus a thin typed facade over codecore.Instance
// (spec.md §4.3).
package videoencoder

import (
	"log/slog"
	"time"

	"github.com/codecbridge/webcodecs/internal/backend"
	"github.com/codecbridge/webcodecs/internal/codecerr"
	"github.com/codecbridge/webcodecs/internal/codecore"
	"github.com/codecbridge/webcodecs/internal/media"
)

// BackendFactory constructs the Codec Backend for a given applied config.
// The default, wired in cmd/webcodecsctl, drives an FFmpeg subprocess; tests
// substitute a fake.
type BackendFactory func(logger *slog.Logger, config *media.VideoEncoderConfig) (backend.Backend, error)

// Encoder is a VideoEncoder instance (spec.md §4.3).
type Encoder struct {
	*codecore.Instance
}

// Options configures a new Encoder.
type Options struct {
	ID         string
	GroupID    string
	Logger     *slog.Logger
	Factory    BackendFactory
	OnOutput   func(chunk *media.EncodedVideoChunk, metadata *media.EncodedVideoChunkMetadata)
	OnError    codecore.ErrorCallback
	OnDequeue  codecore.DequeueCallback
	OnActivity codecore.ActivityCallback
}

// New constructs a VideoEncoder in the unconfigured state.
func New(opts Options) (*Encoder, error) {
	if opts.OnOutput == nil {
		return nil, codecerr.New(codecerr.KindType, opts.ID, "output callback is required")
	}
	caps := &capabilities{factory: opts.Factory}
	inst, err := codecore.New(codecore.Options{
		ID:           opts.ID,
		GroupID:      opts.GroupID,
		Capabilities: caps,
		Logger:       opts.Logger,
		OnOutput: func(output any, metadata any) {
			chunk, _ := output.(*media.EncodedVideoChunk)
			meta, _ := metadata.(*media.EncodedVideoChunkMetadata)
			opts.OnOutput(chunk, meta)
		},
		OnError:    opts.OnError,
		OnDequeue:  opts.OnDequeue,
		OnActivity: opts.OnActivity,
	})
	if err != nil {
		return nil, err
	}
	return &Encoder{Instance: inst}, nil
}

// Configure applies a new encoder configuration (spec.md §4.2, §4.3).
func (e *Encoder) Configure(config *media.VideoEncoderConfig) error {
	return e.Instance.Configure(config)
}

// Encode queues one frame for encoding. The frame is detached on success
// (spec.md invariant 7); a detached frame fails with a type error.
func (e *Encoder) Encode(frame *media.VideoFrame, options *media.VideoEncodeOptions) error {
	if options == nil {
		options = &media.VideoEncodeOptions{}
	}
	return e.Instance.SubmitInput(frame, options)
}

type capabilities struct {
	factory BackendFactory
}

func (c *capabilities) Kind() string { return "video-encoder" }

func (c *capabilities) FatalErrorKind() codecerr.Kind { return codecerr.KindEncoding }

func (c *capabilities) ValidateConfig(config any) error {
	cfg, ok := config.(*media.VideoEncoderConfig)
	if !ok || cfg == nil {
		return codecerr.New(codecerr.KindType, "", "configure requires a *media.VideoEncoderConfig")
	}
	return cfg.Validate()
}

func (c *capabilities) Accept(instanceID string, active *codecore.ActiveState, input any, options any) (any, error) {
	frame, ok := input.(*media.VideoFrame)
	if !ok || frame == nil {
		return nil, codecerr.New(codecerr.KindType, instanceID, "encode requires a *media.VideoFrame")
	}
	if frame.Detached() {
		return nil, codecerr.New(codecerr.KindType, instanceID, "encode: frame is already detached")
	}

	orientation, locked := active.Orientation.(media.Orientation)
	if !locked {
		active.Orientation = frame.Orientation
	} else if !orientation.Equal(frame.Orientation) {
		return nil, codecerr.New(codecerr.KindData, instanceID, "encode: frame orientation does not match the orientation locked by the first accepted frame")
	}

	cloned := frame.Clone()
	if cloned == nil {
		return nil, codecerr.New(codecerr.KindType, instanceID, "encode: frame was concurrently detached")
	}
	return cloned, nil
}

func (c *capabilities) NewBackend(logger *slog.Logger, config any) (backend.Backend, error) {
	cfg, ok := config.(*media.VideoEncoderConfig)
	if !ok {
		return nil, codecerr.New(codecerr.KindType, "", "configure requires a *media.VideoEncoderConfig")
	}
	if c.factory == nil {
		return nil, codecerr.New(codecerr.KindNotSupported, "", "no backend factory configured for video-encoder")
	}
	return c.factory(logger, cfg)
}

func (c *capabilities) DeriveOutput(active *codecore.ActiveState, out backend.Output) (any, any) {
	chunkType := media.ChunkDelta
	if out.IsKeyframe {
		chunkType = media.ChunkKey
	}
	chunk := &media.EncodedVideoChunk{
		Type:      chunkType,
		Data:      out.Data,
		Timestamp: time.Duration(out.PresentationTimestamp) * time.Microsecond,
		Duration:  time.Duration(out.Duration) * time.Microsecond,
	}

	meta := &media.EncodedVideoChunkMetadata{}
	if cfg, ok := active.Config.(*media.VideoEncoderConfig); ok && cfg.Alpha == media.AlphaKeep {
		meta.AlphaSideData = out.AlphaSideData
	}
	if out.TemporalLayerID > 0 {
		meta.SvcMetadata = &media.TemporalLayerMetadata{TemporalLayerID: out.TemporalLayerID}
	}

	derived := &media.VideoDecoderConfig{Description: out.Extradata}
	if cfg, ok := active.Config.(*media.VideoEncoderConfig); ok {
		derived.Codec = cfg.Codec
		derived.CodedWidth = cfg.Width
		derived.CodedHeight = cfg.Height
		derived.DisplayAspectWidth = cfg.DisplayWidth
		derived.DisplayAspectHeight = cfg.DisplayHeight
		derived.HardwareAcceleration = cfg.HardwareAcceleration
	}
	prev, _ := active.OutputConfig.(*media.VideoDecoderConfig)
	if !derived.Equal(prev) {
		meta.DecoderConfig = derived
		active.OutputConfig = derived
	}
	return chunk, meta
}
