// Package audioencoder implements the AudioEncoder codec instance (spec.md
// §4.3's audio counterpart; same state machine and queueing model).
package audioencoder

import (
	"log/slog"
	"time"

	"github.com/codecbridge/webcodecs/internal/backend"
	"github.com/codecbridge/webcodecs/internal/codecerr"
	"github.com/codecbridge/webcodecs/internal/codecore"
	"github.com/codecbridge/webcodecs/internal/media"
)

// BackendFactory constructs the Codec Backend for a given applied config.
type BackendFactory func(logger *slog.Logger, config *media.AudioEncoderConfig) (backend.Backend, error)

// Encoder is an AudioEncoder instance.
type Encoder struct {
	*codecore.Instance
}

// Options configures a new Encoder.
type Options struct {
	ID         string
	GroupID    string
	Logger     *slog.Logger
	Factory    BackendFactory
	OnOutput   func(chunk *media.EncodedAudioChunk, metadata *media.EncodedAudioChunkMetadata)
	OnError    codecore.ErrorCallback
	OnDequeue  codecore.DequeueCallback
	OnActivity codecore.ActivityCallback
}

// New constructs an AudioEncoder in the unconfigured state.
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
			chunk, _ := output.(*media.EncodedAudioChunk)
			meta, _ := metadata.(*media.EncodedAudioChunkMetadata)
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

// Configure applies a new encoder configuration.
func (e *Encoder) Configure(config *media.AudioEncoderConfig) error {
	return e.Instance.Configure(config)
}

// Encode queues one block of audio samples for encoding.
func (e *Encoder) Encode(data *media.AudioData) error {
	return e.Instance.SubmitInput(data, nil)
}

type capabilities struct {
	factory BackendFactory
}

func (c *capabilities) Kind() string { return "audio-encoder" }

func (c *capabilities) FatalErrorKind() codecerr.Kind { return codecerr.KindEncoding }

func (c *capabilities) ValidateConfig(config any) error {
	cfg, ok := config.(*media.AudioEncoderConfig)
	if !ok || cfg == nil {
		return codecerr.New(codecerr.KindType, "", "configure requires a *media.AudioEncoderConfig")
	}
	return cfg.Validate()
}

func (c *capabilities) Accept(instanceID string, _ *codecore.ActiveState, input any, _ any) (any, error) {
	data, ok := input.(*media.AudioData)
	if !ok || data == nil {
		return nil, codecerr.New(codecerr.KindType, instanceID, "encode requires a *media.AudioData")
	}
	if data.Detached() {
		return nil, codecerr.New(codecerr.KindType, instanceID, "encode: audio data is already detached")
	}
	cloned := data.Clone()
	if cloned == nil {
		return nil, codecerr.New(codecerr.KindType, instanceID, "encode: audio data was concurrently detached")
	}
	return cloned, nil
}

func (c *capabilities) NewBackend(logger *slog.Logger, config any) (backend.Backend, error) {
	cfg, ok := config.(*media.AudioEncoderConfig)
	if !ok {
		return nil, codecerr.New(codecerr.KindType, "", "configure requires a *media.AudioEncoderConfig")
	}
	if c.factory == nil {
		return nil, codecerr.New(codecerr.KindNotSupported, "", "no backend factory configured for audio-encoder")
	}
	return c.factory(logger, cfg)
}

func (c *capabilities) DeriveOutput(active *codecore.ActiveState, out backend.Output) (any, any) {
	chunkType := media.ChunkDelta
	if out.IsKeyframe {
		chunkType = media.ChunkKey
	}
	chunk := &media.EncodedAudioChunk{
		Type:      chunkType,
		Data:      out.Data,
		Timestamp: time.Duration(out.PresentationTimestamp) * time.Microsecond,
		Duration:  time.Duration(out.Duration) * time.Microsecond,
	}

	meta := &media.EncodedAudioChunkMetadata{}
	derived := &media.AudioDecoderConfig{Description: out.Extradata}
	if cfg, ok := active.Config.(*media.AudioEncoderConfig); ok {
		derived.Codec = cfg.Codec
		derived.SampleRate = cfg.SampleRate
		derived.NumberOfChannels = cfg.NumberOfChannels
	}
	prev, _ := active.OutputConfig.(*media.AudioDecoderConfig)
	if !derived.Equal(prev) {
		meta.DecoderConfig = derived
		active.OutputConfig = derived
	}
	return chunk, meta
}
