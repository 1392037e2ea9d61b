// Package audiodecoder implements the AudioDecoder codec instance (spec.md
// §4.4's audio counterpart).
package audiodecoder

import (
	"log/slog"
	"time"

	"github.com/codecbridge/webcodecs/internal/backend"
	"github.com/codecbridge/webcodecs/internal/codecerr"
	"github.com/codecbridge/webcodecs/internal/codecore"
	"github.com/codecbridge/webcodecs/internal/media"
)

// BackendFactory constructs the Codec Backend for a given applied config.
type BackendFactory func(logger *slog.Logger, config *media.AudioDecoderConfig) (backend.Backend, error)

// Decoder is an AudioDecoder instance.
type Decoder struct {
	*codecore.Instance
}

// Options configures a new Decoder.
type Options struct {
	ID         string
	GroupID    string
	Logger     *slog.Logger
	Factory    BackendFactory
	OnOutput   func(data *media.AudioData)
	OnError    codecore.ErrorCallback
	OnDequeue  codecore.DequeueCallback
	OnActivity codecore.ActivityCallback
}

// New constructs an AudioDecoder in the unconfigured state.
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
			data, _ := output.(*media.AudioData)
			opts.OnOutput(data)
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
func (d *Decoder) Configure(config *media.AudioDecoderConfig) error {
	return d.Instance.Configure(config)
}

// Decode queues one encoded chunk for decoding.
func (d *Decoder) Decode(chunk *media.EncodedAudioChunk) error {
	return d.Instance.SubmitInput(chunk, nil)
}

type capabilities struct {
	factory BackendFactory
}

func (c *capabilities) Kind() string { return "audio-decoder" }

func (c *capabilities) FatalErrorKind() codecerr.Kind { return codecerr.KindDecoding }

func (c *capabilities) ValidateConfig(config any) error {
	cfg, ok := config.(*media.AudioDecoderConfig)
	if !ok || cfg == nil {
		return codecerr.New(codecerr.KindType, "", "configure requires a *media.AudioDecoderConfig")
	}
	return cfg.Validate()
}

func (c *capabilities) Accept(instanceID string, active *codecore.ActiveState, input any, _ any) (any, error) {
	chunk, ok := input.(*media.EncodedAudioChunk)
	if !ok || chunk == nil {
		return nil, codecerr.New(codecerr.KindType, instanceID, "decode requires a *media.EncodedAudioChunk")
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
	clone := &media.EncodedAudioChunk{
		Type:      chunk.Type,
		Data:      append([]byte(nil), chunk.Data...),
		Timestamp: chunk.Timestamp,
		Duration:  chunk.Duration,
	}
	return clone, nil
}

// firstChunkSeen mirrors videodecoder's sentinel: active.OutputConfig has no
// other use for a decoder, so it tracks the key-frame-first invariant.
type firstChunkSeen struct{}

func (c *capabilities) NewBackend(logger *slog.Logger, config any) (backend.Backend, error) {
	cfg, ok := config.(*media.AudioDecoderConfig)
	if !ok {
		return nil, codecerr.New(codecerr.KindType, "", "configure requires a *media.AudioDecoderConfig")
	}
	if c.factory == nil {
		return nil, codecerr.New(codecerr.KindNotSupported, "", "no backend factory configured for audio-decoder")
	}
	return c.factory(logger, cfg)
}

func (c *capabilities) DeriveOutput(active *codecore.ActiveState, out backend.Output) (any, any) {
	cfg, _ := active.Config.(*media.AudioDecoderConfig)
	sampleRate, channels := 0, 0
	if cfg != nil {
		sampleRate = cfg.SampleRate
		channels = cfg.NumberOfChannels
	}
	frames := 0
	if sampleRate > 0 {
		frames = int(time.Duration(out.Duration) * time.Microsecond / time.Second * time.Duration(sampleRate))
	}
	data := media.NewAudioData(
		out.Data,
		time.Duration(out.PresentationTimestamp)*time.Microsecond,
		sampleRate, channels, frames,
	)
	return data, nil
}
