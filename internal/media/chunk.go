package media

import (
	"sync/atomic"
	"time"
)

// ChunkType classifies an encoded chunk as a random-access point ("key") or
// one that depends on prior chunks ("delta"). Decoders require the first
// chunk received after configure to be key (spec.md §4.4).
type ChunkType string

const (
	ChunkKey   ChunkType = "key"
	ChunkDelta ChunkType = "delta"
)

// EncodedVideoChunk is one unit of compressed video bitstream, produced by a
// VideoEncoder or consumed by a VideoDecoder.
type EncodedVideoChunk struct {
	Type      ChunkType
	Data      []byte
	Timestamp time.Duration
	Duration  time.Duration

	detached atomic.Bool
}

// Detached reports whether the chunk's payload has been taken.
func (c *EncodedVideoChunk) Detached() bool { return c.detached.Load() }

// Detach marks the chunk detached, returning false if already detached.
func (c *EncodedVideoChunk) Detach() bool {
	return c.detached.CompareAndSwap(false, true)
}

// EncodedAudioChunk is one unit of compressed audio bitstream.
type EncodedAudioChunk struct {
	Type      ChunkType
	Data      []byte
	Timestamp time.Duration
	Duration  time.Duration

	detached atomic.Bool
}

// Detached reports whether the chunk's payload has been taken.
func (c *EncodedAudioChunk) Detached() bool { return c.detached.Load() }

// Detach marks the chunk detached, returning false if already detached.
func (c *EncodedAudioChunk) Detach() bool {
	return c.detached.CompareAndSwap(false, true)
}

// TemporalLayerMetadata is attached to an encoded chunk's metadata when the
// active config's ScalabilityMode declares more than one temporal layer.
type TemporalLayerMetadata struct {
	TemporalLayerID int
}

// EncodedVideoChunkMetadata accompanies an emitted EncodedVideoChunk.
type EncodedVideoChunkMetadata struct {
	// DecoderConfig is populated only when it differs from the encoder's
	// previously emitted decoder config (spec.md invariant 4).
	DecoderConfig *VideoDecoderConfig
	// SvcMetadata is populated only for multi-temporal-layer scalability
	// modes.
	SvcMetadata *TemporalLayerMetadata
	// AlphaSideData holds the alpha channel bitstream when the encoder's
	// config requested alpha:"keep" and the backend produced it.
	AlphaSideData []byte
}

// EncodedAudioChunkMetadata accompanies an emitted EncodedAudioChunk.
type EncodedAudioChunkMetadata struct {
	DecoderConfig *AudioDecoderConfig
}
