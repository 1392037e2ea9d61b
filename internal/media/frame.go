// Package media defines the raw/encoded media value objects the codec core
// exchanges with its host: VideoFrame, AudioData, and EncodedChunk, plus the
// handful of attributes the core actually touches (detachment, timestamp,
// duration, orientation, size). Pixel formats, sample formats, and bitstream
// layout are the Codec Backend's concern, not this package's.
package media

import (
	"sync/atomic"
	"time"
)

// Orientation describes a video frame's display orientation. A video
// encoder locks onto the orientation of its first accepted frame
// (spec invariant: orientation lock).
type Orientation struct {
	Rotation int  // one of 0, 90, 180, 270
	Flip     bool
}

// Equal reports whether two orientations describe the same transform.
func (o Orientation) Equal(other Orientation) bool {
	return o.Rotation == other.Rotation && o.Flip == other.Flip
}

// VideoFrame is a single decoded video image handed to a VideoEncoder, or
// produced by a VideoDecoder.
//
// A frame is detached exactly once: either explicitly by the host (it
// transferred ownership of the backing buffer elsewhere) or implicitly when
// the core clones it into a work item for the backend. A detached frame can
// never be read again; encode() on a detached frame fails with a *type*
// error (spec.md invariant 7).
type VideoFrame struct {
	Data            []byte
	Timestamp       time.Duration
	Duration        time.Duration
	CodedWidth      int
	CodedHeight     int
	DisplayWidth    int
	DisplayHeight   int
	Orientation     Orientation

	detached atomic.Bool
}

// NewVideoFrame constructs a frame that owns data until it is detached or
// cloned.
func NewVideoFrame(data []byte, timestamp, duration time.Duration, codedW, codedH, displayW, displayH int, o Orientation) *VideoFrame {
	return &VideoFrame{
		Data:          data,
		Timestamp:     timestamp,
		Duration:      duration,
		CodedWidth:    codedW,
		CodedHeight:   codedH,
		DisplayWidth:  displayW,
		DisplayHeight: displayH,
		Orientation:   o,
	}
}

// Detached reports whether this frame's backing buffer has already been
// taken, either by the host or by a prior clone.
func (f *VideoFrame) Detached() bool {
	return f.detached.Load()
}

// Detach marks the frame as detached. Returns false if it was already
// detached (idempotent check for the caller to surface a *type* error).
func (f *VideoFrame) Detach() bool {
	return f.detached.CompareAndSwap(false, true)
}

// Clone returns an internal copy of the frame for the instance to retain,
// and detaches the original so it cannot be reused by the caller (spec.md
// invariant 7: transferred inputs detach). Clone fails (returns nil) if the
// frame is already detached.
func (f *VideoFrame) Clone() *VideoFrame {
	if !f.Detach() {
		return nil
	}
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return &VideoFrame{
		Data:          data,
		Timestamp:     f.Timestamp,
		Duration:      f.Duration,
		CodedWidth:    f.CodedWidth,
		CodedHeight:   f.CodedHeight,
		DisplayWidth:  f.DisplayWidth,
		DisplayHeight: f.DisplayHeight,
		Orientation:   f.Orientation,
	}
}

// AudioData is a single block of decoded audio samples handed to an
// AudioEncoder, or produced by an AudioDecoder.
type AudioData struct {
	Data             []byte
	Timestamp        time.Duration
	Duration         time.Duration
	SampleRate       int
	NumberOfChannels int
	NumberOfFrames   int

	detached atomic.Bool
}

// NewAudioData constructs an AudioData block.
func NewAudioData(data []byte, timestamp time.Duration, sampleRate, channels, frames int) *AudioData {
	duration := time.Duration(0)
	if sampleRate > 0 {
		duration = time.Duration(float64(frames) / float64(sampleRate) * float64(time.Second))
	}
	return &AudioData{
		Data:             data,
		Timestamp:        timestamp,
		Duration:         duration,
		SampleRate:       sampleRate,
		NumberOfChannels: channels,
		NumberOfFrames:   frames,
	}
}

// Detached reports whether the backing buffer has already been taken.
func (a *AudioData) Detached() bool {
	return a.detached.Load()
}

// Detach marks the audio data as detached, returning false if already so.
func (a *AudioData) Detach() bool {
	return a.detached.CompareAndSwap(false, true)
}

// Clone returns an internal copy of the audio data and detaches the
// original. Returns nil if already detached.
func (a *AudioData) Clone() *AudioData {
	if !a.Detach() {
		return nil
	}
	data := make([]byte, len(a.Data))
	copy(data, a.Data)
	return &AudioData{
		Data:             data,
		Timestamp:        a.Timestamp,
		Duration:         a.Duration,
		SampleRate:       a.SampleRate,
		NumberOfChannels: a.NumberOfChannels,
		NumberOfFrames:   a.NumberOfFrames,
	}
}
