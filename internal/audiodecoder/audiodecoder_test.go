package audiodecoder_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecbridge/webcodecs/internal/audiodecoder"
	"github.com/codecbridge/webcodecs/internal/backend"
	"github.com/codecbridge/webcodecs/internal/codecerr"
	"github.com/codecbridge/webcodecs/internal/media"
)

type fakeBackend struct {
	mu      sync.Mutex
	outputs []backend.Output
}

func (b *fakeBackend) Configure(context.Context, any) error { return nil }

func (b *fakeBackend) SubmitInput(context.Context, any, any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outputs = append(b.outputs, backend.Output{Data: []byte{7, 7}, PresentationTimestamp: 0, Duration: 20_000})
	return nil
}

func (b *fakeBackend) PollOutput(context.Context) (*backend.Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.outputs) == 0 {
		return nil, nil
	}
	out := b.outputs[0]
	b.outputs = b.outputs[1:]
	return &out, nil
}

func (b *fakeBackend) WouldSaturate(int) bool          { return false }
func (b *fakeBackend) SignalEOF(context.Context) error { return nil }
func (b *fakeBackend) Reset(context.Context) error     { return nil }
func (b *fakeBackend) Close() error                    { return nil }

func newFactory(be *fakeBackend) audiodecoder.BackendFactory {
	return func(_ *slog.Logger, _ *media.AudioDecoderConfig) (backend.Backend, error) {
		return be, nil
	}
}

func newDecoder(t *testing.T, be *fakeBackend, onOutput func(*media.AudioData)) *audiodecoder.Decoder {
	t.Helper()
	if onOutput == nil {
		onOutput = func(*media.AudioData) {}
	}
	dec, err := audiodecoder.New(audiodecoder.Options{
		ID:       "adec-test",
		Factory:  newFactory(be),
		OnOutput: onOutput,
		OnError:  func(*codecerr.CodecError) {},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dec.Close() })
	return dec
}

func TestAudioDecoderRejectsMissingOutputCallback(t *testing.T) {
	_, err := audiodecoder.New(audiodecoder.Options{ID: "adec-1"})
	require.Error(t, err)
	assert.True(t, codecerr.IsKind(err, codecerr.KindType))
}

func TestAudioDecoderFirstChunkMustBeKey(t *testing.T) {
	dec := newDecoder(t, &fakeBackend{}, nil)
	require.NoError(t, dec.Configure(&media.AudioDecoderConfig{Codec: "aac", SampleRate: 48000, NumberOfChannels: 2}))

	err := dec.Decode(&media.EncodedAudioChunk{Type: media.ChunkDelta, Data: []byte{1}})
	require.Error(t, err)
	assert.True(t, codecerr.IsKind(err, codecerr.KindData))
}

func TestAudioDecoderDecodeEmitsData(t *testing.T) {
	be := &fakeBackend{}
	var mu sync.Mutex
	var chunks []*media.AudioData

	dec := newDecoder(t, be, func(data *media.AudioData) {
		mu.Lock()
		defer mu.Unlock()
		chunks = append(chunks, data)
	})
	require.NoError(t, dec.Configure(&media.AudioDecoderConfig{Codec: "aac", SampleRate: 48000, NumberOfChannels: 2}))

	require.NoError(t, dec.Decode(&media.EncodedAudioChunk{Type: media.ChunkKey, Data: []byte{1, 2}}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(chunks) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 48000, chunks[0].SampleRate)
	assert.Equal(t, 2, chunks[0].NumberOfChannels)
}

func TestAudioDecoderRejectsDetachedChunk(t *testing.T) {
	dec := newDecoder(t, &fakeBackend{}, nil)
	require.NoError(t, dec.Configure(&media.AudioDecoderConfig{Codec: "aac", SampleRate: 48000, NumberOfChannels: 2}))

	chunk := &media.EncodedAudioChunk{Type: media.ChunkKey, Data: []byte{1}}
	chunk.Detach()

	err := dec.Decode(chunk)
	require.Error(t, err)
	assert.True(t, codecerr.IsKind(err, codecerr.KindType))
}
