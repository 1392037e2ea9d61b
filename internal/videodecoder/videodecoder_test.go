package videodecoder_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecbridge/webcodecs/internal/backend"
	"github.com/codecbridge/webcodecs/internal/codecerr"
	"github.com/codecbridge/webcodecs/internal/media"
	"github.com/codecbridge/webcodecs/internal/videodecoder"
)

type fakeBackend struct {
	mu      sync.Mutex
	outputs []backend.Output
}

func (b *fakeBackend) Configure(context.Context, any) error { return nil }

func (b *fakeBackend) SubmitInput(context.Context, any, any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outputs = append(b.outputs, backend.Output{Data: []byte{9, 9, 9}})
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

func newFactory(be *fakeBackend) videodecoder.BackendFactory {
	return func(_ *slog.Logger, _ *media.VideoDecoderConfig) (backend.Backend, error) {
		return be, nil
	}
}

func newDecoder(t *testing.T, be *fakeBackend, onOutput func(*media.VideoFrame)) *videodecoder.Decoder {
	t.Helper()
	if onOutput == nil {
		onOutput = func(*media.VideoFrame) {}
	}
	dec, err := videodecoder.New(videodecoder.Options{
		ID:       "dec-test",
		Factory:  newFactory(be),
		OnOutput: onOutput,
		OnError:  func(*codecerr.CodecError) {},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dec.Close() })
	return dec
}

func TestDecoderRejectsMissingOutputCallback(t *testing.T) {
	_, err := videodecoder.New(videodecoder.Options{ID: "dec-1"})
	require.Error(t, err)
	assert.True(t, codecerr.IsKind(err, codecerr.KindType))
}

func TestDecoderFirstChunkMustBeKey(t *testing.T) {
	dec := newDecoder(t, &fakeBackend{}, nil)
	require.NoError(t, dec.Configure(&media.VideoDecoderConfig{Codec: "avc1.42001e", CodedWidth: 640, CodedHeight: 480}))

	err := dec.Decode(&media.EncodedVideoChunk{Type: media.ChunkDelta, Data: []byte{1}})
	require.Error(t, err)
	assert.True(t, codecerr.IsKind(err, codecerr.KindData))
}

func TestDecoderDecodeEmitsFrame(t *testing.T) {
	be := &fakeBackend{}
	var mu sync.Mutex
	var frames []*media.VideoFrame

	dec := newDecoder(t, be, func(frame *media.VideoFrame) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, frame)
	})
	require.NoError(t, dec.Configure(&media.VideoDecoderConfig{Codec: "avc1.42001e", CodedWidth: 640, CodedHeight: 480}))

	require.NoError(t, dec.Decode(&media.EncodedVideoChunk{Type: media.ChunkKey, Data: []byte{1, 2, 3}}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDecoderRejectsDetachedChunk(t *testing.T) {
	dec := newDecoder(t, &fakeBackend{}, nil)
	require.NoError(t, dec.Configure(&media.VideoDecoderConfig{Codec: "avc1.42001e", CodedWidth: 640, CodedHeight: 480}))

	chunk := &media.EncodedVideoChunk{Type: media.ChunkKey, Data: []byte{1}}
	chunk.Detach()

	err := dec.Decode(chunk)
	require.Error(t, err)
	assert.True(t, codecerr.IsKind(err, codecerr.KindType))
}
