package videoencoder_test

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
	"github.com/codecbridge/webcodecs/internal/videoencoder"
)

type fakeBackend struct {
	mu      sync.Mutex
	outputs []backend.Output
}

func (b *fakeBackend) Configure(context.Context, any) error { return nil }

func (b *fakeBackend) SubmitInput(context.Context, any, any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outputs = append(b.outputs, backend.Output{Data: []byte{1, 2, 3}, IsKeyframe: true})
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

func (b *fakeBackend) WouldSaturate(int) bool       { return false }
func (b *fakeBackend) SignalEOF(context.Context) error { return nil }
func (b *fakeBackend) Reset(context.Context) error     { return nil }
func (b *fakeBackend) Close() error                    { return nil }

func newFactory(be *fakeBackend) videoencoder.BackendFactory {
	return func(_ *slog.Logger, _ *media.VideoEncoderConfig) (backend.Backend, error) {
		return be, nil
	}
}

func TestEncoderRejectsMissingOutputCallback(t *testing.T) {
	_, err := videoencoder.New(videoencoder.Options{ID: "enc-1"})
	require.Error(t, err)
	assert.True(t, codecerr.IsKind(err, codecerr.KindType))
}

func TestEncoderConfigureRejectsWrongType(t *testing.T) {
	enc, err := videoencoder.New(videoencoder.Options{
		ID:       "enc-2",
		Factory:  newFactory(&fakeBackend{}),
		OnOutput: func(*media.EncodedVideoChunk, *media.EncodedVideoChunkMetadata) {},
		OnError:  func(*codecerr.CodecError) {},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = enc.Close() })

	err = enc.Configure(&media.VideoEncoderConfig{Width: 640, Height: 480, DisplayWidth: 640, DisplayHeight: 480})
	require.Error(t, err) // missing Codec
}

func TestEncoderEncodeEmitsKeyChunk(t *testing.T) {
	be := &fakeBackend{}
	var mu sync.Mutex
	var chunks []*media.EncodedVideoChunk
	var metas []*media.EncodedVideoChunkMetadata

	enc, err := videoencoder.New(videoencoder.Options{
		ID:      "enc-3",
		Factory: newFactory(be),
		OnOutput: func(chunk *media.EncodedVideoChunk, meta *media.EncodedVideoChunkMetadata) {
			mu.Lock()
			defer mu.Unlock()
			chunks = append(chunks, chunk)
			metas = append(metas, meta)
		},
		OnError: func(*codecerr.CodecError) {},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = enc.Close() })

	require.NoError(t, enc.Configure(&media.VideoEncoderConfig{
		Codec: "avc1.42001e", Width: 640, Height: 480, DisplayWidth: 640, DisplayHeight: 480,
	}))

	frame := media.NewVideoFrame([]byte{0, 1, 2}, 0, 0, 640, 480, 640, 480, media.Orientation{})
	require.NoError(t, enc.Encode(frame, nil))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(chunks) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, media.ChunkKey, chunks[0].Type)
	require.NotNil(t, metas[0])
	require.NotNil(t, metas[0].DecoderConfig)
	assert.Equal(t, "avc1.42001e", metas[0].DecoderConfig.Codec)
}

func TestEncoderEncodeRejectsDetachedFrame(t *testing.T) {
	enc, err := videoencoder.New(videoencoder.Options{
		ID:       "enc-4",
		Factory:  newFactory(&fakeBackend{}),
		OnOutput: func(*media.EncodedVideoChunk, *media.EncodedVideoChunkMetadata) {},
		OnError:  func(*codecerr.CodecError) {},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = enc.Close() })

	require.NoError(t, enc.Configure(&media.VideoEncoderConfig{
		Codec: "avc1.42001e", Width: 640, Height: 480, DisplayWidth: 640, DisplayHeight: 480,
	}))

	frame := media.NewVideoFrame([]byte{0}, 0, 0, 640, 480, 640, 480, media.Orientation{})
	frame.Detach()

	err = enc.Encode(frame, nil)
	require.Error(t, err)
	assert.True(t, codecerr.IsKind(err, codecerr.KindType))
}
