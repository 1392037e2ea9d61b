package audioencoder_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecbridge/webcodecs/internal/audioencoder"
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
	b.outputs = append(b.outputs, backend.Output{Data: []byte{4, 5, 6}})
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

func newFactory(be *fakeBackend) audioencoder.BackendFactory {
	return func(_ *slog.Logger, _ *media.AudioEncoderConfig) (backend.Backend, error) {
		return be, nil
	}
}

func TestAudioEncoderRejectsMissingOutputCallback(t *testing.T) {
	_, err := audioencoder.New(audioencoder.Options{ID: "aenc-1"})
	require.Error(t, err)
	assert.True(t, codecerr.IsKind(err, codecerr.KindType))
}

func TestAudioEncoderEncodeEmitsChunkWithDecoderConfig(t *testing.T) {
	be := &fakeBackend{}
	var mu sync.Mutex
	var chunks []*media.EncodedAudioChunk
	var metas []*media.EncodedAudioChunkMetadata

	enc, err := audioencoder.New(audioencoder.Options{
		ID:      "aenc-2",
		Factory: newFactory(be),
		OnOutput: func(chunk *media.EncodedAudioChunk, meta *media.EncodedAudioChunkMetadata) {
			mu.Lock()
			defer mu.Unlock()
			chunks = append(chunks, chunk)
			metas = append(metas, meta)
		},
		OnError: func(*codecerr.CodecError) {},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = enc.Close() })

	require.NoError(t, enc.Configure(&media.AudioEncoderConfig{Codec: "opus", SampleRate: 48000, NumberOfChannels: 2}))

	data := media.NewAudioData([]byte{1, 2, 3, 4}, 0, 48000, 2, 1024)
	require.NoError(t, enc.Encode(data))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(chunks) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, metas[0].DecoderConfig)
	assert.Equal(t, "opus", metas[0].DecoderConfig.Codec)
	assert.Equal(t, 48000, metas[0].DecoderConfig.SampleRate)
}

func TestAudioEncoderEncodeRejectsDetachedData(t *testing.T) {
	enc, err := audioencoder.New(audioencoder.Options{
		ID:       "aenc-3",
		Factory:  newFactory(&fakeBackend{}),
		OnOutput: func(*media.EncodedAudioChunk, *media.EncodedAudioChunkMetadata) {},
		OnError:  func(*codecerr.CodecError) {},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = enc.Close() })

	require.NoError(t, enc.Configure(&media.AudioEncoderConfig{Codec: "opus", SampleRate: 48000, NumberOfChannels: 2}))

	data := media.NewAudioData([]byte{1}, 0, 48000, 2, 64)
	data.Detach()

	err = enc.Encode(data)
	require.Error(t, err)
	assert.True(t, codecerr.IsKind(err, codecerr.KindType))
}
