package ffmpegbackend

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecbridge/webcodecs/internal/codec"
	"github.com/codecbridge/webcodecs/internal/media"
)

func TestLooksLikeKeyframe(t *testing.T) {
	idr := []byte{0, 0, 0, 1, 0x65, 0xAA, 0xBB} // NAL type 5 (IDR)
	delta := []byte{0, 0, 0, 1, 0x41, 0xAA, 0xBB} // NAL type 1 (non-IDR)

	assert.True(t, looksLikeKeyframe("video-encoder", idr))
	assert.False(t, looksLikeKeyframe("video-encoder", delta))

	// Non video-encoder kinds are never classified; decoders don't
	// produce key/delta output and other codecs fall back to "true".
	assert.True(t, looksLikeKeyframe("video-decoder", delta))
	assert.True(t, looksLikeKeyframe("video-encoder", []byte{1, 2}))
}

func TestExtractH264Extradata(t *testing.T) {
	sps := []byte{0, 0, 0, 1, 0x67, 0x42, 0x00, 0x1e}
	pps := []byte{0, 0, 0, 1, 0x68, 0xce, 0x3c, 0x80}
	idr := []byte{0, 0, 0, 1, 0x65, 0xAA}

	au := append(append(append([]byte{}, sps...), pps...), idr...)

	extradata := extractExtradata(codec.VideoH264, au)
	require.NotNil(t, extradata)
	assert.Contains(t, string(extradata), string(sps[4:]))
	assert.Contains(t, string(extradata), string(pps[4:]))
}

func TestExtractExtradata_MissingParameterSetsReturnsNil(t *testing.T) {
	idrOnly := []byte{0, 0, 0, 1, 0x65, 0xAA, 0xBB}
	assert.Nil(t, extractExtradata(codec.VideoH264, idrOnly))
}

func TestExtractExtradata_UnsupportedCodecReturnsNil(t *testing.T) {
	assert.Nil(t, extractExtradata(codec.VideoVP9, []byte{1, 2, 3}))
}

func TestHWAccelFor(t *testing.T) {
	assert.Equal(t, codec.HWAccelAuto, hwaccelFor(media.HWAccelPreferHW))
	assert.Equal(t, codec.HWAccelNone, hwaccelFor(media.HWAccelNoPreference))
}

func TestOutputFormatFor(t *testing.T) {
	assert.Equal(t, "h264", outputFormatFor(codec.VideoH264))
	assert.Equal(t, "hevc", outputFormatFor(codec.VideoH265))
	assert.Equal(t, "ivf", outputFormatFor(codec.VideoVP9))
}

func TestNewVideoEncoder_RoundTrip(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	cfg := &media.VideoEncoderConfig{
		Codec: "h264", Width: 16, Height: 16, Framerate: 25,
	}
	be, err := NewVideoEncoder(nil, cfg)
	require.NoError(t, err)
	defer be.Close()

	pid, ok := be.(*Backend).Pid()
	require.True(t, ok)
	assert.Greater(t, pid, 0)

	frame := make([]byte, 16*16*3/2) // one yuv420p frame
	require.NoError(t, be.SubmitInput(context.Background(), &media.VideoFrame{Data: frame}, nil))
	require.NoError(t, be.SignalEOF(context.Background()))

	saw := false
	for i := 0; i < 50; i++ {
		out, err := be.PollOutput(context.Background())
		require.NoError(t, err)
		if out != nil {
			saw = true
			break
		}
	}
	assert.True(t, saw, "expected at least one encoded output")

	require.NoError(t, be.Close())
	_, ok = be.(*Backend).Pid()
	assert.False(t, ok, "Pid should report false once the process is closed")
}
