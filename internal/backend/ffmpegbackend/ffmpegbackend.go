// Package ffmpegbackend implements backend.Backend by driving an FFmpeg
// subprocess over its stdin/stdout pipes, grounded on the teacher's
// TranscodeJob (internal/daemon/transcode.go): an async input channel
// decouples the codec worker from FFmpeg's stdin, a reader goroutine drains
// stdout into an output channel, and atomic counters track throughput.
//
// FFmpeg itself is treated as the opaque Codec Backend spec.md §6.3
// describes: this package owns process lifecycle and byte plumbing, never
// bitstream semantics. Exact NAL/ADTS framing of encoder output is left to
// the backend's own muxed container (the command always asks FFmpeg for a
// self-framing output format); PollOutput reports one Output per write
// FFmpeg makes to its output pipe, which is adequate for every elementary
// stream FFmpeg produces in --f rawvideo/-f <codec> pipe mode.
package ffmpegbackend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/codecbridge/webcodecs/internal/backend"
	"github.com/codecbridge/webcodecs/internal/codec"
	"github.com/codecbridge/webcodecs/internal/ffmpeg"
	"github.com/codecbridge/webcodecs/internal/media"
)

// BinaryPath is the resolved ffmpeg executable path, set once at process
// startup by cmd/webcodecsctl from the backend binary_path configuration
// value when that value is non-empty.
var BinaryPath = "ffmpeg"

const (
	pendingHighWaterMark = 32
	readBufferSize       = 1 << 20
)

// Backend drives one FFmpeg subprocess for the lifetime of a single codec
// instance. Every exported method is called strictly serially by the
// instance's worker (backend.Backend's contract), so no method synchronizes
// against a concurrent call of another exported method; internal goroutines
// still need atomics/mutexes because they run concurrently with those calls.
type Backend struct {
	logger *slog.Logger
	kind   string // "video-encoder", "video-decoder", "audio-encoder", "audio-decoder"

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	outputCh chan backend.Output
	errCh    chan error
	doneCh   chan struct{}

	pending atomic.Int64
	closed  atomic.Bool

	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64

	wg sync.WaitGroup

	frameSize  int         // fixed decoded-frame byte size for raw decoder output, 0 if not applicable
	videoCodec codec.Video // only meaningful when kind == "video-encoder"
}

// NewVideoEncoder builds a Backend that encodes raw yuv420p frames into the
// bitstream named by config.Codec (internal/codec's registry resolves the
// FFmpeg encoder name and hardware-acceleration flags).
func NewVideoEncoder(logger *slog.Logger, config *media.VideoEncoderConfig) (backend.Backend, error) {
	v, ok := codec.ParseVideo(config.Codec)
	if !ok {
		return nil, &backend.Error{Kind: backend.ErrKindNotSupported, Message: fmt.Sprintf("unknown video codec %q", config.Codec)}
	}
	hw := hwaccelFor(config.HardwareAcceleration)
	encoder := codec.GetVideoEncoder(v, hw)
	if encoder == "" {
		return nil, &backend.Error{Kind: backend.ErrKindNotSupported, Message: fmt.Sprintf("codec %q has no encoder", config.Codec)}
	}

	b := ffmpeg.NewCommandBuilder(BinaryPath).
		HideBanner().
		LogLevel("error").
		HWAccel(string(hw)).
		InputArgs(
			"-f", "rawvideo",
			"-pix_fmt", "yuv420p",
			"-s", fmt.Sprintf("%dx%d", config.Width, config.Height),
			"-r", strconv.FormatFloat(orDefault(config.Framerate, 30), 'f', -1, 64),
		).
		Input("pipe:0").
		VideoCodec(encoder)

	if config.BitrateBps > 0 {
		b = b.VideoBitrate(strconv.FormatInt(config.BitrateBps, 10))
	}
	if config.LatencyMode == media.LatencyRealtime {
		b = b.VideoPreset("ultrafast")
	}

	b = b.OutputArgs("-f", outputFormatFor(v)).Output("pipe:1")

	be, err := newBackend(logger, "video-encoder", b.Build(), 0)
	if err != nil {
		return nil, err
	}
	be.videoCodec = v
	return be, nil
}

// NewVideoDecoder builds a Backend that decodes an Annex-B-framed bitstream
// into raw yuv420p frames of the configured coded size.
func NewVideoDecoder(logger *slog.Logger, config *media.VideoDecoderConfig) (backend.Backend, error) {
	v, ok := codec.ParseVideo(config.Codec)
	if !ok {
		return nil, &backend.Error{Kind: backend.ErrKindNotSupported, Message: fmt.Sprintf("unknown video codec %q", config.Codec)}
	}

	b := ffmpeg.NewCommandBuilder(BinaryPath).
		HideBanner().
		LogLevel("error").
		InputArgs("-f", demuxFormatFor(v)).
		Input("pipe:0").
		OutputArgs("-f", "rawvideo", "-pix_fmt", "yuv420p").
		Output("pipe:1")

	frameSize := 0
	if config.CodedWidth > 0 && config.CodedHeight > 0 {
		frameSize = config.CodedWidth * config.CodedHeight * 3 / 2 // yuv420p
	}

	return newBackend(logger, "video-decoder", b.Build(), frameSize)
}

// NewAudioEncoder builds a Backend that encodes interleaved s16le PCM into
// the bitstream named by config.Codec.
func NewAudioEncoder(logger *slog.Logger, config *media.AudioEncoderConfig) (backend.Backend, error) {
	a, ok := codec.ParseAudio(config.Codec)
	if !ok {
		return nil, &backend.Error{Kind: backend.ErrKindNotSupported, Message: fmt.Sprintf("unknown audio codec %q", config.Codec)}
	}
	encoder := codec.GetAudioEncoder(a)

	b := ffmpeg.NewCommandBuilder(BinaryPath).
		HideBanner().
		LogLevel("error").
		InputArgs(
			"-f", "s16le",
			"-ar", strconv.Itoa(config.SampleRate),
			"-ac", strconv.Itoa(config.NumberOfChannels),
		).
		Input("pipe:0").
		AudioCodec(encoder)

	if config.BitrateBps > 0 {
		b = b.AudioBitrate(strconv.FormatInt(config.BitrateBps, 10))
	}

	b = b.OutputArgs("-f", audioOutputFormatFor(a)).Output("pipe:1")

	return newBackend(logger, "audio-encoder", b.Build(), 0)
}

// NewAudioDecoder builds a Backend that decodes an encoded bitstream into
// interleaved s16le PCM.
func NewAudioDecoder(logger *slog.Logger, config *media.AudioDecoderConfig) (backend.Backend, error) {
	a, ok := codec.ParseAudio(config.Codec)
	if !ok {
		return nil, &backend.Error{Kind: backend.ErrKindNotSupported, Message: fmt.Sprintf("unknown audio codec %q", config.Codec)}
	}

	b := ffmpeg.NewCommandBuilder(BinaryPath).
		HideBanner().
		LogLevel("error").
		InputArgs("-f", audioDemuxFormatFor(a)).
		Input("pipe:0").
		OutputArgs(
			"-f", "s16le",
			"-ar", strconv.Itoa(config.SampleRate),
			"-ac", strconv.Itoa(config.NumberOfChannels),
		).
		Output("pipe:1")

	// a 20ms frame at the configured rate/channels, s16 samples.
	frameSize := config.SampleRate / 50 * config.NumberOfChannels * 2

	return newBackend(logger, "audio-decoder", b.Build(), frameSize)
}

func newBackend(logger *slog.Logger, kind string, cmd *ffmpeg.Command, frameSize int) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{
		logger:    logger.With(slog.String("backend", kind)),
		kind:      kind,
		outputCh:  make(chan backend.Output, pendingHighWaterMark),
		errCh:     make(chan error, 1),
		doneCh:    make(chan struct{}),
		frameSize: frameSize,
	}

	stdin, stdout, err := cmd.StartWithPipes(context.Background())
	if err != nil {
		return nil, &backend.Error{Kind: backend.ErrKindFatal, Message: "ffmpeg start", Cause: err}
	}
	b.stdin = stdin
	b.stdout = stdout
	b.cmd = cmd.Cmd()

	b.wg.Add(1)
	go b.readLoop()

	return b, nil
}

// Configure is a no-op: the FFmpeg command line was already built from the
// applied config by the New* constructor above, mirroring how TranscodeJob
// fixes its command at construction time.
func (b *Backend) Configure(ctx context.Context, config any) error {
	return nil
}

// SubmitInput writes one input's raw payload to FFmpeg's stdin.
func (b *Backend) SubmitInput(ctx context.Context, input any, options any) error {
	if b.closed.Load() {
		return &backend.Error{Kind: backend.ErrKindFatal, Message: "backend closed"}
	}
	if b.pending.Load() >= pendingHighWaterMark {
		return backend.ErrSaturated
	}

	data := payloadOf(input)
	if data == nil {
		return &backend.Error{Kind: backend.ErrKindFatal, Message: "unsupported input type for ffmpeg backend"}
	}

	n, err := b.stdin.Write(data)
	if err != nil {
		return &backend.Error{Kind: backend.ErrKindFatal, Message: "ffmpeg stdin write", Cause: err}
	}
	b.bytesIn.Add(uint64(n))
	b.pending.Add(1)
	return nil
}

// payloadOf extracts the raw bytes FFmpeg's stdin expects from whichever
// media type the codec core handed this backend.
func payloadOf(input any) []byte {
	switch v := input.(type) {
	case *media.VideoFrame:
		return v.Data
	case *media.AudioData:
		return v.Data
	case *media.EncodedVideoChunk:
		return v.Data
	case *media.EncodedAudioChunk:
		return v.Data
	default:
		return nil
	}
}

// PollOutput returns the next buffered output, or (nil, nil) if none is
// ready. Non-blocking, per backend.Backend's contract.
func (b *Backend) PollOutput(ctx context.Context) (*backend.Output, error) {
	select {
	case out, ok := <-b.outputCh:
		if !ok {
			return nil, nil
		}
		if b.pending.Load() > 0 {
			b.pending.Add(-1)
		}
		return &out, nil
	case err := <-b.errCh:
		return nil, &backend.Error{Kind: backend.ErrKindFatal, Message: "ffmpeg reported a failure", Cause: err}
	default:
		return nil, nil
	}
}

// WouldSaturate reports whether pending, plus the in-flight count already
// known to the backend, would reach or exceed the high water mark.
func (b *Backend) WouldSaturate(pending int) bool {
	return int64(pending)+b.pending.Load() >= pendingHighWaterMark
}

// SignalEOF closes stdin so FFmpeg flushes its remaining output, then waits
// for the read loop to observe EOF.
func (b *Backend) SignalEOF(ctx context.Context) error {
	_ = b.stdin.Close()
	select {
	case <-b.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset tears down the current process, the same as Close. codecore.Instance
// does not call Reset: it closes the backend on reset and builds a fresh one
// through NewBackend for every configure.
func (b *Backend) Reset(ctx context.Context) error {
	return b.Close()
}

// Pid returns the FFmpeg subprocess's OS process ID, for the resource
// manager's admin surface to sample CPU/RSS against. Returns false once the
// process has been reaped.
func (b *Backend) Pid() (int, bool) {
	if b.closed.Load() || b.cmd.Process == nil {
		return 0, false
	}
	return b.cmd.Process.Pid, true
}

// Close terminates the FFmpeg process and releases its pipes. Idempotent.
func (b *Backend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = b.stdin.Close()
	if b.cmd.Process != nil {
		_ = b.cmd.Process.Kill()
	}
	b.wg.Wait()
	_ = b.cmd.Wait()
	return nil
}

// readLoop drains stdout into outputCh, grounded on TranscodeJob's stdout
// reader goroutine. Fixed-size frame backends (decoders) read exactly
// frameSize bytes per output; self-framing backends (encoders) emit
// whatever one Read call returns, trusting the muxed container format to
// make that a usable unit.
func (b *Backend) readLoop() {
	defer b.wg.Done()
	defer close(b.doneCh)

	r := bufio.NewReaderSize(b.stdout, readBufferSize)
	buf := make([]byte, readBufferSize)
	if b.frameSize > 0 {
		buf = make([]byte, b.frameSize)
	}

	for {
		var n int
		var err error
		if b.frameSize > 0 {
			n, err = io.ReadFull(r, buf)
		} else {
			n, err = r.Read(buf)
		}
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			b.bytesOut.Add(uint64(n))
			isKey := looksLikeKeyframe(b.kind, data)
			out := backend.Output{
				Data:       data,
				IsKeyframe: isKey,
			}
			if b.kind == "video-encoder" && isKey {
				out.Extradata = extractExtradata(b.videoCodec, data)
			}
			select {
			case b.outputCh <- out:
			case <-b.doneCh:
				return
			}
		}
		if err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				select {
				case b.errCh <- err:
				default:
				}
			}
			close(b.outputCh)
			return
		}
	}
}

// looksLikeKeyframe applies a cheap heuristic to video-encoder output: it
// finds the first Annex-B start code and reports a keyframe when the low five
// bits of the following byte equal 5 (an H.264 IDR slice). The same test is
// applied to every video codec; H.265 NAL types are not decoded. Output with
// no start code, output shorter than five bytes, and every output of a
// non-video-encoder backend are reported as key units, since decoders do not
// classify frames and the core does not act on IsKeyframe for decoder output.
func looksLikeKeyframe(kind string, data []byte) bool {
	if kind != "video-encoder" || len(data) < 5 {
		return true
	}
	for i := 0; i+4 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			nalType := data[i+3] & 0x1F
			return nalType == 5 // IDR slice
		}
	}
	return true
}

// extractExtradata pulls the parameter-set NAL units out of an Annex-B
// keyframe access unit and threads them through as the derived decoder
// config's description bytes (SPEC_FULL.md §12.4). It returns nil for
// codecs mediacommon doesn't give us parameter-set classification for;
// the encoder's decoderConfig is then left without a description, which
// a decoder configured from that output would simply have to carry its
// own out-of-band config for.
func extractExtradata(v codec.Video, data []byte) []byte {
	switch v {
	case codec.VideoH264:
		return extractH264Extradata(data)
	case codec.VideoH265:
		return extractH265Extradata(data)
	default:
		return nil
	}
}

func extractH264Extradata(data []byte) []byte {
	var au h264.AnnexB
	if err := au.Unmarshal(data); err != nil {
		return nil
	}
	var sps, pps []byte
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			sps = nalu
		case h264.NALUTypePPS:
			pps = nalu
		}
	}
	if sps == nil || pps == nil {
		return nil
	}
	return annexBJoin(sps, pps)
}

func extractH265Extradata(data []byte) []byte {
	var au h264.AnnexB
	if err := au.Unmarshal(data); err != nil {
		return nil
	}
	var vps, sps, pps []byte
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h265.NALUType((nalu[0] >> 1) & 0x3F) {
		case h265.NALUType_VPS_NUT:
			vps = nalu
		case h265.NALUType_SPS_NUT:
			sps = nalu
		case h265.NALUType_PPS_NUT:
			pps = nalu
		}
	}
	if sps == nil || pps == nil {
		return nil
	}
	return annexBJoin(vps, sps, pps)
}

// annexBJoin concatenates NAL units back into an Annex-B byte stream
// (start code + payload per unit). This is a description format a decoder
// can prepend to its own input, not a parsed AVCC configuration record —
// building the latter is out of scope for an opaque Codec Backend
// (spec.md §6.3).
func annexBJoin(nalus ...[]byte) []byte {
	var out []byte
	startCode := []byte{0, 0, 0, 1}
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		out = append(out, startCode...)
		out = append(out, n...)
	}
	return out
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func hwaccelFor(pref media.HardwareAccelPreference) codec.HWAccel {
	switch pref {
	case media.HWAccelPreferHW:
		return codec.HWAccelAuto
	default:
		return codec.HWAccelNone
	}
}

func outputFormatFor(v codec.Video) string {
	switch v {
	case codec.VideoH264:
		return "h264"
	case codec.VideoH265:
		return "hevc"
	case codec.VideoVP8, codec.VideoVP9:
		return "ivf"
	case codec.VideoAV1:
		return "ivf"
	default:
		return "rawvideo"
	}
}

func demuxFormatFor(v codec.Video) string {
	return outputFormatFor(v)
}

func audioOutputFormatFor(a codec.Audio) string {
	switch a {
	case codec.AudioAAC:
		return "adts"
	case codec.AudioMP3:
		return "mp3"
	case codec.AudioOpus:
		return "ogg"
	default:
		return string(a)
	}
}

func audioDemuxFormatFor(a codec.Audio) string {
	return audioOutputFormatFor(a)
}
