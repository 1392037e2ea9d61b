package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/codecbridge/webcodecs/internal/backend"
	"github.com/codecbridge/webcodecs/internal/backend/ffmpegbackend"
	"github.com/codecbridge/webcodecs/internal/backendrpc"
	"github.com/codecbridge/webcodecs/internal/media"
	"github.com/codecbridge/webcodecs/internal/resourcemgr"
	"github.com/codecbridge/webcodecs/internal/videodecoder"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <input.bin> <output.yuv>",
	Short: "Decode an encoded bitstream through a VideoDecoder instance",
	Long: `Drive a single VideoDecoder instance end to end against one input file:
split the input into fixed-size access units, submit each to the decoder,
and write the resulting raw yuv420p frames to the output file.

Splitting on a fixed chunk size rather than parsing real access-unit
boundaries keeps this one-shot harness independent of any particular
bitstream's framing; the first chunk is submitted as ChunkKey, as the
decoder requires after configure, and every later chunk as ChunkDelta.`,
	Args: cobra.ExactArgs(2),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)

	decodeCmd.Flags().String("codec", "avc1.42001e", "input codec string")
	decodeCmd.Flags().Int("width", 1280, "coded frame width")
	decodeCmd.Flags().Int("height", 720, "coded frame height")
	decodeCmd.Flags().Int("chunk-size", 1<<16, "input chunk size in bytes")
}

func runDecode(cmd *cobra.Command, args []string) error {
	inputPath, outputPath := args[0], args[1]
	codecStr, _ := cmd.Flags().GetString("codec")
	width, _ := cmd.Flags().GetInt("width")
	height, _ := cmd.Flags().GetInt("height")
	chunkSize, _ := cmd.Flags().GetInt("chunk-size")

	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer out.Close()

	stat, err := in.Stat()
	if err != nil {
		return fmt.Errorf("statting input: %w", err)
	}
	totalChunks := int(stat.Size())/chunkSize + 1

	factory, closeFactory, err := videoDecoderBackendFactory()
	if err != nil {
		return err
	}
	defer closeFactory()

	manager := resourcemgr.New(logger)

	var writeErr error
	dec, err := videodecoder.New(videodecoder.Options{
		ID:      "decode-cli",
		GroupID: "decode-cli",
		Logger:  logger,
		Factory: factory,
		OnOutput: func(frame *media.VideoFrame) {
			if _, werr := out.Write(frame.Data); werr != nil && writeErr == nil {
				writeErr = werr
			}
		},
		OnError: func(codecErr error) {
			logger.Error("decoder reported a fatal error", slog.String("error", codecErr.Error()))
		},
	})
	if err != nil {
		return fmt.Errorf("constructing decoder: %w", err)
	}
	unregister := manager.Register(dec)
	defer unregister()

	if err := dec.Configure(&media.VideoDecoderConfig{
		Codec:       codecStr,
		CodedWidth:  width,
		CodedHeight: height,
	}); err != nil {
		return fmt.Errorf("configuring decoder: %w", err)
	}

	color.New(color.FgCyan, color.Bold).Printf("Decoding %s -> %s\n", inputPath, outputPath)
	bar := progressbar.NewOptions(totalChunks,
		progressbar.OptionSetDescription("decoding"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{Saucer: "=", SaucerHead: ">", SaucerPadding: " ", BarStart: "[", BarEnd: "]"}),
	)

	buf := make([]byte, chunkSize)
	var ts time.Duration
	const chunkDuration = 33 * time.Millisecond
	first := true
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			for dec.Saturated() {
				time.Sleep(5 * time.Millisecond)
			}

			data := make([]byte, n)
			copy(data, buf[:n])
			chunkType := media.ChunkDelta
			if first {
				chunkType = media.ChunkKey
				first = false
			}
			chunk := &media.EncodedVideoChunk{Type: chunkType, Data: data, Timestamp: ts, Duration: chunkDuration}
			if err := dec.Decode(chunk); err != nil {
				return fmt.Errorf("decoding chunk: %w", err)
			}
			ts += chunkDuration
			_ = bar.Add(1)
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return fmt.Errorf("reading chunk: %w", rerr)
		}
	}

	waiter, err := dec.Flush()
	if err != nil {
		return fmt.Errorf("flushing decoder: %w", err)
	}
	if err := waiter.Wait(context.Background()); err != nil {
		return fmt.Errorf("waiting for flush: %w", err)
	}
	if err := dec.Close(); err != nil {
		return fmt.Errorf("closing decoder: %w", err)
	}
	if writeErr != nil {
		return fmt.Errorf("writing output: %w", writeErr)
	}

	color.New(color.FgGreen).Println("done")
	return nil
}

// videoDecoderBackendFactory mirrors videoEncoderBackendFactory for the
// VideoDecoder's distinct BackendFactory signature.
func videoDecoderBackendFactory() (videodecoder.BackendFactory, func(), error) {
	if cfg.Backend.BinaryPath != "" {
		ffmpegbackend.BinaryPath = cfg.Backend.BinaryPath
	}

	if cfg.Backend.RemoteAddr == "" {
		return ffmpegbackend.NewVideoDecoder, func() {}, nil
	}

	conn, err := grpc.NewClient(cfg.Backend.RemoteAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("dialing backend sidecar at %s: %w", cfg.Backend.RemoteAddr, err)
	}
	client := backendrpc.NewClient(conn)
	factory := func(_ *slog.Logger, _ *media.VideoDecoderConfig) (backend.Backend, error) {
		return client, nil
	}
	return factory, func() { _ = conn.Close() }, nil
}
