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
	"github.com/codecbridge/webcodecs/internal/videoencoder"
)

var encodeCmd = &cobra.Command{
	Use:   "encode <input.yuv> <output.bin>",
	Short: "Encode a raw yuv420p file through a VideoEncoder instance",
	Long: `Drive a single VideoEncoder instance end to end against one input file:
read fixed-size yuv420p frames, submit each to the encoder, and write the
resulting encoded chunks to the output file.

This is a one-shot harness for exercising the codec core manually, not a
general-purpose transcoder; backend.RemoteAddr in configuration selects
between an in-process FFmpeg subprocess and a backendrpc sidecar.`,
	Args: cobra.ExactArgs(2),
	RunE: runEncode,
}

func init() {
	rootCmd.AddCommand(encodeCmd)

	encodeCmd.Flags().String("codec", "avc1.42001e", "output codec string")
	encodeCmd.Flags().Int("width", 1280, "coded frame width")
	encodeCmd.Flags().Int("height", 720, "coded frame height")
	encodeCmd.Flags().Float64("framerate", 30, "source framerate")
	encodeCmd.Flags().Int64("bitrate", 2_000_000, "target bitrate in bits per second")
}

func runEncode(cmd *cobra.Command, args []string) error {
	inputPath, outputPath := args[0], args[1]
	codecStr, _ := cmd.Flags().GetString("codec")
	width, _ := cmd.Flags().GetInt("width")
	height, _ := cmd.Flags().GetInt("height")
	framerate, _ := cmd.Flags().GetFloat64("framerate")
	bitrate, _ := cmd.Flags().GetInt64("bitrate")

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
	frameSize := width * height * 3 / 2 // yuv420p
	totalFrames := int(stat.Size() / int64(frameSize))

	factory, closeFactory, err := videoEncoderBackendFactory()
	if err != nil {
		return err
	}
	defer closeFactory()

	manager := resourcemgr.New(logger)

	var writeErr error
	enc, err := videoencoder.New(videoencoder.Options{
		ID:      "encode-cli",
		GroupID: "encode-cli",
		Logger:  logger,
		Factory: factory,
		OnOutput: func(chunk *media.EncodedVideoChunk, _ *media.EncodedVideoChunkMetadata) {
			if _, werr := out.Write(chunk.Data); werr != nil && writeErr == nil {
				writeErr = werr
			}
		},
		OnError: func(codecErr error) {
			logger.Error("encoder reported a fatal error", slog.String("error", codecErr.Error()))
		},
	})
	if err != nil {
		return fmt.Errorf("constructing encoder: %w", err)
	}
	unregister := manager.Register(enc)
	defer unregister()

	if err := enc.Configure(&media.VideoEncoderConfig{
		Codec:         codecStr,
		Width:         width,
		Height:        height,
		DisplayWidth:  width,
		DisplayHeight: height,
		BitrateBps:    bitrate,
		Framerate:     framerate,
	}); err != nil {
		return fmt.Errorf("configuring encoder: %w", err)
	}

	color.New(color.FgCyan, color.Bold).Printf("Encoding %s -> %s\n", inputPath, outputPath)
	bar := progressbar.NewOptions(totalFrames,
		progressbar.OptionSetDescription("encoding"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{Saucer: "=", SaucerHead: ">", SaucerPadding: " ", BarStart: "[", BarEnd: "]"}),
	)

	buf := make([]byte, frameSize)
	var ts time.Duration
	frameDuration := time.Duration(float64(time.Second) / framerate)
	for {
		if _, rerr := io.ReadFull(in, buf); rerr != nil {
			if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
				break
			}
			return fmt.Errorf("reading frame: %w", rerr)
		}

		for enc.Saturated() {
			time.Sleep(5 * time.Millisecond)
		}

		frameData := make([]byte, frameSize)
		copy(frameData, buf)
		frame := media.NewVideoFrame(frameData, ts, frameDuration, width, height, width, height, media.Orientation{})
		if err := enc.Encode(frame, nil); err != nil {
			return fmt.Errorf("encoding frame: %w", err)
		}
		ts += frameDuration
		_ = bar.Add(1)
	}

	waiter, err := enc.Flush()
	if err != nil {
		return fmt.Errorf("flushing encoder: %w", err)
	}
	if err := waiter.Wait(context.Background()); err != nil {
		return fmt.Errorf("waiting for flush: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("closing encoder: %w", err)
	}
	if writeErr != nil {
		return fmt.Errorf("writing output: %w", writeErr)
	}

	color.New(color.FgGreen).Println("done")
	return nil
}

// videoEncoderBackendFactory selects between an in-process FFmpeg subprocess
// and a backendrpc sidecar based on cfg.Backend.RemoteAddr, returning a
// cleanup func for whichever resources it opened.
func videoEncoderBackendFactory() (videoencoder.BackendFactory, func(), error) {
	if cfg.Backend.BinaryPath != "" {
		ffmpegbackend.BinaryPath = cfg.Backend.BinaryPath
	}

	if cfg.Backend.RemoteAddr == "" {
		return ffmpegbackend.NewVideoEncoder, func() {}, nil
	}

	conn, err := grpc.NewClient(cfg.Backend.RemoteAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("dialing backend sidecar at %s: %w", cfg.Backend.RemoteAddr, err)
	}
	client := backendrpc.NewClient(conn)
	factory := func(_ *slog.Logger, _ *media.VideoEncoderConfig) (backend.Backend, error) {
		return client, nil
	}
	return factory, func() { _ = conn.Close() }, nil
}
