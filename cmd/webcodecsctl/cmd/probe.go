package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/codecbridge/webcodecs/internal/ffmpeg"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Print detected FFmpeg capabilities",
	Long: `Detect the ffmpeg/ffprobe binaries on this system and print their
codec, encoder, decoder, and hardware-acceleration capabilities as JSON.

The ffmpegbackend factories do not run this detection: they check codec
strings against the codec registry and start whatever binary
ffmpegbackend.BinaryPath names.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().Bool("pretty", false, "pretty-print JSON output")
	probeCmd.Flags().Duration("timeout", 30*time.Second, "detection timeout")
}

// probeResult is the JSON shape printed by probe.
type probeResult struct {
	FFmpeg   *ffmpeg.BinaryInfo   `json:"ffmpeg"`
	HWAccels []ffmpeg.HWAccelInfo `json:"hw_accels"`
}

func runProbe(cmd *cobra.Command, _ []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	pretty, _ := cmd.Flags().GetBool("pretty")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	binDetector := ffmpeg.NewBinaryDetector()
	binInfo, err := binDetector.Detect(ctx)
	if err != nil {
		return fmt.Errorf("detecting ffmpeg: %w", err)
	}

	hwDetector := ffmpeg.NewHWAccelDetector(binInfo.FFmpegPath)
	hwAccels, err := hwDetector.Detect(ctx)
	if err != nil {
		logger.Warn("hardware acceleration detection failed", "error", err)
	}

	result := probeResult{FFmpeg: binInfo, HWAccels: hwAccels}

	var output []byte
	if pretty {
		output, err = json.MarshalIndent(result, "", "  ")
	} else {
		output, err = json.Marshal(result)
	}
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	fmt.Fprintln(os.Stdout, string(output))
	return nil
}
