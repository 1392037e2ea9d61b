// Package backendrpc is an out-of-process transport for backend.Backend: it
// lets the FFmpeg engine run in a sandboxed sibling process (a
// "webcodecs-ffmpegd" daemon, named after the pattern this module's teacher
// uses for its own ffmpeg sidecar) reached over gRPC instead of linked into
// the host process. Client satisfies backend.Backend over the wire; Server
// hosts a concrete backend.Backend (normally an ffmpegbackend.Backend) and
// answers the RPCs Client issues.
//
// There is no .proto file here. Every message is carried as a
// structpb.Struct, protobuf's own generic "parsed JSON" value type, with a
// "kind" discriminator field selecting how the core (media, backend)
// domain types on each side marshal into and out of it. This keeps the wire
// format schemaless but still genuinely protobuf: structpb.Struct already
// implements proto.Message, so grpc's built-in protobuf codec marshals and
// unmarshals it without any generated code.
package backendrpc

import (
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/codecbridge/webcodecs/internal/backend"
	"github.com/codecbridge/webcodecs/internal/media"
)

func timeDuration(v float64) time.Duration {
	return time.Duration(int64(v))
}

func encodeBytes(b []byte) string {
	if b == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

func decodeBytes(s string) []byte {
	if s == "" {
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("backendrpc: encode struct: %w", err)
	}
	return s, nil
}

func str(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func num(m map[string]any, key string) float64 {
	v, _ := m[key].(float64)
	return v
}

func boolean(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

// encodeConfig converts one of the four media.*Config types Configure
// accepts into a discriminated structpb envelope.
func encodeConfig(config any) (*structpb.Struct, error) {
	switch c := config.(type) {
	case *media.VideoEncoderConfig:
		fields := map[string]any{
			"kind":                 "video-encoder-config",
			"codec":                c.Codec,
			"width":                float64(c.Width),
			"height":               float64(c.Height),
			"displayWidth":         float64(c.DisplayWidth),
			"displayHeight":        float64(c.DisplayHeight),
			"bitrateBps":           float64(c.BitrateBps),
			"framerate":            c.Framerate,
			"hardwareAcceleration": string(c.HardwareAcceleration),
			"alpha":                string(c.Alpha),
			"latencyMode":          string(c.LatencyMode),
			"bitrateMode":          string(c.BitrateMode),
		}
		if c.ScalabilityMode != nil {
			fields["temporalLayers"] = float64(c.ScalabilityMode.TemporalLayers)
			fields["spatialLayers"] = float64(c.ScalabilityMode.SpatialLayers)
		}
		return newStruct(fields)
	case *media.VideoDecoderConfig:
		return newStruct(map[string]any{
			"kind":                 "video-decoder-config",
			"codec":                c.Codec,
			"codedWidth":           float64(c.CodedWidth),
			"codedHeight":          float64(c.CodedHeight),
			"displayAspectWidth":   float64(c.DisplayAspectWidth),
			"displayAspectHeight":  float64(c.DisplayAspectHeight),
			"description":          encodeBytes(c.Description),
			"colorSpace":           c.ColorSpace,
			"hardwareAcceleration": string(c.HardwareAcceleration),
			"rotation":             float64(c.Rotation),
			"flip":                 c.Flip,
		})
	case *media.AudioEncoderConfig:
		return newStruct(map[string]any{
			"kind":             "audio-encoder-config",
			"codec":            c.Codec,
			"sampleRate":       float64(c.SampleRate),
			"numberOfChannels": float64(c.NumberOfChannels),
			"bitrateBps":       float64(c.BitrateBps),
			"bitrateMode":      string(c.BitrateMode),
		})
	case *media.AudioDecoderConfig:
		return newStruct(map[string]any{
			"kind":             "audio-decoder-config",
			"codec":            c.Codec,
			"sampleRate":       float64(c.SampleRate),
			"numberOfChannels": float64(c.NumberOfChannels),
			"description":      encodeBytes(c.Description),
		})
	default:
		return nil, fmt.Errorf("backendrpc: unsupported config type %T", config)
	}
}

func decodeConfig(s *structpb.Struct) (any, error) {
	m := s.AsMap()
	switch str(m, "kind") {
	case "video-encoder-config":
		cfg := &media.VideoEncoderConfig{
			Codec:                str(m, "codec"),
			Width:                int(num(m, "width")),
			Height:               int(num(m, "height")),
			DisplayWidth:         int(num(m, "displayWidth")),
			DisplayHeight:        int(num(m, "displayHeight")),
			BitrateBps:           int64(num(m, "bitrateBps")),
			Framerate:            num(m, "framerate"),
			HardwareAcceleration: media.HardwareAccelPreference(str(m, "hardwareAcceleration")),
			Alpha:                media.AlphaOption(str(m, "alpha")),
			LatencyMode:          media.LatencyMode(str(m, "latencyMode")),
			BitrateMode:          media.BitrateMode(str(m, "bitrateMode")),
		}
		if _, ok := m["temporalLayers"]; ok {
			cfg.ScalabilityMode = &media.ScalabilityMode{
				TemporalLayers: int(num(m, "temporalLayers")),
				SpatialLayers:  int(num(m, "spatialLayers")),
			}
		}
		return cfg, nil
	case "video-decoder-config":
		return &media.VideoDecoderConfig{
			Codec:                str(m, "codec"),
			CodedWidth:           int(num(m, "codedWidth")),
			CodedHeight:          int(num(m, "codedHeight")),
			DisplayAspectWidth:   int(num(m, "displayAspectWidth")),
			DisplayAspectHeight:  int(num(m, "displayAspectHeight")),
			Description:          decodeBytes(str(m, "description")),
			ColorSpace:           str(m, "colorSpace"),
			HardwareAcceleration: media.HardwareAccelPreference(str(m, "hardwareAcceleration")),
			Rotation:             int(num(m, "rotation")),
			Flip:                 boolean(m, "flip"),
		}, nil
	case "audio-encoder-config":
		return &media.AudioEncoderConfig{
			Codec:            str(m, "codec"),
			SampleRate:       int(num(m, "sampleRate")),
			NumberOfChannels: int(num(m, "numberOfChannels")),
			BitrateBps:       int64(num(m, "bitrateBps")),
			BitrateMode:      media.BitrateMode(str(m, "bitrateMode")),
		}, nil
	case "audio-decoder-config":
		return &media.AudioDecoderConfig{
			Codec:            str(m, "codec"),
			SampleRate:       int(num(m, "sampleRate")),
			NumberOfChannels: int(num(m, "numberOfChannels")),
			Description:      decodeBytes(str(m, "description")),
		}, nil
	default:
		return nil, fmt.Errorf("backendrpc: unrecognized config kind %q", str(m, "kind"))
	}
}

// encodeInput converts one of the four payload types SubmitInput accepts.
func encodeInput(input any) (*structpb.Struct, error) {
	switch in := input.(type) {
	case *media.VideoFrame:
		return newStruct(map[string]any{
			"kind":          "video-frame",
			"data":          encodeBytes(in.Data),
			"timestamp":     float64(in.Timestamp),
			"duration":      float64(in.Duration),
			"codedWidth":    float64(in.CodedWidth),
			"codedHeight":   float64(in.CodedHeight),
			"displayWidth":  float64(in.DisplayWidth),
			"displayHeight": float64(in.DisplayHeight),
			"rotation":      float64(in.Orientation.Rotation),
			"flip":          in.Orientation.Flip,
		})
	case *media.AudioData:
		return newStruct(map[string]any{
			"kind":             "audio-data",
			"data":             encodeBytes(in.Data),
			"timestamp":        float64(in.Timestamp),
			"duration":         float64(in.Duration),
			"sampleRate":       float64(in.SampleRate),
			"numberOfChannels": float64(in.NumberOfChannels),
			"numberOfFrames":   float64(in.NumberOfFrames),
		})
	case *media.EncodedVideoChunk:
		return newStruct(map[string]any{
			"kind":      "encoded-video-chunk",
			"chunkType": string(in.Type),
			"data":      encodeBytes(in.Data),
			"timestamp": float64(in.Timestamp),
			"duration":  float64(in.Duration),
		})
	case *media.EncodedAudioChunk:
		return newStruct(map[string]any{
			"kind":      "encoded-audio-chunk",
			"chunkType": string(in.Type),
			"data":      encodeBytes(in.Data),
			"timestamp": float64(in.Timestamp),
			"duration":  float64(in.Duration),
		})
	default:
		return nil, fmt.Errorf("backendrpc: unsupported input type %T", input)
	}
}

func decodeInput(s *structpb.Struct) (any, error) {
	m := s.AsMap()
	switch str(m, "kind") {
	case "video-frame":
		return &media.VideoFrame{
			Data:          decodeBytes(str(m, "data")),
			Timestamp:     timeDuration(num(m, "timestamp")),
			Duration:      timeDuration(num(m, "duration")),
			CodedWidth:    int(num(m, "codedWidth")),
			CodedHeight:   int(num(m, "codedHeight")),
			DisplayWidth:  int(num(m, "displayWidth")),
			DisplayHeight: int(num(m, "displayHeight")),
			Orientation: media.Orientation{
				Rotation: int(num(m, "rotation")),
				Flip:     boolean(m, "flip"),
			},
		}, nil
	case "audio-data":
		return &media.AudioData{
			Data:             decodeBytes(str(m, "data")),
			Timestamp:        timeDuration(num(m, "timestamp")),
			Duration:         timeDuration(num(m, "duration")),
			SampleRate:       int(num(m, "sampleRate")),
			NumberOfChannels: int(num(m, "numberOfChannels")),
			NumberOfFrames:   int(num(m, "numberOfFrames")),
		}, nil
	case "encoded-video-chunk":
		return &media.EncodedVideoChunk{
			Type:      media.ChunkType(str(m, "chunkType")),
			Data:      decodeBytes(str(m, "data")),
			Timestamp: timeDuration(num(m, "timestamp")),
			Duration:  timeDuration(num(m, "duration")),
		}, nil
	case "encoded-audio-chunk":
		return &media.EncodedAudioChunk{
			Type:      media.ChunkType(str(m, "chunkType")),
			Data:      decodeBytes(str(m, "data")),
			Timestamp: timeDuration(num(m, "timestamp")),
			Duration:  timeDuration(num(m, "duration")),
		}, nil
	default:
		return nil, fmt.Errorf("backendrpc: unrecognized input kind %q", str(m, "kind"))
	}
}

// encodeOptions converts the one options type the core currently issues
// (VideoEncodeOptions). A nil options value encodes to {"kind": "none"}.
func encodeOptions(options any) (*structpb.Struct, error) {
	switch opt := options.(type) {
	case nil:
		return newStruct(map[string]any{"kind": "none"})
	case *media.VideoEncodeOptions:
		if opt == nil {
			return newStruct(map[string]any{"kind": "none"})
		}
		return newStruct(map[string]any{"kind": "video-encode-options", "keyFrame": opt.KeyFrame})
	default:
		return nil, fmt.Errorf("backendrpc: unsupported options type %T", options)
	}
}

func decodeOptions(s *structpb.Struct) (any, error) {
	m := s.AsMap()
	switch str(m, "kind") {
	case "video-encode-options":
		return &media.VideoEncodeOptions{KeyFrame: boolean(m, "keyFrame")}, nil
	default:
		return nil, nil
	}
}

// encodeOutput converts a backend.Output. A nil output (PollOutput found
// nothing ready) encodes to an empty struct with "present": false.
func encodeOutput(out *backend.Output) (*structpb.Struct, error) {
	if out == nil {
		return newStruct(map[string]any{"present": false})
	}
	return newStruct(map[string]any{
		"present":               true,
		"data":                  encodeBytes(out.Data),
		"isKeyframe":            out.IsKeyframe,
		"presentationTimestamp": float64(out.PresentationTimestamp),
		"duration":              float64(out.Duration),
		"extradata":             encodeBytes(out.Extradata),
		"alphaSideData":         encodeBytes(out.AlphaSideData),
		"temporalLayerId":       float64(out.TemporalLayerID),
	})
}

func decodeOutput(s *structpb.Struct) *backend.Output {
	m := s.AsMap()
	if !boolean(m, "present") {
		return nil
	}
	return &backend.Output{
		Data:                  decodeBytes(str(m, "data")),
		IsKeyframe:            boolean(m, "isKeyframe"),
		PresentationTimestamp: int64(num(m, "presentationTimestamp")),
		Duration:              int64(num(m, "duration")),
		Extradata:             decodeBytes(str(m, "extradata")),
		AlphaSideData:         decodeBytes(str(m, "alphaSideData")),
		TemporalLayerID:       int(num(m, "temporalLayerId")),
	}
}
