package media

import "testing"

func TestOrientationEqual(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Orientation
		expected bool
	}{
		{"identical", Orientation{Rotation: 90, Flip: true}, Orientation{Rotation: 90, Flip: true}, true},
		{"different rotation", Orientation{Rotation: 90}, Orientation{Rotation: 180}, false},
		{"different flip", Orientation{Flip: true}, Orientation{Flip: false}, false},
		{"zero values", Orientation{}, Orientation{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.expected {
				t.Errorf("Equal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestVideoFrameDetachAndClone(t *testing.T) {
	frame := NewVideoFrame([]byte{1, 2, 3}, 0, 0, 640, 480, 640, 480, Orientation{})

	if frame.Detached() {
		t.Fatalf("new frame reports detached")
	}

	clone := frame.Clone()
	if clone == nil {
		t.Fatalf("Clone() = nil on a fresh frame")
	}
	if !frame.Detached() {
		t.Errorf("original frame not detached after Clone()")
	}
	if &clone.Data[0] == &frame.Data[0] {
		t.Errorf("clone shares backing array with original")
	}
	if clone.CodedWidth != 640 || clone.CodedHeight != 480 {
		t.Errorf("clone did not copy coded dimensions")
	}

	if again := frame.Clone(); again != nil {
		t.Errorf("Clone() on an already-detached frame = %v, want nil", again)
	}
}

func TestVideoFrameDetachIdempotent(t *testing.T) {
	frame := NewVideoFrame([]byte{1}, 0, 0, 1, 1, 1, 1, Orientation{})

	if !frame.Detach() {
		t.Fatalf("first Detach() = false, want true")
	}
	if frame.Detach() {
		t.Errorf("second Detach() = true, want false")
	}
}

func TestAudioDataClone(t *testing.T) {
	data := NewAudioData([]byte{1, 2, 3, 4}, 0, 48000, 2, 1024)

	if data.Duration <= 0 {
		t.Errorf("Duration = %v, want positive", data.Duration)
	}

	clone := data.Clone()
	if clone == nil {
		t.Fatalf("Clone() = nil on fresh audio data")
	}
	if !data.Detached() {
		t.Errorf("original audio data not detached after Clone()")
	}
	if clone.SampleRate != 48000 || clone.NumberOfChannels != 2 {
		t.Errorf("clone did not preserve sample rate/channels")
	}

	if again := data.Clone(); again != nil {
		t.Errorf("Clone() on already-detached audio data = %v, want nil", again)
	}
}

func TestAudioDataZeroSampleRate(t *testing.T) {
	data := NewAudioData(nil, 0, 0, 2, 1024)
	if data.Duration != 0 {
		t.Errorf("Duration = %v, want 0 when sampleRate is 0", data.Duration)
	}
}
