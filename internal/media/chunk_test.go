package media

import "testing"

func TestEncodedVideoChunkDetach(t *testing.T) {
	chunk := &EncodedVideoChunk{Type: ChunkKey, Data: []byte{1, 2}}

	if chunk.Detached() {
		t.Fatalf("new chunk reports detached")
	}
	if !chunk.Detach() {
		t.Errorf("first Detach() = false, want true")
	}
	if chunk.Detach() {
		t.Errorf("second Detach() = true, want false")
	}
	if !chunk.Detached() {
		t.Errorf("Detached() = false after Detach()")
	}
}

func TestEncodedAudioChunkDetach(t *testing.T) {
	chunk := &EncodedAudioChunk{Type: ChunkDelta, Data: []byte{9}}

	if !chunk.Detach() {
		t.Errorf("first Detach() = false, want true")
	}
	if chunk.Detach() {
		t.Errorf("second Detach() = true, want false")
	}
}
