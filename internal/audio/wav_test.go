package audio

import (
	"encoding/binary"
	"testing"
)

func TestEncodeWAVPCM16LEHeader(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	wav := EncodeWAVPCM16LE(pcm, 16000)

	if len(wav) != wavHeaderSize+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), wavHeaderSize+len(pcm))
	}
	if !IsWAV(wav) {
		t.Fatalf("encoded output should probe as WAV")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Fatalf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data size = %d, want %d", got, len(pcm))
	}
}

func TestIsWAVRejectsOtherContainers(t *testing.T) {
	if IsWAV([]byte("\x1aE\xdf\xa3webm-ish-bytes")) {
		t.Fatalf("webm bytes should not probe as WAV")
	}
	if IsWAV([]byte("RIFF")) {
		t.Fatalf("truncated header should not probe as WAV")
	}
}
